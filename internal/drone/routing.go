package drone

import "github.com/dronefabric/drone/internal/packet"

// nackCause pairs a NackType with the NodeId payload it carries, if any
// (ErrorInRouting's unreachable next hop, or UnexpectedRecipient's
// rejecting drone). Node is unused for Dropped and DestinationIsDrone.
type nackCause struct {
	Type packet.NackType
	Node NodeId
}

// validateRoute implements the routing validator of spec §4.2: a pure
// function of the header and the current neighbor table. It returns the
// next hop on success, or a nackCause describing why the header could not
// be validated.
func (d *Drone) validateRoute(h packet.SourceRoutingHeader) (next NodeId, cause nackCause, ok bool) {
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) || h.Hops[h.HopIndex] != d.id {
		return 0, nackCause{Type: packet.NackUnexpectedRecipient, Node: d.id}, false
	}

	nextIndex := h.HopIndex + 1
	if nextIndex >= len(h.Hops) {
		return 0, nackCause{Type: packet.NackDestinationIsDrone}, false
	}

	next = h.Hops[nextIndex]
	if _, known := d.neighbors[next]; !known {
		return 0, nackCause{Type: packet.NackErrorInRouting, Node: next}, false
	}

	return next, nackCause{}, true
}
