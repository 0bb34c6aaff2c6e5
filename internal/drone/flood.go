package drone

import "github.com/dronefabric/drone/internal/packet"

// handleFloodRequest implements the flood engine of spec §4.5: dedup the
// (initiator_id, flood_id) pair, extend the path trace with this drone,
// and either synthesize a FloodResponse (duplicate, or a terminal branch
// of a tree) or re-broadcast the extended request to every neighbor but
// the one it arrived from.
func (d *Drone) handleFloodRequest(pkt *packet.Packet) {
	fr := pkt.FloodRequest

	senderID := fr.InitiatorID
	if n := len(fr.PathTrace); n > 0 {
		senderID = fr.PathTrace[n-1].Node
	}

	fr.PathTrace = append(fr.PathTrace, packet.PathEntry{Node: d.id, Type: packet.NodeTypeDrone})

	duplicate := d.floodseen.Insert(fr.InitiatorID, fr.FloodID)

	if duplicate || d.onlyNeighborIs(senderID) {
		d.respondToFlood(pkt, fr)
		return
	}

	d.broadcastFlood(pkt, fr, senderID)
}

// onlyNeighborIs reports whether this drone's sole neighbor is id — the
// terminal branch of a tree, where re-broadcasting would only echo the
// flood back the way it came.
func (d *Drone) onlyNeighborIs(id NodeId) bool {
	if len(d.neighbors) != 1 {
		return false
	}
	for nid := range d.neighbors {
		return nid == id
	}
	return false
}

// respondToFlood synthesizes a FloodResponse along the reversed,
// simplified path trace and forwards it toward the flood's initiator.
func (d *Drone) respondToFlood(pkt *packet.Packet, fr *packet.FloodRequest) {
	hops := make([]NodeId, len(fr.PathTrace))
	for i, entry := range fr.PathTrace {
		hops[len(hops)-1-i] = entry.Node
	}
	if len(hops) == 0 || hops[len(hops)-1] != fr.InitiatorID {
		hops = append(hops, fr.InitiatorID)
	}
	hops = simplifyPath(hops)

	respPkt := &packet.Packet{
		Header:    packet.SourceRoutingHeader{HopIndex: 0, Hops: hops},
		SessionID: pkt.SessionID,
		Kind:      packet.KindFloodResponse,
		FloodResponse: &packet.FloodResponse{
			FloodID:   fr.FloodID,
			PathTrace: fr.PathTrace,
		},
	}

	if len(hops) < 2 {
		d.sendEvent(ControllerShortcut{Packet: respPkt})
		return
	}
	if _, known := d.neighbors[hops[1]]; known {
		d.forward(respPkt, hops[1])
		return
	}
	d.sendEvent(ControllerShortcut{Packet: respPkt})
}

// simplifyPath collapses the loop that arises when a flood entered and
// returned through the same drone: it finds the last position at which
// the first element reappears and drops everything strictly before it,
// so the response begins at the furthest occurrence of the responding
// drone and proceeds outward to the initiator.
func simplifyPath(hops []NodeId) []NodeId {
	if len(hops) == 0 {
		return hops
	}
	src := hops[0]
	cut := 0
	for i, h := range hops {
		if h == src {
			cut = i
		}
	}
	return hops[cut:]
}

// broadcastFlood re-broadcasts the extended FloodRequest to every
// neighbor except the one it arrived from. Floods are not source-routed:
// the outgoing header carries an empty hop list and a zero hop index.
// Send failures (a departed neighbor) are silently skipped.
func (d *Drone) broadcastFlood(pkt *packet.Packet, fr *packet.FloodRequest, senderID NodeId) {
	for id, eg := range d.neighbors {
		if id == senderID {
			continue
		}
		fwd := &packet.Packet{
			Header:       packet.SourceRoutingHeader{HopIndex: 0},
			SessionID:    pkt.SessionID,
			Kind:         packet.KindFloodRequest,
			FloodRequest: fr,
		}
		if eg.send(fwd.Clone()) {
			d.sendEvent(PacketSent{Packet: fwd})
		}
	}
}
