package drone

import "github.com/dronefabric/drone/internal/packet"

// Event is the tagged union of notifications a drone emits to its
// controller (spec §3, §6). Emission is always best-effort: a full or
// closed controller channel never blocks or fails packet processing.
type Event interface {
	isEvent()
}

// PacketSent reports a successful send to a neighbor's egress.
type PacketSent struct {
	Packet *packet.Packet
}

// PacketDropped reports a MsgFragment discarded by the probabilistic drop
// model (cause Dropped only — routing-error drops do not emit this).
type PacketDropped struct {
	Packet *packet.Packet
}

// ControllerShortcut asks the controller to splice a packet through
// out-of-band because its source route is broken at this hop.
type ControllerShortcut struct {
	Packet *packet.Packet
}

func (PacketSent) isEvent()         {}
func (PacketDropped) isEvent()      {}
func (ControllerShortcut) isEvent() {}
