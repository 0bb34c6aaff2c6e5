package drone

import "github.com/dronefabric/drone/internal/packet"

// Command is the tagged union of lifecycle instructions a simulation
// controller issues to a drone over its command channel (spec §3, §4.6).
type Command interface {
	isCommand()
}

// AddSender registers (or replaces) the egress channel for a neighbor.
type AddSender struct {
	NodeID NodeId
	Egress Egress
}

// RemoveSender drops a neighbor's egress channel. A no-op if the neighbor
// is not currently registered.
type RemoveSender struct {
	NodeID NodeId
}

// SetPacketDropRate updates the drone's packet-drop rate. Rate is clamped
// to [0.0, 1.0] when applied.
type SetPacketDropRate struct {
	Rate float32
}

// Crash begins the drone's shutdown: the drone stops accepting new work
// logically (every subsequent MsgFragment is NACKed, every other packet is
// shortcut to the controller) but keeps servicing its event loop until the
// packet channel closes.
type Crash struct{}

func (AddSender) isCommand()         {}
func (RemoveSender) isCommand()      {}
func (SetPacketDropRate) isCommand() {}
func (Crash) isCommand()             {}

// NodeId is re-exported for callers constructing commands/events without
// importing the packet package directly.
type NodeId = packet.NodeId
