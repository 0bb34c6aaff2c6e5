// Package wsctl bridges a drone's controller command/event channels to a
// remote controller over a websocket, so a simulation harness can drive and
// observe a drone from outside the process. Commands that reference
// in-process state (AddSender's egress channel) have no wire
// representation and are not carried by this protocol — see DESIGN.md.
package wsctl

import (
	"encoding/json"
	"fmt"

	"github.com/dronefabric/drone/internal/drone"
	"github.com/dronefabric/drone/internal/packet"
)

// commandWire is the JSON envelope for the remotely-issuable subset of
// drone.Command.
type commandWire struct {
	Type   string  `json:"type"`
	NodeID uint8   `json:"node_id,omitempty"`
	Rate   float32 `json:"rate,omitempty"`
}

// eventWire is the JSON envelope for drone.Event.
type eventWire struct {
	Type   string         `json:"type"`
	Packet *packet.Packet `json:"packet,omitempty"`
}

// decodeCommand parses a remote command message into a drone.Command.
func decodeCommand(data []byte) (drone.Command, error) {
	var w commandWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("wsctl: decoding command: %w", err)
	}

	switch w.Type {
	case "remove_sender":
		return drone.RemoveSender{NodeID: drone.NodeId(w.NodeID)}, nil
	case "set_packet_drop_rate":
		return drone.SetPacketDropRate{Rate: w.Rate}, nil
	case "crash":
		return drone.Crash{}, nil
	default:
		return nil, fmt.Errorf("wsctl: unknown command type %q", w.Type)
	}
}

// encodeEvent serializes a drone.Event for transmission to the controller.
func encodeEvent(ev drone.Event) ([]byte, error) {
	var w eventWire
	switch e := ev.(type) {
	case drone.PacketSent:
		w = eventWire{Type: "packet_sent", Packet: e.Packet}
	case drone.PacketDropped:
		w = eventWire{Type: "packet_dropped", Packet: e.Packet}
	case drone.ControllerShortcut:
		w = eventWire{Type: "controller_shortcut", Packet: e.Packet}
	default:
		return nil, fmt.Errorf("wsctl: unknown event type %T", ev)
	}
	return json.Marshal(w)
}
