// Package bridge defines the boundary between a drone's in-process event
// loop (internal/drone) and the outside world: simulated radio links that
// carry packets to and from neighbors, and the controller link that carries
// commands and events. Concrete links live in the mqttsim, serialradio and
// wsctl subpackages; this package holds the interfaces and wire codec they
// share.
package bridge

import (
	"context"

	"github.com/dronefabric/drone/internal/packet"
)

// Link is a packet-carrying connection to a single neighbor, independent of
// the underlying medium (MQTT topic, serial port, in-process channel).
type Link interface {
	// Start begins the link's connection and read loop. The context
	// controls the link's lifetime; Start returns once the initial
	// connection attempt succeeds or fails.
	Start(ctx context.Context) error
	// Stop gracefully tears the link down.
	Stop() error
	// IsConnected reports whether the link is currently usable.
	IsConnected() bool
	// SetPacketHandler installs the callback invoked for every packet
	// the link receives.
	SetPacketHandler(fn PacketHandler)
	// SetStateHandler installs the callback invoked on connection state
	// transitions.
	SetStateHandler(fn StateHandler)
	// Send encodes and transmits a packet over the link.
	Send(pkt *packet.Packet) error
}

// PacketHandler is invoked when a link receives a packet from its neighbor.
type PacketHandler func(pkt *packet.Packet, source Source)

// StateHandler is invoked when a link's connection state changes.
type StateHandler func(link Link, event Event)

// Event enumerates link connection state transitions.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
	EventReconnecting
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Source identifies which medium delivered a packet.
type Source int

const (
	SourceMQTT Source = iota
	SourceSerial
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceMQTT:
		return "mqtt"
	case SourceSerial:
		return "serial"
	case SourceLocal:
		return "local"
	default:
		return "unknown"
	}
}
