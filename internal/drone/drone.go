// Package drone implements the packet-handling state machine of a single
// overlay-network drone: routing validation, forwarding, the probabilistic
// drop and NACK model, flood-request deduplication and response synthesis,
// and the command-driven lifecycle (including graceful crash drain).
//
// A Drone owns its mutable state exclusively; nothing here is safe to call
// concurrently with Run from another goroutine — all state mutation and
// packet handling happens inside the single event-loop goroutine started
// by Run, matching the "single actor per drone" scheduling model (spec §5).
package drone

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/dronefabric/drone/internal/floodcache"
	"github.com/dronefabric/drone/internal/packet"
)

// State is the drone's lifecycle stage (spec §3, §4.6).
type State uint8

const (
	StateCreated State = iota
	StateRunning
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Config configures a Drone at construction time. Neighbors and
// DropRate may be changed later via AddSender/RemoveSender/
// SetPacketDropRate commands.
type Config struct {
	// ID is this drone's identity. Immutable for the drone's lifetime.
	ID NodeId

	// Neighbors is the initial mapping of neighbor id to egress channel.
	// May be nil or empty; neighbors can be added later via AddSender.
	Neighbors map[NodeId]Egress

	// DropRate is the initial packet-drop rate, clamped to [0.0, 1.0].
	DropRate float32

	// Commands is the controller-command inbound channel. Required.
	Commands <-chan Command

	// Packets is the packet inbound channel. Required.
	Packets <-chan *packet.Packet

	// Events is the controller-event outbound channel. Required; sends
	// on it are always best-effort (spec §6).
	Events chan<- Event

	// FloodCacheCapacity bounds the number of flood ids remembered per
	// initiator. See internal/floodcache. Zero falls back to
	// floodcache.DefaultCapacity.
	FloodCacheCapacity int

	// Logger is used for lifecycle diagnostics (loop start, crash, channel
	// closure); individual packets are not logged. Falls back to
	// slog.Default() if nil.
	Logger *slog.Logger
}

// Drone is a single forwarding actor in the overlay fabric. Construct with
// New and run its event loop with Run.
type Drone struct {
	id  NodeId
	pdr float32

	neighbors map[NodeId]Egress
	floodseen *floodcache.Cache
	state     State

	commandRx <-chan Command
	packetRx  <-chan *packet.Packet
	events    chan<- Event

	log *slog.Logger

	// drawDrop draws a uniform sample in [0, 1) for the probabilistic
	// drop model. Overridable in tests for deterministic behavior;
	// production always uses the process-wide math/rand/v2 source, which
	// is never seeded deterministically.
	drawDrop func() float64
}

// New constructs a Drone in the Created state. It performs no I/O and does
// not start the event loop — call Run for that.
func New(cfg Config) *Drone {
	if cfg.Commands == nil {
		panic("drone: Config.Commands is required")
	}
	if cfg.Packets == nil {
		panic("drone: Config.Packets is required")
	}
	if cfg.Events == nil {
		panic("drone: Config.Events is required")
	}

	neighbors := make(map[NodeId]Egress, len(cfg.Neighbors))
	for id, eg := range cfg.Neighbors {
		neighbors[id] = eg
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Drone{
		id:        cfg.ID,
		pdr:       clampRate(cfg.DropRate),
		neighbors: neighbors,
		floodseen: floodcache.New(cfg.FloodCacheCapacity),
		state:     StateCreated,
		commandRx: cfg.Commands,
		packetRx:  cfg.Packets,
		events:    cfg.Events,
		log:       logger.WithGroup("drone").With("id", fmt.Sprint(cfg.ID)),
		drawDrop:  rand.Float64,
	}
}

// State returns the drone's current lifecycle stage.
func (d *Drone) State() State {
	return d.state
}

// DropRate returns the drone's current packet-drop rate.
func (d *Drone) DropRate() float32 {
	return d.pdr
}

func clampRate(r float32) float32 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

// sendEvent delivers an event to the controller on a best-effort basis: a
// full or closed events channel is silently swallowed, never propagated as
// a failure to the caller (spec §6, §7).
func (d *Drone) sendEvent(ev Event) {
	defer func() { recover() }()
	select {
	case d.events <- ev:
	default:
	}
}
