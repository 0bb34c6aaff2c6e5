// Command drone runs a single fabric drone process: it wires the drone
// event loop to its configured links (simulated MQTT, serial radio) and to
// a controller websocket bridge, then runs until the context is canceled or
// a link reports a fatal error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dronefabric/drone/bridge"
	"github.com/dronefabric/drone/bridge/mqttsim"
	"github.com/dronefabric/drone/bridge/serialradio"
	"github.com/dronefabric/drone/bridge/wsctl"
	"github.com/dronefabric/drone/internal/drone"
	"github.com/dronefabric/drone/internal/packet"
)

func main() {
	if err := run(); err != nil {
		slog.Error("drone exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		id          = flag.Uint("id", 0, "this drone's node id (0-255)")
		dropRate    = flag.Float64("drop-rate", 0.0, "initial packet drop rate [0.0, 1.0]")
		listenAddr  = flag.String("listen", ":8080", "controller websocket listen address")
		mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL for simulated links (optional)")
		fabricID    = flag.String("fabric-id", "", "simulated fabric id, required if -mqtt-broker is set")
		mqttPeers   = flag.String("mqtt-peers", "", "comma-separated neighborID=peerID pairs for MQTT-simulated links")
		serialPorts = flag.String("serial-ports", "", "comma-separated neighborID=devicePath pairs for serial links")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).WithGroup("cmd").With("node_id", *id)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	commands := make(chan drone.Command)
	events := make(chan drone.Event, 64)
	packets := make(chan *packet.Packet)
	neighbors := make(map[drone.NodeId]drone.Egress)

	links, err := buildLinks(logger, drone.NodeId(*id), *mqttBroker, *fabricID, *mqttPeers, *serialPorts, packets, neighbors)
	if err != nil {
		return fmt.Errorf("building links: %w", err)
	}

	d := drone.New(drone.Config{
		ID:        drone.NodeId(*id),
		Neighbors: neighbors,
		DropRate:  float32(*dropRate),
		Commands:  commands,
		Packets:   packets,
		Events:    events,
		Logger:    logger,
	})

	ctl := wsctl.New(wsctl.Config{Commands: commands, Events: events, Logger: logger})
	mux := http.NewServeMux()
	mux.Handle("/control", ctl)
	httpServer := &http.Server{Addr: *listenAddr, Handler: mux}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		d.Run()
		return nil
	})

	for _, l := range links {
		l := l
		group.Go(func() error {
			return l.Start(groupCtx)
		})
	}

	group.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		select {
		case <-groupCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		close(commands)
		for _, l := range links {
			l.Stop()
		}
		return nil
	})

	return group.Wait()
}

// buildLinks constructs the configured simulated/physical links and
// registers each one's egress in neighbors, wiring its inbound packets back
// onto packets (as if they arrived from the drone's packet channel) and its
// own outbound sends through Send.
func buildLinks(logger *slog.Logger, self drone.NodeId, mqttBroker, fabricID, mqttPeers, serialPorts string, packets chan<- *packet.Packet, neighbors map[drone.NodeId]drone.Egress) ([]bridge.Link, error) {
	var links []bridge.Link

	for _, pair := range splitPairs(mqttPeers) {
		if mqttBroker == "" || fabricID == "" {
			return nil, errors.New("-mqtt-broker and -fabric-id are required when -mqtt-peers is set")
		}
		neighborID, peerID, err := parseNeighborPair(pair)
		if err != nil {
			return nil, fmt.Errorf("invalid -mqtt-peers entry: %w", err)
		}

		link := mqttsim.New(mqttsim.Config{
			Broker:   mqttBroker,
			FabricID: fabricID,
			LocalID:  self,
			PeerID:   packet.NodeId(peerID),
			Logger:   logger,
		})
		link.SetPacketHandler(func(pkt *packet.Packet, _ bridge.Source) {
			packets <- pkt
		})
		neighbors[drone.NodeId(neighborID)] = adaptLinkEgress(logger, link, packet.NodeId(neighborID))
		links = append(links, link)
	}

	for _, pair := range splitPairs(serialPorts) {
		neighborStr, devicePath, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -serial-ports entry %q, want neighborID=devicePath", pair)
		}
		neighborID, err := strconv.ParseUint(neighborStr, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid neighbor id in %q: %w", pair, err)
		}

		link := serialradio.New(serialradio.Config{Port: devicePath, Logger: logger})
		link.SetPacketHandler(func(pkt *packet.Packet, _ bridge.Source) {
			packets <- pkt
		})
		neighbors[drone.NodeId(neighborID)] = adaptLinkEgress(logger, link, packet.NodeId(neighborID))
		links = append(links, link)
	}

	return links, nil
}

// splitPairs splits a comma-separated flag value, dropping empty entries.
func splitPairs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseNeighborPair parses a "neighborID=peerID" flag entry.
func parseNeighborPair(pair string) (neighborID, peerID uint64, err error) {
	neighborStr, peerStr, ok := strings.Cut(pair, "=")
	if !ok {
		return 0, 0, fmt.Errorf("%q: want neighborID=peerID", pair)
	}
	neighborID, err = strconv.ParseUint(neighborStr, 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("neighbor id in %q: %w", pair, err)
	}
	peerID, err = strconv.ParseUint(peerStr, 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("peer id in %q: %w", pair, err)
	}
	return neighborID, peerID, nil
}

// queuePollInterval governs how often a link's outbound queue is drained.
// It only needs to be short relative to queueFloodJitter below, not to
// packet arrival rate, since Push never blocks the drone's event loop.
const queuePollInterval = 2 * time.Millisecond

// queueFloodJitter delays a freshly re-broadcast flood request briefly so
// that several neighbors notified at once don't all retransmit in lockstep.
const queueFloodJitter = 5 * time.Millisecond

// adaptLinkEgress returns an Egress channel backed by link: every packet
// written to the channel is pushed onto a priority-ordered bridge.
// OutboundQueue (dest is the neighbor this link connects to) rather than
// handed to link.Send directly, so a burst of control traffic drains ahead
// of queued flood broadcasts even when the link itself is a single
// serialized connection. A second goroutine polls the queue and performs
// the actual sends, so the drone's forwarder can treat a physical or
// simulated link exactly like an in-process channel to another drone.
func adaptLinkEgress(logger *slog.Logger, link bridge.Link, dest packet.NodeId) drone.Egress {
	ch := make(chan *packet.Packet, 16)
	queue := bridge.NewOutboundQueue()

	go func() {
		for pkt := range ch {
			queue.Push(pkt, dest, queuePriority(pkt.Kind), queueDelay(pkt.Kind))
		}
	}()

	go func() {
		ticker := time.NewTicker(queuePollInterval)
		defer ticker.Stop()
		for range ticker.C {
			for {
				entry := queue.Pop()
				if entry == nil {
					break
				}
				if err := link.Send(entry.Packet); err != nil {
					logger.Warn("link send failed", "error", err)
				}
			}
		}
	}()

	return ch
}

// queuePriority ranks control traffic (Ack, Nack) ahead of flood traffic
// and plain fragments, so a congested link drains acknowledgments first.
// Lower values drain first, matching bridge.OutboundQueue.Push.
func queuePriority(kind packet.Kind) uint8 {
	switch kind {
	case packet.KindAck, packet.KindNack:
		return 0
	case packet.KindFloodResponse:
		return 1
	case packet.KindFloodRequest:
		return 2
	default:
		return 3
	}
}

// queueDelay returns the hold-before-eligible duration for a packet kind.
// Only flood requests carry jitter; everything else is sent as soon as its
// priority comes up.
func queueDelay(kind packet.Kind) time.Duration {
	if kind == packet.KindFloodRequest {
		return queueFloodJitter
	}
	return 0
}
