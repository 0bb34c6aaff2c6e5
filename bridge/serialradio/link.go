package serialradio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/dronefabric/drone/bridge"
	"github.com/dronefabric/drone/internal/packet"
)

// Compile-time interface check.
var _ bridge.Link = (*Link)(nil)

const (
	// DefaultBaudRate is used when Config.BaudRate is zero.
	DefaultBaudRate = 115200

	readBufSize = 1024
)

// Config configures a serial radio link.
type Config struct {
	// Port is the serial device path (e.g. "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate defaults to DefaultBaudRate when zero.
	BaudRate int
	// Logger falls back to slog.Default() when nil.
	Logger *slog.Logger
}

// Link carries packets to and from a single neighbor over a serial radio
// connection, framing them with the magic/length/Fletcher-16 scheme in
// frame.go.
type Link struct {
	cfg  Config
	port serial.Port
	log  *slog.Logger

	mu            sync.RWMutex
	connected     bool
	cancel        context.CancelFunc
	done          chan struct{}
	packetHandler bridge.PacketHandler
	stateHandler  bridge.StateHandler
}

// New constructs a serial radio link.
func New(cfg Config) *Link {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{cfg: cfg, log: cfg.Logger.WithGroup("serialradio")}
}

// Start opens the serial port and begins the read loop.
func (l *Link) Start(ctx context.Context) error {
	if l.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &serial.Mode{BaudRate: l.cfg.BaudRate}
	port, err := serial.Open(l.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	l.mu.Lock()
	l.port = port
	l.connected = true
	l.done = make(chan struct{})
	handler := l.stateHandler
	l.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.readLoop(readCtx)

	l.log.Info("connected", "port", l.cfg.Port, "baud", l.cfg.BaudRate)
	if handler != nil {
		handler(l, bridge.EventConnected)
	}
	return nil
}

// Stop closes the port and waits for the read loop to exit.
func (l *Link) Stop() error {
	l.mu.Lock()
	handler := l.stateHandler
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Lock()
	l.connected = false
	port := l.port
	l.port = nil
	done := l.done
	l.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	if handler != nil {
		handler(l, bridge.EventDisconnected)
	}
	return err
}

// IsConnected reports whether the serial port is open.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// SetPacketHandler installs the inbound packet callback.
func (l *Link) SetPacketHandler(fn bridge.PacketHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packetHandler = fn
}

// SetStateHandler installs the connection state callback.
func (l *Link) SetStateHandler(fn bridge.StateHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateHandler = fn
}

// Send frames pkt and writes it to the serial port.
func (l *Link) Send(pkt *packet.Packet) error {
	l.mu.RLock()
	port := l.port
	connected := l.connected
	l.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("not connected")
	}

	data, err := bridge.Encode(pkt)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}
	frame, err := EncodeFrame(data)
	if err != nil {
		return fmt.Errorf("framing packet: %w", err)
	}
	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

func (l *Link) readLoop(ctx context.Context) {
	defer close(l.done)

	buf := make([]byte, readBufSize)
	var assembly []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := l.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				l.handleDisconnect(err)
				return
			}
			l.log.Error("read error", "error", err)
			l.handleDisconnect(err)
			return
		}
		if n == 0 {
			continue
		}

		assembly = append(assembly, buf[:n]...)
		assembly = l.processFrames(assembly)
	}
}

func (l *Link) processFrames(data []byte) []byte {
	for len(data) >= MinFrameSize {
		frame, remaining, err := DecodeFrame(data)
		if err != nil {
			if errors.Is(err, ErrIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}
		data = remaining

		pkt, err := bridge.Decode(frame.Payload)
		if err != nil {
			l.log.Debug("failed to decode packet from frame", "error", err)
			continue
		}

		l.mu.RLock()
		handler := l.packetHandler
		l.mu.RUnlock()
		if handler != nil {
			handler(pkt, bridge.SourceSerial)
		}
	}
	return data
}

func (l *Link) handleDisconnect(err error) {
	l.mu.Lock()
	l.connected = false
	handler := l.stateHandler
	l.mu.Unlock()

	if err != nil {
		l.log.Error("disconnected", "error", err)
	}
	if handler != nil {
		handler(l, bridge.EventDisconnected)
	}
}
