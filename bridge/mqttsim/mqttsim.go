// Package mqttsim implements bridge.Link over an MQTT broker, used to
// simulate radio propagation between drones in a test fabric: packets are
// base64-encoded and published to a per-neighbor topic instead of traveling
// over an actual RF link.
package mqttsim

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/dronefabric/drone/bridge"
	"github.com/dronefabric/drone/internal/packet"
)

// Compile-time interface check.
var _ bridge.Link = (*Link)(nil)

// DefaultTopicPrefix namespaces every topic this package publishes to or
// subscribes on.
const DefaultTopicPrefix = "dronefabric"

// Config configures an MQTT-simulated link to a single neighbor.
type Config struct {
	// Broker is the MQTT broker URL (e.g. "tcp://localhost:1883").
	Broker string
	// Username and Password authenticate against the broker, if required.
	Username string
	Password string
	// UseTLS enables TLS for the broker connection.
	UseTLS bool
	// ClientID identifies this connection. A random one is generated if empty.
	ClientID string
	// TopicPrefix namespaces the simulated fabric. Defaults to DefaultTopicPrefix.
	TopicPrefix string
	// FabricID identifies the simulated mesh. The link subscribes to and
	// publishes on "{TopicPrefix}/{FabricID}/{LocalID}" and "{...}/{PeerID}"
	// respectively, so two drones using the same FabricID and opposite
	// LocalID/PeerID pairs can exchange packets through the broker.
	FabricID string
	LocalID  packet.NodeId
	PeerID   packet.NodeId
	// Logger falls back to slog.Default() when nil.
	Logger *slog.Logger
}

// Link simulates a radio link to one neighbor over MQTT.
type Link struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger

	mu            sync.RWMutex
	connected     bool
	packetHandler bridge.PacketHandler
	stateHandler  bridge.StateHandler
}

// New constructs an MQTT-simulated link.
func New(cfg Config) *Link {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{cfg: cfg, log: cfg.Logger.WithGroup("mqttsim")}
}

// Start connects to the broker and subscribes to this link's inbound topic.
func (l *Link) Start(ctx context.Context) error {
	if l.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if l.cfg.FabricID == "" {
		return errors.New("fabric ID is required")
	}

	clientID := l.cfg.ClientID
	if clientID == "" {
		clientID = "drone-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(l.onConnected).
		SetConnectionLostHandler(l.onConnectionLost).
		SetReconnectingHandler(l.onReconnecting)

	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
	}
	if l.cfg.Password != "" {
		opts.SetPassword(l.cfg.Password)
	}
	if l.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	l.client = paho.NewClient(opts)

	token := l.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	return token.Error()
}

// Stop disconnects from the broker.
func (l *Link) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Disconnect(1000)
		l.connected = false
	}
	return nil
}

// IsConnected reports whether the broker connection is live.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected && l.client != nil && l.client.IsConnected()
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

// Send encodes pkt and publishes it to the peer's inbound topic.
func (l *Link) Send(pkt *packet.Packet) error {
	if !l.IsConnected() {
		return errors.New("not connected")
	}

	data, err := bridge.Encode(pkt)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(data)

	token := l.client.Publish(l.topic(l.cfg.PeerID), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to broker")
	}
	return token.Error()
}

func (l *Link) topic(id packet.NodeId) string {
	return fmt.Sprintf("%s/%s/%d", l.cfg.TopicPrefix, l.cfg.FabricID, id)
}

func (l *Link) subscribe() {
	topic := l.topic(l.cfg.LocalID)
	l.client.Subscribe(topic, 0, l.handleMessage)
	l.log.Debug("subscribed", "topic", topic)
}

func (l *Link) handleMessage(_ paho.Client, message paho.Message) {
	l.mu.RLock()
	handler := l.packetHandler
	l.mu.RUnlock()
	if handler == nil {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		l.log.Debug("failed to decode base64 payload", "error", err)
		return
	}

	pkt, err := bridge.Decode(raw)
	if err != nil {
		l.log.Debug("failed to decode packet", "error", err)
		return
	}

	handler(pkt, bridge.SourceMQTT)
}

func (l *Link) onConnected(_ paho.Client) {
	l.mu.Lock()
	l.connected = true
	handler := l.stateHandler
	l.mu.Unlock()

	l.subscribe()
	l.log.Info("connected to broker", "broker", l.cfg.Broker)
	if handler != nil {
		handler(l, bridge.EventConnected)
	}
}

func (l *Link) onConnectionLost(_ paho.Client, err error) {
	l.mu.Lock()
	l.connected = false
	handler := l.stateHandler
	l.mu.Unlock()

	l.log.Error("connection lost", "error", err)
	if handler != nil {
		handler(l, bridge.EventDisconnected)
	}
}

func (l *Link) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	l.mu.RLock()
	handler := l.stateHandler
	l.mu.RUnlock()

	l.log.Info("reconnecting")
	if handler != nil {
		handler(l, bridge.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
