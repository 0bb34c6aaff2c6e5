package wsctl

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dronefabric/drone/internal/drone"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config configures a controller bridge.
type Config struct {
	// Commands receives commands decoded from the controller connection.
	Commands chan<- drone.Command
	// Events is drained and forwarded to the controller connection.
	Events <-chan drone.Event
	// Logger falls back to slog.Default() when nil.
	Logger *slog.Logger
}

// Server accepts a single controller websocket connection and relays
// commands and events between it and a drone's command/event channels.
// ServeHTTP implements http.Handler, suitable for mounting on a
// *http.ServeMux alongside the rest of a drone process's endpoints.
type Server struct {
	cfg Config
	log *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New constructs a controller bridge server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, log: cfg.Logger.WithGroup("wsctl")}
}

// ServeHTTP upgrades the request to a websocket and services it until the
// connection closes or the request context is canceled. Only one
// connection is serviced at a time; a second concurrent connection is
// rejected.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.readLoop(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.writeLoop(ctx, conn)
	}()
	wg.Wait()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				s.log.Debug("read loop exiting", "error", err)
			}
			return
		}

		cmd, err := decodeCommand(data)
		if err != nil {
			s.log.Warn("dropping malformed command", "error", err)
			continue
		}

		select {
		case s.cfg.Commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case ev, ok := <-s.cfg.Events:
			if !ok {
				return
			}
			data, err := encodeEvent(ev)
			if err != nil {
				s.log.Warn("dropping unencodable event", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("write loop exiting", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
