// Package websocket implements the bridge channel over a WebSocket
// endpoint. The embedded peer dials in; its Origin header becomes the
// origin attached to every inbound event from that connection.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meshbridge/pkg/bus"
	"meshbridge/pkg/channel"
	"meshbridge/pkg/config"
	"meshbridge/pkg/gate"
	"meshbridge/pkg/protocol"
)

const channelName = "websocket"

const (
	defaultHost = "127.0.0.1"
	defaultPort = 18890
	defaultPath = "/channel"

	writeTimeout = 10 * time.Second
	maxFrameSize = 32 * 1024 * 1024
)

// Adapter owns the channel endpoint and at most one peer connection.
// Untrusted-origin connections are accepted; their frames carry their
// origin into the dispatch pipeline where the gate drops them silently,
// so an untrusted sender learns nothing from the transport.
type Adapter struct {
	cfg  config.ChannelConfig
	gate *gate.Gate
	log  *slog.Logger

	upgrader websocket.Upgrader

	mu         sync.RWMutex
	conn       *websocket.Conn
	peerOrigin string

	writeMu sync.Mutex
}

// NewAdapter validates the channel configuration and constructs the
// websocket adapter.
func NewAdapter(cfg config.ChannelConfig, g *gate.Gate, log *slog.Logger) (*Adapter, error) {
	if g == nil {
		return nil, errors.New("origin gate is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:  cfg,
		gate: g,
		log:  log.With("component", "channel.websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checking is the dispatch pipeline's job; refusing
			// upgrades here would leak the protocol's existence.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Name returns the channel identifier used in logs and status output.
func (a *Adapter) Name() string {
	return channelName
}

// Addr returns the configured listen address.
func (a *Adapter) Addr() string {
	host := strings.TrimSpace(a.cfg.Host)
	if host == "" {
		host = defaultHost
	}

	port := a.cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	return host + ":" + strconv.Itoa(port)
}

func (a *Adapter) path() string {
	path := strings.TrimSpace(a.cfg.Path)
	if path == "" {
		path = defaultPath
	}

	return path
}

// URL returns the ws:// URL a peer dials for the given channel config.
func URL(cfg config.ChannelConfig) string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultHost
	}

	port := cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return fmt.Sprintf("ws://%s:%d%s", host, port, path)
}

// Run serves the channel endpoint until ctx ends. Every inbound frame is
// forwarded to handler as a raw channel event carrying the connection's
// origin; the subscription and the connection are torn down on return.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.path(), func(w http.ResponseWriter, r *http.Request) {
		a.handleUpgrade(ctx, w, r, handler)
	})

	server := &http.Server{
		Addr:              a.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		a.closePeer()
	}()

	a.log.Info("Channel endpoint started", "address", a.Addr(), "path", a.path())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve channel endpoint: %w", err)
	}

	return nil
}

func (a *Adapter) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, handler channel.Handler) {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}
	a.mu.Unlock()

	origin := r.Header.Get("Origin")

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Error("Upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.conn = conn
	a.peerOrigin = origin
	a.mu.Unlock()

	a.log.Info("Peer connected", "origin", origin, "trusted", a.gate.Accept(origin))

	a.readLoop(ctx, conn, origin, handler)

	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
		a.peerOrigin = ""
	}
	a.mu.Unlock()

	a.log.Info("Peer disconnected", "origin", origin)
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, origin string, handler channel.Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug("Peer read ended", "error", err)
			}
			return
		}

		handler(ctx, bus.ChannelEvent{
			Origin: origin,
			Data:   data,
			At:     time.Now().UTC(),
		})
	}
}

// Send delivers one protocol message to the connected peer. It fails
// with ErrChannelUnavailable when no peer is connected and with
// ErrUntrustedPeer when the peer's origin is not the trusted origin;
// frames are never broadcast.
func (a *Adapter) Send(ctx context.Context, msg protocol.Message) error {
	a.mu.RLock()
	conn := a.conn
	origin := a.peerOrigin
	a.mu.RUnlock()

	if conn == nil {
		return channel.ErrChannelUnavailable
	}
	if !a.gate.Accept(origin) {
		return fmt.Errorf("%w: %q", channel.ErrUntrustedPeer, origin)
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Type, err)
	}

	return nil
}

// Connected reports whether a peer connection is currently established.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.conn != nil
}

// PeerOrigin returns the origin of the connected peer, empty when none.
func (a *Adapter) PeerOrigin() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.peerOrigin
}

func (a *Adapter) closePeer() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.peerOrigin = ""
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
