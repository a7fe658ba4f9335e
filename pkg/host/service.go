// Package host wires the channel adapter, the session dispatcher, and
// the render collaborators into one runnable bridge service.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"meshbridge/pkg/bus"
	"meshbridge/pkg/channel"
	"meshbridge/pkg/config"
	"meshbridge/pkg/gate"
	"meshbridge/pkg/protocol"
	"meshbridge/pkg/render"
	"meshbridge/pkg/session"
)

const (
	defaultStatusHost = "127.0.0.1"
	defaultStatusPort = 18891

	defaultReadyTimeout = 30 * time.Second
)

// originReporter is implemented by adapters that know the connected
// peer's origin (the websocket adapter does).
type originReporter interface {
	PeerOrigin() string
}

type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	events     *bus.EventBus
	session    *session.Session
	dispatcher *session.Dispatcher
	adapter    channel.Adapter
	renderers  []render.Renderer

	mu        sync.RWMutex
	startedAt time.Time
}

type artifactStatus struct {
	Filename   string `json:"filename"`
	Bytes      int    `json:"bytes"`
	ReceivedAt string `json:"received_at"`
}

type sessionStatus struct {
	ID          string          `json:"id"`
	State       string          `json:"state"`
	PeerVersion string          `json:"peer_version,omitempty"`
	Artifact    *artifactStatus `json:"artifact,omitempty"`
}

type channelStatus struct {
	Name       string `json:"name"`
	Connected  bool   `json:"connected"`
	PeerOrigin string `json:"peer_origin,omitempty"`
}

type statusResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Session       sessionStatus `json:"session"`
	Channel       channelStatus `json:"channel"`
}

// NewService validates the configuration and wires the bridge.
func NewService(cfg *config.Config, adapter channel.Adapter, g *gate.Gate, renderers []render.Renderer, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, errors.New("channel adapter is required")
	}
	if g == nil {
		return nil, errors.New("origin gate is required")
	}
	if log == nil {
		log = slog.Default()
	}

	events := bus.NewEventBus()
	sess := session.New()

	svc := &Service{
		cfg:       cfg,
		log:       log.With("component", "host.service"),
		events:    events,
		session:   sess,
		adapter:   adapter,
		renderers: renderers,
	}

	identity := protocol.InitPayload{
		PartnerName: cfg.Bridge.PartnerName,
		Features:    cfg.Bridge.FeatureList(),
	}

	dispatcher, err := session.NewDispatcher(sess, g, adapter, events, identity, svc.renderArtifact, log)
	if err != nil {
		events.Close()
		return nil, err
	}
	svc.dispatcher = dispatcher

	return svc, nil
}

// Run starts the channel endpoint, the dispatch loop, the status server,
// and the ready watchdog, then blocks until ctx ends or a component
// fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.events.Close()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.dispatcher.Start(ctx)
	s.log.Info("Bridge started",
		"session_id", s.session.ID(),
		"trusted_origin", s.cfg.Bridge.TrustedOrigin,
		"partner_name", s.cfg.Bridge.PartnerName)

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	go s.dispatcher.Run(ctx)
	go s.watchReadyTimeout(ctx, s.readyTimeout())

	channelErrors := make(chan error, 1)
	go func() {
		err := s.adapter.Run(ctx, s.forwardChannelEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			channelErrors <- fmt.Errorf("run %s channel: %w", s.adapter.Name(), err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-channelErrors:
		return err
	}
}

// forwardChannelEvent is the single inbound subscription: every raw
// frame goes onto the bus for the dispatch loop.
func (s *Service) forwardChannelEvent(ctx context.Context, event bus.ChannelEvent) {
	s.events.PublishEvent(ctx, event)
}

// renderArtifact fans one stored artifact out to every renderer. A
// renderer failure is surfaced and logged, nothing more.
func (s *Service) renderArtifact(ctx context.Context, artifact session.Artifact) {
	for _, renderer := range s.renderers {
		if err := renderer.Render(ctx, artifact); err != nil {
			s.log.Error("Renderer failed", "renderer", renderer.Name(), "error", err)
			s.events.PublishNotice(ctx, bus.Notice{
				Kind:    bus.NoticeError,
				Message: fmt.Sprintf("%s renderer failed: %v", renderer.Name(), err),
			})
		}
	}
}

// RequestExport asks the peer for the current artifact; fails fast with
// NotReady before the handshake completes.
func (s *Service) RequestExport(ctx context.Context) error {
	return s.dispatcher.RequestExport(ctx)
}

// ResendInit re-triggers the init handshake manually.
func (s *Service) ResendInit(ctx context.Context) error {
	return s.dispatcher.SendInit(ctx)
}

// Session exposes the session for status readers.
func (s *Service) Session() *session.Session {
	return s.session
}

// Events exposes the bus so the console can subscribe to notices.
func (s *Service) Events() *bus.EventBus {
	return s.events
}

// ChannelConnected reports whether a peer is attached to the channel.
func (s *Service) ChannelConnected() bool {
	return s.adapter.Connected()
}

// ChannelPeerOrigin returns the connected peer's origin, if known.
func (s *Service) ChannelPeerOrigin() string {
	if reporter, ok := s.adapter.(originReporter); ok {
		return reporter.PeerOrigin()
	}

	return ""
}

// watchReadyTimeout warns once when the peer has not completed the
// handshake within the configured window. The session is left alone:
// a late ready is still honored, the warning only makes a silent peer
// diagnosable.
func (s *Service) watchReadyTimeout(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if s.session.State() == session.StateReady {
		return
	}

	s.log.Warn("Peer has not sent ready", "waited", timeout.String())
	s.events.PublishNotice(ctx, bus.Notice{
		Kind:    bus.NoticeError,
		Message: fmt.Sprintf("no ready from peer after %s", timeout),
		Fields:  map[string]string{"category": "handshake_timeout"},
	})
}

func (s *Service) readyTimeout() time.Duration {
	seconds := s.cfg.Bridge.ReadyTimeoutSeconds
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return defaultReadyTimeout
	}

	return time.Duration(seconds) * time.Second
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Status.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Status.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if s.session.State() != session.StateReady {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, s.session.State().String())
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	uptime := int64(0)
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	sess := sessionStatus{
		ID:          s.session.ID(),
		State:       s.session.State().String(),
		PeerVersion: s.session.Version(),
	}
	if artifact := s.session.Artifact(); artifact != nil {
		sess.Artifact = &artifactStatus{
			Filename:   artifact.Filename,
			Bytes:      len(artifact.Bytes),
			ReceivedAt: artifact.ReceivedAt.Format(time.RFC3339),
		}
	}

	ch := channelStatus{
		Name:      s.adapter.Name(),
		Connected: s.adapter.Connected(),
	}
	if reporter, ok := s.adapter.(originReporter); ok {
		ch.PeerOrigin = reporter.PeerOrigin()
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Session:       sess,
		Channel:       ch,
	}
}
