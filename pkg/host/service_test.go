package host

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"meshbridge/pkg/bus"
	"meshbridge/pkg/channel"
	"meshbridge/pkg/config"
	"meshbridge/pkg/gate"
	"meshbridge/pkg/protocol"
	"meshbridge/pkg/session"
)

type fakeAdapter struct {
	mu        sync.Mutex
	connected bool
	origin    string
	sent      []protocol.Message
	sendErr   error
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Run(ctx context.Context, _ channel.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeAdapter) Send(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeAdapter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) PeerOrigin() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.origin
}

func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			TrustedOrigin: "https://cad.example.com",
			PartnerName:   "meshbridge",
		},
	}
}

func newTestService(t *testing.T, adapter *fakeAdapter) *Service {
	t.Helper()

	svc, err := NewService(testConfig(), adapter, gate.New("https://cad.example.com"), nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.events.Close)

	return svc
}

func TestNewServiceRequiresConfig(t *testing.T) {
	_, err := NewService(nil, &fakeAdapter{}, gate.New("https://cad.example.com"), nil, nil)
	if err == nil {
		t.Fatal("Expected error for nil config")
	}
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Bridge.TrustedOrigin = ""

	_, err := NewService(cfg, &fakeAdapter{}, gate.New("https://cad.example.com"), nil, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("Expected error for missing trusted origin")
	}
}

func TestNewServiceRequiresAdapter(t *testing.T) {
	_, err := NewService(testConfig(), nil, gate.New("https://cad.example.com"), nil, nil)
	if err == nil {
		t.Fatal("Expected error for nil adapter")
	}
}

func TestReadyTimeoutDefaults(t *testing.T) {
	svc := newTestService(t, &fakeAdapter{})

	if got := svc.readyTimeout(); got != defaultReadyTimeout {
		t.Errorf("Default timeout = %v, want %v", got, defaultReadyTimeout)
	}

	svc.cfg.Bridge.ReadyTimeoutSeconds = 5
	if got := svc.readyTimeout(); got != 5*time.Second {
		t.Errorf("Configured timeout = %v, want 5s", got)
	}

	svc.cfg.Bridge.ReadyTimeoutSeconds = -1
	if got := svc.readyTimeout(); got != 0 {
		t.Errorf("Negative setting should disable the watchdog, got %v", got)
	}
}

func TestWatchReadyTimeoutWarns(t *testing.T) {
	svc := newTestService(t, &fakeAdapter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notices, unsubscribe := svc.events.SubscribeNotices(ctx, 4)
	defer unsubscribe()

	go svc.watchReadyTimeout(ctx, 10*time.Millisecond)

	select {
	case notice := <-notices:
		if notice.Kind != bus.NoticeError {
			t.Errorf("Notice kind = %q, want %q", notice.Kind, bus.NoticeError)
		}
		if notice.Fields["category"] != "handshake_timeout" {
			t.Errorf("Notice category = %q", notice.Fields["category"])
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for watchdog notice")
	}
}

func TestWatchReadyTimeoutDisabled(t *testing.T) {
	svc := newTestService(t, &fakeAdapter{})
	svc.cfg.Bridge.ReadyTimeoutSeconds = -1

	done := make(chan struct{})
	go func() {
		svc.watchReadyTimeout(context.Background(), svc.readyTimeout())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Disabled watchdog should return immediately")
	}
}

func TestRequestExportBeforeReady(t *testing.T) {
	adapter := &fakeAdapter{connected: true}
	svc := newTestService(t, adapter)
	svc.dispatcher.Start(context.Background())

	err := svc.RequestExport(context.Background())
	if err == nil {
		t.Fatal("Expected not-ready error before handshake")
	}

	var sessionErr *session.Error
	if !errors.As(err, &sessionErr) {
		t.Fatalf("Expected session.Error, got %T", err)
	}
	if sessionErr.Category != session.ErrorNotReady {
		t.Errorf("Category = %q, want %q", sessionErr.Category, session.ErrorNotReady)
	}

	adapter.mu.Lock()
	sent := len(adapter.sent)
	adapter.mu.Unlock()
	if sent != 0 {
		t.Errorf("Expected no frames before ready, got %d", sent)
	}
}

func TestStatusEndpoints(t *testing.T) {
	adapter := &fakeAdapter{connected: true, origin: "https://cad.example.com"}
	svc := newTestService(t, adapter)

	health := httptest.NewRecorder()
	svc.handleHealth(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", health.Code)
	}

	ready := httptest.NewRecorder()
	svc.handleReady(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if ready.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before handshake = %d, want 503", ready.Code)
	}

	var payload statusResponse
	if err := json.Unmarshal(ready.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode readyz body: %v", err)
	}
	if payload.Status != "not_ready" {
		t.Errorf("Status = %q, want %q", payload.Status, "not_ready")
	}
	if payload.Session.State != "uninitialized" {
		t.Errorf("Session state = %q, want %q", payload.Session.State, "uninitialized")
	}
	if !payload.Channel.Connected {
		t.Error("Expected channel connected in status")
	}
	if payload.Channel.PeerOrigin != "https://cad.example.com" {
		t.Errorf("Peer origin = %q", payload.Channel.PeerOrigin)
	}
	if payload.Session.Artifact != nil {
		t.Error("Expected no artifact before export")
	}
}

func TestStatusIncludesArtifact(t *testing.T) {
	adapter := &fakeAdapter{connected: true}
	svc := newTestService(t, adapter)
	ctx := context.Background()

	svc.dispatcher.Start(ctx)
	ready, err := protocol.Encode(protocol.TagReady, protocol.ReadyPayload{Version: "2.4"})
	if err != nil {
		t.Fatalf("Encode ready failed: %v", err)
	}
	raw, err := protocol.Marshal(ready)
	if err != nil {
		t.Fatalf("Marshal ready failed: %v", err)
	}
	svc.dispatcher.HandleEvent(ctx, bus.ChannelEvent{Origin: "https://cad.example.com", Data: raw})

	export, err := protocol.Encode(protocol.TagExportSTL, protocol.ExportPayload{
		Blob:     []byte("solid"),
		Filename: "bracket.stl",
	})
	if err != nil {
		t.Fatalf("Encode export failed: %v", err)
	}
	raw, err = protocol.Marshal(export)
	if err != nil {
		t.Fatalf("Marshal export failed: %v", err)
	}
	svc.dispatcher.HandleEvent(ctx, bus.ChannelEvent{Origin: "https://cad.example.com", Data: raw})

	status := svc.currentStatus("ready")
	if status.Session.State != "ready" {
		t.Errorf("Session state = %q, want %q", status.Session.State, "ready")
	}
	if status.Session.PeerVersion != "2.4" {
		t.Errorf("Peer version = %q, want %q", status.Session.PeerVersion, "2.4")
	}
	if status.Session.Artifact == nil {
		t.Fatal("Expected artifact in status")
	}
	if status.Session.Artifact.Filename != "bracket.stl" {
		t.Errorf("Artifact filename = %q", status.Session.Artifact.Filename)
	}
	if status.Session.Artifact.Bytes != len("solid") {
		t.Errorf("Artifact bytes = %d", status.Session.Artifact.Bytes)
	}
}

func TestRenderArtifactSurfacesFailure(t *testing.T) {
	adapter := &fakeAdapter{connected: true}
	svc := newTestService(t, adapter)
	svc.renderers = append(svc.renderers, failingRenderer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notices, unsubscribe := svc.events.SubscribeNotices(ctx, 4)
	defer unsubscribe()

	svc.renderArtifact(ctx, session.Artifact{Bytes: []byte("solid"), Filename: "a.stl"})

	select {
	case notice := <-notices:
		if notice.Kind != bus.NoticeError {
			t.Errorf("Notice kind = %q, want %q", notice.Kind, bus.NoticeError)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for renderer failure notice")
	}
}

type failingRenderer struct{}

func (failingRenderer) Name() string { return "failing" }

func (failingRenderer) Render(context.Context, session.Artifact) error {
	return errors.New("disk full")
}
