package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"meshbridge/pkg/bus"
	"meshbridge/pkg/channel"
	"meshbridge/pkg/config"
	"meshbridge/pkg/gate"
	"meshbridge/pkg/protocol"
)

const trustedOrigin = "https://cad.example.com"

type eventRecorder struct {
	mu     sync.Mutex
	events []bus.ChannelEvent
	seen   chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{seen: make(chan struct{}, 16)}
}

func (r *eventRecorder) handle(_ context.Context, event bus.ChannelEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *eventRecorder) wait(t *testing.T) bus.ChannelEvent {
	t.Helper()
	select {
	case <-r.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func startTestChannel(t *testing.T, handler channel.Handler) (*Adapter, string) {
	t.Helper()

	adapter, err := NewAdapter(config.ChannelConfig{}, gate.New(trustedOrigin), nil)
	if err != nil {
		t.Fatalf("NewAdapter error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapter.handleUpgrade(ctx, w, r, handler)
	}))
	t.Cleanup(server.Close)

	return adapter, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url, origin string) *gorilla.Conn {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, _, err := gorilla.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestInboundFrameCarriesPeerOrigin(t *testing.T) {
	recorder := newEventRecorder()
	adapter, url := startTestChannel(t, recorder.handle)

	conn := dial(t, url, trustedOrigin)
	frame := `{"type":"ready","payload":{"version":"1.0"}}`
	if err := conn.WriteMessage(gorilla.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	event := recorder.wait(t)
	if event.Origin != trustedOrigin {
		t.Fatalf("event origin = %q, want %q", event.Origin, trustedOrigin)
	}
	if string(event.Data) != frame {
		t.Fatalf("event data = %s, want %s", event.Data, frame)
	}
	if !adapter.Connected() {
		t.Fatal("expected adapter to report a connected peer")
	}
}

func TestUntrustedOriginStillDeliversEventForDownstreamGate(t *testing.T) {
	recorder := newEventRecorder()
	_, url := startTestChannel(t, recorder.handle)

	conn := dial(t, url, "https://evil.example.com")
	if err := conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"ready"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	event := recorder.wait(t)
	if event.Origin != "https://evil.example.com" {
		t.Fatalf("event origin = %q", event.Origin)
	}
}

func TestSendWithoutPeer(t *testing.T) {
	adapter, err := NewAdapter(config.ChannelConfig{}, gate.New(trustedOrigin), nil)
	if err != nil {
		t.Fatalf("NewAdapter error: %v", err)
	}

	msg, err := protocol.Encode(protocol.TagGetSTL, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := adapter.Send(context.Background(), msg); !errors.Is(err, channel.ErrChannelUnavailable) {
		t.Fatalf("Send error = %v, want ErrChannelUnavailable", err)
	}
}

func TestSendRefusesUntrustedPeer(t *testing.T) {
	recorder := newEventRecorder()
	adapter, url := startTestChannel(t, recorder.handle)

	conn := dial(t, url, "https://evil.example.com")
	// Drive one frame through so the upgrade has completed server-side.
	if err := conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	recorder.wait(t)

	msg, err := protocol.Encode(protocol.TagGetSTL, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := adapter.Send(context.Background(), msg); !errors.Is(err, channel.ErrUntrustedPeer) {
		t.Fatalf("Send error = %v, want ErrUntrustedPeer", err)
	}
}

func TestSendDeliversFrameToTrustedPeer(t *testing.T) {
	recorder := newEventRecorder()
	adapter, url := startTestChannel(t, recorder.handle)

	conn := dial(t, url, trustedOrigin)
	if err := conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"ready","payload":{"version":"1.0"}}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	recorder.wait(t)

	msg, err := protocol.Encode(protocol.TagInit, protocol.InitPayload{PartnerName: "meshbridge", Features: []string{"export"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := adapter.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	decoded, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if decoded.Type != protocol.TagInit {
		t.Fatalf("frame type = %q, want init", decoded.Type)
	}
}

func TestSecondConnectionRefused(t *testing.T) {
	recorder := newEventRecorder()
	adapter, url := startTestChannel(t, recorder.handle)

	conn := dial(t, url, trustedOrigin)
	if err := conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	recorder.wait(t)

	header := http.Header{}
	header.Set("Origin", trustedOrigin)
	_, resp, err := gorilla.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected second dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 refusing second peer, got %+v", resp)
	}

	if !adapter.Connected() {
		t.Fatal("first peer should remain connected")
	}
}

func TestAddrDefaults(t *testing.T) {
	adapter, err := NewAdapter(config.ChannelConfig{}, gate.New(trustedOrigin), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := adapter.Addr(); got != "127.0.0.1:18890" {
		t.Fatalf("Addr = %q", got)
	}
	if got := adapter.path(); got != "/channel" {
		t.Fatalf("path = %q", got)
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ChannelConfig
		want string
	}{
		{name: "defaults", cfg: config.ChannelConfig{}, want: "ws://127.0.0.1:18890/channel"},
		{name: "explicit", cfg: config.ChannelConfig{Host: "0.0.0.0", Port: 9000, Path: "/bridge"}, want: "ws://0.0.0.0:9000/bridge"},
		{name: "missing slash", cfg: config.ChannelConfig{Path: "bridge"}, want: "ws://127.0.0.1:18890/bridge"},
	}

	for _, tt := range tests {
		if got := URL(tt.cfg); got != tt.want {
			t.Fatalf("%s: URL = %q, want %q", tt.name, got, tt.want)
		}
	}
}
