// Package peer emulates the embedded CAD application for local runs and
// end-to-end tests: it completes the ready/init handshake and answers
// export requests with a generated STL.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meshbridge/pkg/protocol"
)

const (
	defaultVersion  = "1.0"
	defaultFilename = "cube.stl"

	dialRetryInterval = time.Second
	writeTimeout      = 10 * time.Second
)

// Emulator is one fake embedded peer. It dials the host's channel
// endpoint with the configured Origin header, announces ready, and
// serves export requests.
type Emulator struct {
	url      string
	origin   string
	version  string
	filename string
	log      *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New constructs an emulator that will present itself as origin when
// dialing url.
func New(url, origin string, log *slog.Logger) (*Emulator, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("channel url is required")
	}
	if strings.TrimSpace(origin) == "" {
		return nil, errors.New("origin is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Emulator{
		url:      url,
		origin:   origin,
		version:  defaultVersion,
		filename: defaultFilename,
		log:      log.With("component", "peer.emulator"),
	}, nil
}

// SetVersion overrides the version announced in the ready message.
func (e *Emulator) SetVersion(version string) {
	if strings.TrimSpace(version) != "" {
		e.version = version
	}
}

// SetFilename overrides the filename attached to exported artifacts.
func (e *Emulator) SetFilename(filename string) {
	if strings.TrimSpace(filename) != "" {
		e.filename = filename
	}
}

// Run connects to the host and serves the protocol until the connection
// drops or ctx ends. The host may not be listening yet when the peer
// starts, so dialing retries until ctx cancellation.
func (e *Emulator) Run(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	e.conn = conn
	e.log.Info("Connected to host", "url", e.url, "origin", e.origin)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if err := e.send(protocol.TagReady, protocol.ReadyPayload{Version: e.version}); err != nil {
		return err
	}
	e.log.Info("Ready sent", "version", e.version)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read host frame: %w", err)
		}

		e.handleFrame(data)
	}
}

func (e *Emulator) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", e.origin)

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.url, header)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		e.log.Debug("Dial failed, retrying", "url", e.url, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}
}

func (e *Emulator) handleFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		e.log.Warn("Undecodable host frame", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TagInit:
		payload, err := protocol.DecodeInit(msg.Payload)
		if err != nil {
			e.log.Warn("Malformed init payload", "error", err)
			return
		}
		e.log.Info("Init received", "partner_name", payload.PartnerName, "features", payload.Features)
	case protocol.TagGetSTL:
		blob := GenerateCubeSTL(1)
		if err := e.send(protocol.TagExportSTL, protocol.ExportPayload{Blob: blob, Filename: e.filename}); err != nil {
			e.log.Error("Export failed", "error", err)
			return
		}
		e.log.Info("Export sent", "filename", e.filename, "bytes", len(blob))
	default:
		e.log.Info("Ignoring unrecognized host tag", "tag", string(msg.Type))
	}
}

func (e *Emulator) send(tag protocol.Tag, payload any) error {
	msg, err := protocol.Encode(tag, payload)
	if err != nil {
		return err
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	_ = e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", tag, err)
	}

	return nil
}
