package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meshbridge/pkg/bus"
	"meshbridge/pkg/gate"
	"meshbridge/pkg/protocol"
)

// Sender is the outbound half of the channel adapter the dispatcher
// needs. Every frame it produces is addressed to the trusted origin by
// the adapter; the dispatcher never broadcasts.
type Sender interface {
	Send(context.Context, protocol.Message) error
	Connected() bool
}

// ArtifactSink is invoked after each accepted export, with the freshly
// stored artifact. The host wires renderers behind it.
type ArtifactSink func(context.Context, Artifact)

// Dispatcher runs the gate → decode → handle pipeline over inbound
// channel events and owns all outbound protocol traffic.
type Dispatcher struct {
	session  *Session
	gate     *gate.Gate
	sender   Sender
	events   *bus.EventBus
	log      *slog.Logger
	identity protocol.InitPayload
	sink     ArtifactSink
}

// NewDispatcher wires the dispatch pipeline. identity is the payload of
// every init frame this host emits.
func NewDispatcher(sess *Session, g *gate.Gate, sender Sender, events *bus.EventBus, identity protocol.InitPayload, sink ArtifactSink, log *slog.Logger) (*Dispatcher, error) {
	if sess == nil {
		return nil, errors.New("session is required")
	}
	if g == nil {
		return nil, errors.New("origin gate is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if events == nil {
		return nil, errors.New("event bus is required")
	}
	if identity.PartnerName == "" {
		return nil, errors.New("partner name is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		session:  sess,
		gate:     g,
		sender:   sender,
		events:   events,
		log:      log.With("component", "session.dispatcher"),
		identity: identity,
		sink:     sink,
	}, nil
}

// Start moves the session out of Uninitialized and announces that the
// host is awaiting the peer handshake.
func (d *Dispatcher) Start(ctx context.Context) {
	d.session.start()
	d.notifyState(ctx)
}

// Run consumes channel events until the bus closes or ctx ends. Each
// handler runs to completion before the next event is processed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		event, ok := d.events.ConsumeEvent(ctx)
		if !ok {
			return
		}

		d.HandleEvent(ctx, event)
	}
}

// HandleEvent processes one raw channel event through the pipeline.
// Untrusted origins are dropped with no observable side effect.
func (d *Dispatcher) HandleEvent(ctx context.Context, event bus.ChannelEvent) {
	if !d.gate.Accept(event.Origin) {
		// Silent drop. No notice, no reply; untrusted senders learn
		// nothing about the protocol.
		d.log.Debug("Dropped event from untrusted origin", "origin", event.Origin)
		return
	}

	msg, err := protocol.Decode(event.Data)
	if err != nil {
		d.log.Warn("Undecodable frame ignored", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TagReady:
		d.handleReady(ctx, msg)
	case protocol.TagExportSTL:
		d.handleExport(ctx, msg, event.At)
	default:
		// Forward compatibility: unknown tags are logged and ignored.
		d.log.Info("Ignoring unrecognized message tag", "tag", string(msg.Type))
	}
}

func (d *Dispatcher) handleReady(ctx context.Context, msg protocol.Message) {
	payload, err := protocol.DecodeReady(msg.Payload)
	if err != nil {
		d.log.Warn("Malformed ready payload", "error", err)
		return
	}

	transitioned := d.session.markReady(payload.Version)
	d.log.Info("Peer ready", "version", payload.Version, "transitioned", transitioned)

	if !transitioned {
		return
	}

	d.notifyState(ctx)
	if err := d.sendInit(ctx); err != nil {
		d.surface(ctx, err, "auto init failed")
	}
}

func (d *Dispatcher) handleExport(ctx context.Context, msg protocol.Message, at time.Time) {
	payload, err := protocol.DecodeExport(msg.Payload)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingBlob) {
			d.surface(ctx, NewError(ErrorMissingArtifact, "export carried no artifact bytes"), "export rejected")
			return
		}
		d.log.Warn("Malformed export payload", "error", err)
		return
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	artifact := Artifact{
		Bytes:      payload.Blob,
		Filename:   payload.Filename,
		ReceivedAt: at,
	}
	d.session.setArtifact(artifact)

	d.log.Info("Artifact received", "filename", artifact.Filename, "bytes", len(artifact.Bytes))
	d.events.PublishNotice(ctx, bus.Notice{
		Kind:    bus.NoticeArtifact,
		Message: "artifact received",
		Fields: map[string]string{
			"filename": artifact.Filename,
			"bytes":    fmt.Sprintf("%d", len(artifact.Bytes)),
		},
	})

	if d.sink != nil {
		d.sink(ctx, artifact)
	}
}

// RequestExport asks the peer for the current artifact. Before the
// session is Ready it fails fast locally; no frame is sent.
func (d *Dispatcher) RequestExport(ctx context.Context) error {
	if d.session.State() != StateReady {
		err := NewError(ErrorNotReady, "peer has not completed the ready handshake")
		d.surface(ctx, err, "export request rejected")
		return err
	}
	if !d.sender.Connected() {
		err := NewError(ErrorChannelUnavailable, "no peer connected")
		d.surface(ctx, err, "export request rejected")
		return err
	}

	msg, err := protocol.Encode(protocol.TagGetSTL, nil)
	if err != nil {
		return err
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.surface(ctx, err, "export request failed")
		return err
	}

	d.events.PublishNotice(ctx, bus.Notice{Kind: bus.NoticeProtocol, Message: "export requested"})
	return nil
}

// SendInit re-triggers the init handshake manually. Like RequestExport
// it requires a Ready session.
func (d *Dispatcher) SendInit(ctx context.Context) error {
	if d.session.State() != StateReady {
		err := NewError(ErrorNotReady, "peer has not completed the ready handshake")
		d.surface(ctx, err, "init rejected")
		return err
	}
	if !d.sender.Connected() {
		err := NewError(ErrorChannelUnavailable, "no peer connected")
		d.surface(ctx, err, "init rejected")
		return err
	}

	if err := d.sendInit(ctx); err != nil {
		d.surface(ctx, err, "init failed")
		return err
	}

	return nil
}

func (d *Dispatcher) sendInit(ctx context.Context) error {
	msg, err := protocol.Encode(protocol.TagInit, d.identity)
	if err != nil {
		return err
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		return err
	}

	d.log.Info("Init sent", "partner_name", d.identity.PartnerName, "features", d.identity.Features)
	d.events.PublishNotice(ctx, bus.Notice{
		Kind:    bus.NoticeProtocol,
		Message: "init sent",
		Fields:  map[string]string{"partner_name": d.identity.PartnerName},
	})

	return nil
}

func (d *Dispatcher) notifyState(ctx context.Context) {
	state := d.session.State()
	fields := map[string]string{"state": state.String()}
	if version := d.session.Version(); version != "" {
		fields["peer_version"] = version
	}

	d.events.PublishNotice(ctx, bus.Notice{
		Kind:    bus.NoticeState,
		Message: "session " + state.String(),
		Fields:  fields,
	})
}

// surface reports a local, non-fatal error to the log and the notice
// stream. Nothing here terminates the session.
func (d *Dispatcher) surface(ctx context.Context, err error, action string) {
	category := CategoryFromError(err)
	d.log.Warn("Protocol error", "error", err, "category", category, "action", action)
	d.events.PublishNotice(ctx, bus.Notice{
		Kind:    bus.NoticeError,
		Message: action + ": " + err.Error(),
		Fields:  map[string]string{"category": category},
	})
}
