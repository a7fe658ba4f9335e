// Package session owns the readiness state machine and the artifact
// slot, and dispatches gated, decoded channel events to per-tag
// handlers.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the host-side protocol state.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingReady
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Artifact is the most recently exported binary mesh. Consumers must
// treat it as read-only and must not assume it outlives the next export.
type Artifact struct {
	Bytes      []byte
	Filename   string
	ReceivedAt time.Time
}

// Session tracks readiness and the last received artifact. The dispatch
// loop is the only writer; status and UI readers observe concurrently,
// hence the lock.
type Session struct {
	id string

	mu       sync.RWMutex
	state    State
	version  string
	artifact *Artifact
}

func New() *Session {
	return &Session{
		id:    uuid.New().String(),
		state: StateUninitialized,
	}
}

// ID returns the per-run session identifier used in logs and status.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Version returns the peer version reported by the last ready message.
func (s *Session) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}

// Artifact returns the last received artifact, nil when none has
// arrived. The returned value is a snapshot of the slot, not a copy of
// the bytes.
func (s *Session) Artifact() *Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.artifact
}

// start moves Uninitialized to AwaitingReady. Later states are left
// alone; the transition is part of startup sequencing, not the protocol.
func (s *Session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		s.state = StateAwaitingReady
	}
}

// markReady records the peer version (last one wins) and reports whether
// this call performed the single AwaitingReady→Ready transition.
func (s *Session) markReady(version string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version = version
	if s.state == StateReady {
		return false
	}
	s.state = StateReady

	return true
}

// setArtifact overwrites the artifact slot. There is no merge; each
// export fully replaces the previous one.
func (s *Session) setArtifact(artifact Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifact = &artifact
}
