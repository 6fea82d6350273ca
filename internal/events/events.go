// Package events records security-relevant happenings at the core
// boundary: authentication outcomes, token lifecycle, rotation
// transitions, degraded-mode entries. Events are write-only from the
// core's perspective; retention lives with the sink.
package events

import (
	"context"
	"sync"
	"time"
)

// Type enumerates event types.
type Type string

const (
	TypeAuthSuccess      Type = "auth_success"
	TypeAuthFailure      Type = "auth_failure"
	TypeTokenMinted      Type = "token_minted"
	TypeTokenRenewed     Type = "token_renewed"
	TypeTokenRevoked     Type = "token_revoked"
	TypeRotationAdvanced Type = "rotation_advanced"
	TypeRotationFailed   Type = "rotation_failed"
	TypeDegradedMode     Type = "degraded_mode"
)

// Event is a single audit record. It must never carry secret material;
// Detail is for non-sensitive context only.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	ClientID      string    `json:"client_id"`
	Type          Type      `json:"event_type"`
	Outcome       string    `json:"outcome"`
	SourceAddress string    `json:"source_address,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Degraded      bool      `json:"degraded,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// Recorder accepts events. Recording is best-effort: callers log a
// recording failure and move on, they never fail the request over it.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Memory is an in-process recorder for tests and single-node setups.
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Record implements Recorder.
func (m *Memory) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything recorded.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType returns recorded events of one type.
func (m *Memory) ByType(eventType Type) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) error {
	return nil
}
