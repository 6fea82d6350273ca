// Package credential defines the versioned client credential records
// owned by the secret store, the live transition record that widens the
// acceptable-version set during a rotation, and constant-time secret
// validation.
package credential

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a credential version.
type Status string

const (
	// StatusActive credentials authenticate requests.
	StatusActive Status = "ACTIVE"

	// StatusDeprecated credentials stay readable so tokens already
	// minted against them remain comprehensible, but by default reject
	// new authentications.
	StatusDeprecated Status = "DEPRECATED"

	// StatusDisabled credentials reject everything and await removal.
	StatusDisabled Status = "DISABLED"
)

// Credential is a versioned secret record. The raw secret is never
// stored; HashedSecret is the argon2id output encoded by HashSecret.
type Credential struct {
	ClientID     string    `json:"client_id"`
	HashedSecret string    `json:"hashed_secret"`
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	Status       Status    `json:"status"`
	Permissions  []string  `json:"permissions,omitempty"`
}

// Encode serializes the record for the secret store.
func (c *Credential) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding credential %s: %w", c.ClientID, err)
	}
	return data, nil
}

// DecodeCredential parses a stored credential record.
func DecodeCredential(data []byte) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding credential: %w", err)
	}
	if c.ClientID == "" || c.Version == "" {
		return nil, fmt.Errorf("decoding credential: missing client_id or version")
	}
	return &c, nil
}

// TransitionState is where a live transition sits in the rotation DAG.
type TransitionState string

const (
	TransitionInitiated     TransitionState = "INITIATED"
	TransitionDualActive    TransitionState = "DUAL_ACTIVE"
	TransitionOldDeprecated TransitionState = "OLD_DEPRECATED"
	TransitionNewActive     TransitionState = "NEW_ACTIVE"
	TransitionFailed        TransitionState = "FAILED"
)

// Transition is the per-client record capturing which credential
// versions are currently acceptable. At most one live transition exists
// per client.
type Transition struct {
	ClientID   string          `json:"client_id"`
	OldVersion string          `json:"old_version"`
	NewVersion string          `json:"new_version"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	State      TransitionState `json:"state"`
}

// Encode serializes the record for the secret store.
func (t *Transition) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding transition %s: %w", t.ClientID, err)
	}
	return data, nil
}

// DecodeTransition parses a stored transition record.
func DecodeTransition(data []byte) (*Transition, error) {
	var t Transition
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding transition: %w", err)
	}
	return &t, nil
}

// Widens reports whether the transition currently widens the acceptable
// version set beyond the single default ACTIVE version.
func (t *Transition) Widens(now time.Time) bool {
	if t == nil {
		return false
	}
	switch t.State {
	case TransitionDualActive, TransitionOldDeprecated:
		return now.Before(t.EndTime) || t.State == TransitionOldDeprecated
	default:
		return false
	}
}

// Metadata is the short-lived cache view of a credential used as the
// degraded-mode fallback source. It mirrors the record minus anything
// the cache must not hold longer than its TTL allows.
type Metadata struct {
	ClientID     string    `json:"client_id"`
	Version      string    `json:"version"`
	HashedSecret string    `json:"hashed_secret"`
	Status       Status    `json:"status"`
	Permissions  []string  `json:"permissions,omitempty"`
	CachedAt     time.Time `json:"cached_at"`
}

// Encode serializes the metadata for the cache.
func (m *Metadata) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding credential metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata parses cached credential metadata.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding credential metadata: %w", err)
	}
	return &m, nil
}
