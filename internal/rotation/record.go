// Package rotation drives the multi-phase credential rotation state
// machine: INITIATED, DUAL_ACTIVE, OLD_DEPRECATED, NEW_ACTIVE, with
// FAILED reachable from any non-terminal state. It owns the
// process-level rotation record, the per-client transition record, and
// the rollback policy for each failure origin.
package rotation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/authrelay/authrelay/internal/credential"
)

// Rotation statuses as stored on the process-level record.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Record is the process-level rotation bookkeeping, keyed by client.
// At most one non-terminal record exists per client unless initiation
// was forced.
type Record struct {
	RotationID              string                     `json:"rotation_id"`
	ClientID                string                     `json:"client_id"`
	CurrentState            credential.TransitionState `json:"current_state"`
	TargetState             credential.TransitionState `json:"target_state"`
	OldVersion              string                     `json:"old_version"`
	NewVersion              string                     `json:"new_version"`
	TransitionPeriodMinutes int                        `json:"transition_period_minutes"`
	StartedAt               time.Time                  `json:"started_at"`
	CompletedAt             *time.Time                 `json:"completed_at,omitempty"`
	Status                  string                     `json:"status"`
	FailureReason           string                     `json:"failure_reason,omitempty"`
}

// Terminal reports whether the rotation has finished, successfully or
// not.
func (r *Record) Terminal() bool {
	return r.CurrentState == credential.TransitionNewActive ||
		r.CurrentState == credential.TransitionFailed
}

// TransitionPeriod returns the dual-active window length.
func (r *Record) TransitionPeriod() time.Duration {
	return time.Duration(r.TransitionPeriodMinutes) * time.Minute
}

// Encode serializes the record for the secret store.
func (r *Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding rotation record %s: %w", r.ClientID, err)
	}
	return data, nil
}

// DecodeRecord parses a stored rotation record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding rotation record: %w", err)
	}
	if r.ClientID == "" {
		return nil, fmt.Errorf("decoding rotation record: missing client_id")
	}
	return &r, nil
}

// next returns the single forward successor in the DAG, or "" for
// terminal states. FAILED is reachable from any non-terminal state but
// never via next.
func next(state credential.TransitionState) credential.TransitionState {
	switch state {
	case credential.TransitionInitiated:
		return credential.TransitionDualActive
	case credential.TransitionDualActive:
		return credential.TransitionOldDeprecated
	case credential.TransitionOldDeprecated:
		return credential.TransitionNewActive
	default:
		return ""
	}
}
