package rotation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/authrelay/authrelay/internal/cache"
	"github.com/authrelay/authrelay/internal/credential"
	apperrors "github.com/authrelay/authrelay/internal/errors"
	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/metrics"
	"github.com/authrelay/authrelay/internal/secretstore"
)

// indexPath lists the clients with a rotation record, since the store
// capability set has no enumeration. Client ids starting with an
// underscore are reserved.
const indexPath = "rotations/_index"

// Machine applies rotation state transitions and their vault and
// cache side effects. Mutations for one client must be serialized by
// the caller, normally through a Lease.
type Machine struct {
	store   secretstore.Store
	cache   cache.Cache
	events  events.Recorder
	metrics *metrics.Recorder
	logger  *logging.Logger

	defaultTransition time.Duration
	now               func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the time source. Test helper.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a rotation machine.
func NewMachine(store secretstore.Store, c cache.Cache, recorder events.Recorder, logger *logging.Logger, defaultTransition time.Duration, opts ...Option) *Machine {
	m := &Machine{
		store:             store,
		cache:             c,
		events:            recorder,
		metrics:           metrics.NewRecorder(),
		logger:            logger.WithComponent("rotation"),
		defaultTransition: defaultTransition,
		now:               time.Now,
	}
	if m.defaultTransition < 5*time.Minute {
		m.defaultTransition = 5 * time.Minute
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitiateResult carries the one-time plaintext secret back to the
// operator. It is never persisted or logged.
type InitiateResult struct {
	Record *Record

	// NewSecret is shown exactly once; afterwards only its hash exists.
	NewSecret string
}

// Initiate starts a rotation for clientID: generates and stores the
// new credential version and records the transition, without yet
// making the new version acceptable for authentication.
func (m *Machine) Initiate(ctx context.Context, clientID string, transitionPeriod time.Duration, force bool, origin string) (*InitiateResult, error) {
	existing, err := m.load(ctx, clientID)
	if err != nil && apperrors.KindOf(err) != apperrors.KindValidation {
		return nil, err
	}
	if existing != nil && !existing.Terminal() && !force {
		return nil, apperrors.Newf(apperrors.KindRotationConflict,
			"a rotation for client %s is already in state %s", clientID, existing.CurrentState)
	}

	old, err := m.readCredential(ctx, secretstore.CredentialPath(clientID))
	if err != nil {
		return nil, err
	}

	newSecret, err := credential.GenerateSecret()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "generating replacement secret", err)
	}
	hashed, err := credential.HashSecret(newSecret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "hashing replacement secret", err)
	}

	if transitionPeriod <= 0 {
		transitionPeriod = m.defaultTransition
	}
	now := m.now()
	newVersion := uuid.NewString()
	newCred := &credential.Credential{
		ClientID:     clientID,
		HashedSecret: hashed,
		Version:      newVersion,
		CreatedAt:    now,
		Status:       credential.StatusActive,
		Permissions:  old.Permissions,
	}

	rec := &Record{
		RotationID:              uuid.NewString(),
		ClientID:                clientID,
		CurrentState:            credential.TransitionInitiated,
		TargetState:             credential.TransitionNewActive,
		OldVersion:              old.Version,
		NewVersion:              newVersion,
		TransitionPeriodMinutes: int(transitionPeriod / time.Minute),
		StartedAt:               now,
		Status:                  StatusRunning,
	}

	// The old version needs a per-version record so the dual-active
	// candidate set resolves both versions the same way.
	if err := m.writeCredential(ctx, secretstore.CredentialVersionPath(clientID, old.Version), old); err != nil {
		return nil, err
	}
	if err := m.writeCredential(ctx, secretstore.CredentialVersionPath(clientID, newVersion), newCred); err != nil {
		return nil, err
	}

	trans := &credential.Transition{
		ClientID:   clientID,
		OldVersion: old.Version,
		NewVersion: newVersion,
		State:      credential.TransitionInitiated,
	}
	if err := m.writeTransition(ctx, trans); err != nil {
		m.rollbackFromInitiated(ctx, rec)
		return nil, err
	}
	if err := m.persist(ctx, rec); err != nil {
		m.rollbackFromInitiated(ctx, rec)
		return nil, err
	}
	if err := m.indexAdd(ctx, clientID); err != nil {
		m.logger.Warn("rotation index update failed for client %s: %v", clientID, err)
	}
	m.invalidateTransition(ctx, clientID)

	m.metrics.RecordRotationStarted(origin)
	m.record(ctx, events.Event{
		Timestamp: now,
		ClientID:  clientID,
		Type:      events.TypeRotationAdvanced,
		Outcome:   string(credential.TransitionInitiated),
		Detail:    "rotation initiated",
	})
	m.logger.Info("rotation initiated for client %s, old version %s, new version %s", clientID, old.Version, newVersion)

	return &InitiateResult{Record: rec, NewSecret: newSecret}, nil
}

// Advance moves the rotation one step forward in the DAG. Advancing a
// terminal rotation returns the current record unchanged. A side
// effect failure transitions the rotation to FAILED after rolling back
// per the failure origin.
func (m *Machine) Advance(ctx context.Context, clientID string) (*Record, error) {
	rec, err := m.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.Newf(apperrors.KindValidation, "no rotation exists for client %s", clientID)
	}
	if rec.Terminal() {
		return rec, nil
	}

	target := next(rec.CurrentState)
	if target == "" {
		return nil, apperrors.Newf(apperrors.KindInvalidStateTransition,
			"rotation for client %s cannot advance from %s", clientID, rec.CurrentState)
	}

	if err := m.apply(ctx, rec, target); err != nil {
		m.fail(ctx, rec, rec.CurrentState, err.Error())
		return rec, err
	}

	rec.CurrentState = target
	if target == credential.TransitionNewActive {
		now := m.now()
		rec.CompletedAt = &now
		rec.Status = StatusCompleted
	}
	if err := m.persist(ctx, rec); err != nil {
		return rec, err
	}
	m.invalidateTransition(ctx, clientID)

	if rec.Terminal() {
		m.metrics.RecordRotationCompleted(string(rec.CurrentState), m.now().Sub(rec.StartedAt).Seconds())
		if err := m.indexRemove(ctx, clientID); err != nil {
			m.logger.Warn("rotation index update failed for client %s: %v", clientID, err)
		}
	}
	m.record(ctx, events.Event{
		Timestamp: m.now(),
		ClientID:  clientID,
		Type:      events.TypeRotationAdvanced,
		Outcome:   string(target),
	})
	m.logger.Info("rotation for client %s advanced to %s", clientID, target)
	return rec, nil
}

// Cancel aborts a running rotation, rolling back to the pre-rotation
// credential set.
func (m *Machine) Cancel(ctx context.Context, clientID, reason string) (*Record, error) {
	rec, err := m.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.Newf(apperrors.KindValidation, "no rotation exists for client %s", clientID)
	}
	if rec.Terminal() {
		return rec, apperrors.Newf(apperrors.KindInvalidStateTransition,
			"rotation for client %s already finished in state %s", clientID, rec.CurrentState)
	}

	m.fail(ctx, rec, rec.CurrentState, reason)
	return rec, nil
}

// Status returns the rotation record for clientID, or nil when none
// exists.
func (m *Machine) Status(ctx context.Context, clientID string) (*Record, error) {
	return m.load(ctx, clientID)
}

// List returns every indexed rotation record.
func (m *Machine) List(ctx context.Context) ([]*Record, error) {
	ids, err := m.indexRead(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := m.load(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// AdvanceDue advances every rotation whose time condition is met: a
// DUAL_ACTIVE rotation past its end time moves to OLD_DEPRECATED.
// States without a time condition wait for an explicit advance.
func (m *Machine) AdvanceDue(ctx context.Context, lease *Lease) {
	recs, err := m.List(ctx)
	if err != nil {
		m.logger.Warn("rotation scan failed: %v", err)
		return
	}
	now := m.now()
	for _, rec := range recs {
		if rec.Terminal() || rec.CurrentState != credential.TransitionDualActive {
			continue
		}
		trans, err := m.readTransition(ctx, rec.ClientID)
		if err != nil || trans == nil || now.Before(trans.EndTime) {
			continue
		}
		release, err := lease.Acquire(ctx, rec.ClientID)
		if err != nil {
			continue
		}
		if _, err := m.Advance(ctx, rec.ClientID); err != nil {
			m.logger.Warn("automatic advance failed for client %s: %v", rec.ClientID, err)
		}
		release()
	}
}

// apply performs the vault and cache side effects of entering target.
func (m *Machine) apply(ctx context.Context, rec *Record, target credential.TransitionState) error {
	switch target {
	case credential.TransitionDualActive:
		now := m.now()
		trans := &credential.Transition{
			ClientID:   rec.ClientID,
			OldVersion: rec.OldVersion,
			NewVersion: rec.NewVersion,
			StartTime:  now,
			EndTime:    now.Add(rec.TransitionPeriod()),
			State:      credential.TransitionDualActive,
		}
		return m.writeTransition(ctx, trans)

	case credential.TransitionOldDeprecated:
		if err := m.setStatus(ctx, rec.ClientID, rec.OldVersion, credential.StatusDeprecated); err != nil {
			return err
		}
		trans, err := m.readTransition(ctx, rec.ClientID)
		if err != nil {
			return err
		}
		if trans == nil {
			return apperrors.Newf(apperrors.KindInternal, "transition record missing for client %s", rec.ClientID)
		}
		trans.State = credential.TransitionOldDeprecated
		if err := m.writeTransition(ctx, trans); err != nil {
			return err
		}
		m.invalidateCredMeta(ctx, rec.ClientID)
		return nil

	case credential.TransitionNewActive:
		newCred, err := m.readCredential(ctx, secretstore.CredentialVersionPath(rec.ClientID, rec.NewVersion))
		if err != nil {
			return err
		}
		if err := m.writeCredential(ctx, secretstore.CredentialPath(rec.ClientID), newCred); err != nil {
			return err
		}
		if err := m.storeDelete(ctx, secretstore.CredentialVersionPath(rec.ClientID, rec.OldVersion)); err != nil {
			return err
		}
		if err := m.storeDelete(ctx, secretstore.TransitionPath(rec.ClientID)); err != nil {
			return err
		}
		// Tokens minted during the window may be bound to the retired
		// version; dropping every token for the client is the simple
		// correct invalidation.
		m.invalidateCredMeta(ctx, rec.ClientID)
		if _, err := m.cache.InvalidatePrefix(ctx, cache.TokenPrefix(rec.ClientID)); err != nil {
			m.logger.Warn("token invalidation failed for client %s: %v", rec.ClientID, err)
		}
		return nil

	default:
		return apperrors.Newf(apperrors.KindInvalidStateTransition, "no side effects defined for state %s", target)
	}
}

// fail transitions rec to FAILED, rolling back side effects according
// to the state the failure occurred in. Rollback writes are
// best-effort; failures are logged and the record still lands FAILED.
func (m *Machine) fail(ctx context.Context, rec *Record, origin credential.TransitionState, reason string) {
	switch origin {
	case credential.TransitionInitiated:
		m.rollbackFromInitiated(ctx, rec)
	case credential.TransitionDualActive:
		// A failed deprecation may have marked the old version before
		// dying; force it back to ACTIVE either way.
		if err := m.setStatus(ctx, rec.ClientID, rec.OldVersion, credential.StatusActive); err != nil {
			m.logger.Error("rollback could not reactivate version %s for client %s: %v", rec.OldVersion, rec.ClientID, err)
		}
		m.tryDelete(ctx, secretstore.TransitionPath(rec.ClientID))
		m.tryDelete(ctx, secretstore.CredentialVersionPath(rec.ClientID, rec.NewVersion))
	case credential.TransitionOldDeprecated:
		if err := m.setStatus(ctx, rec.ClientID, rec.OldVersion, credential.StatusActive); err != nil {
			m.logger.Error("rollback could not reactivate version %s for client %s: %v", rec.OldVersion, rec.ClientID, err)
		}
		m.tryDelete(ctx, secretstore.TransitionPath(rec.ClientID))
		m.tryDelete(ctx, secretstore.CredentialVersionPath(rec.ClientID, rec.NewVersion))
	}

	now := m.now()
	rec.CurrentState = credential.TransitionFailed
	rec.Status = StatusFailed
	rec.FailureReason = reason
	rec.CompletedAt = &now
	if err := m.persist(ctx, rec); err != nil {
		m.logger.Error("failed rotation record for client %s could not be persisted: %v", rec.ClientID, err)
	}
	if err := m.indexRemove(ctx, rec.ClientID); err != nil {
		m.logger.Warn("rotation index update failed for client %s: %v", rec.ClientID, err)
	}
	m.invalidateTransition(ctx, rec.ClientID)
	m.invalidateCredMeta(ctx, rec.ClientID)

	m.metrics.RecordRotationCompleted(string(credential.TransitionFailed), now.Sub(rec.StartedAt).Seconds())
	m.record(ctx, events.Event{
		Timestamp: now,
		ClientID:  rec.ClientID,
		Type:      events.TypeRotationFailed,
		Outcome:   string(origin),
		Detail:    reason,
	})
	m.logger.Warn("rotation for client %s failed from state %s: %s", rec.ClientID, origin, reason)
}

func (m *Machine) rollbackFromInitiated(ctx context.Context, rec *Record) {
	m.tryDelete(ctx, secretstore.CredentialVersionPath(rec.ClientID, rec.NewVersion))
	m.tryDelete(ctx, secretstore.TransitionPath(rec.ClientID))
}

// ---- store and cache helpers ----

func (m *Machine) load(ctx context.Context, clientID string) (*Record, error) {
	raw, err := m.store.Get(ctx, secretstore.RotationPath(clientID))
	if err != nil {
		if secretstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindDependencyUnavailable, "reading rotation record", err)
	}
	return DecodeRecord(raw)
}

func (m *Machine) persist(ctx context.Context, rec *Record) error {
	data, err := rec.Encode()
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encoding rotation record", err)
	}
	if err := m.store.Put(ctx, secretstore.RotationPath(rec.ClientID), data); err != nil {
		return apperrors.Wrap(apperrors.KindDependencyUnavailable, "writing rotation record", err)
	}
	return nil
}

func (m *Machine) readCredential(ctx context.Context, path string) (*credential.Credential, error) {
	raw, err := m.store.Get(ctx, path)
	if err != nil {
		if secretstore.IsNotFound(err) {
			return nil, apperrors.Newf(apperrors.KindValidation, "no credential record at %s", path)
		}
		return nil, apperrors.Wrap(apperrors.KindDependencyUnavailable, "reading credential record", err)
	}
	return credential.DecodeCredential(raw)
}

func (m *Machine) writeCredential(ctx context.Context, path string, cred *credential.Credential) error {
	data, err := cred.Encode()
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encoding credential record", err)
	}
	if err := m.store.Put(ctx, path, data); err != nil {
		return apperrors.Wrap(apperrors.KindDependencyUnavailable, "writing credential record", err)
	}
	return nil
}

// setStatus updates both the per-version record and, when it holds the
// same version, the default record.
func (m *Machine) setStatus(ctx context.Context, clientID, version string, status credential.Status) error {
	cred, err := m.readCredential(ctx, secretstore.CredentialVersionPath(clientID, version))
	if err != nil {
		return err
	}
	cred.Status = status
	if err := m.writeCredential(ctx, secretstore.CredentialVersionPath(clientID, version), cred); err != nil {
		return err
	}

	def, err := m.readCredential(ctx, secretstore.CredentialPath(clientID))
	if err == nil && def.Version == version {
		def.Status = status
		return m.writeCredential(ctx, secretstore.CredentialPath(clientID), def)
	}
	return nil
}

func (m *Machine) readTransition(ctx context.Context, clientID string) (*credential.Transition, error) {
	raw, err := m.store.Get(ctx, secretstore.TransitionPath(clientID))
	if err != nil {
		if secretstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindDependencyUnavailable, "reading transition record", err)
	}
	return credential.DecodeTransition(raw)
}

func (m *Machine) writeTransition(ctx context.Context, trans *credential.Transition) error {
	data, err := trans.Encode()
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encoding transition record", err)
	}
	if err := m.store.Put(ctx, secretstore.TransitionPath(trans.ClientID), data); err != nil {
		return apperrors.Wrap(apperrors.KindDependencyUnavailable, "writing transition record", err)
	}
	return nil
}

func (m *Machine) storeDelete(ctx context.Context, path string) error {
	if err := m.store.Delete(ctx, path); err != nil {
		return apperrors.Wrap(apperrors.KindDependencyUnavailable, "deleting "+path, err)
	}
	return nil
}

func (m *Machine) tryDelete(ctx context.Context, path string) {
	if err := m.store.Delete(ctx, path); err != nil {
		m.logger.Error("rollback delete of %s failed: %v", path, err)
	}
}

func (m *Machine) invalidateTransition(ctx context.Context, clientID string) {
	if err := m.cache.Delete(ctx, cache.TransitionKey(clientID)); err != nil {
		m.logger.Warn("transition cache invalidation failed for client %s: %v", clientID, err)
	}
}

func (m *Machine) invalidateCredMeta(ctx context.Context, clientID string) {
	if err := m.cache.Delete(ctx, cache.CredMetaKey(clientID)); err != nil {
		m.logger.Warn("credential metadata invalidation failed for client %s: %v", clientID, err)
	}
}

func (m *Machine) record(ctx context.Context, event events.Event) {
	if err := m.events.Record(ctx, event); err != nil {
		m.logger.Warn("event recording failed: %v", err)
	}
}

func (m *Machine) indexRead(ctx context.Context) ([]string, error) {
	raw, err := m.store.Get(ctx, indexPath)
	if err != nil {
		if secretstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindDependencyUnavailable, "reading rotation index", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "decoding rotation index", err)
	}
	return ids, nil
}

func (m *Machine) indexAdd(ctx context.Context, clientID string) error {
	ids, err := m.indexRead(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == clientID {
			return nil
		}
	}
	return m.indexWrite(ctx, append(ids, clientID))
}

func (m *Machine) indexRemove(ctx context.Context, clientID string) error {
	ids, err := m.indexRead(ctx)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, id := range ids {
		if id != clientID {
			out = append(out, id)
		}
	}
	return m.indexWrite(ctx, out)
}

func (m *Machine) indexWrite(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encoding rotation index", err)
	}
	if err := m.store.Put(ctx, indexPath, data); err != nil {
		return apperrors.Wrap(apperrors.KindDependencyUnavailable, "writing rotation index", err)
	}
	return nil
}
