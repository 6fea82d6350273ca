// Package gateway implements the externally facing authentication
// service: legacy client-id and client-secret headers in, minted
// internal tokens out, with cache-backed degraded operation when the
// secret store is unreachable.
package gateway

import (
	"context"
	"time"

	"github.com/authrelay/authrelay/internal/cache"
	"github.com/authrelay/authrelay/internal/credential"
	apperrors "github.com/authrelay/authrelay/internal/errors"
	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/metrics"
	"github.com/authrelay/authrelay/internal/resilience"
	"github.com/authrelay/authrelay/internal/secretstore"
	"github.com/authrelay/authrelay/internal/token"
)

// transitionCacheTTL bounds how stale the acceptable-version set may
// be while a rotation is advancing.
const transitionCacheTTL = 5 * time.Second

// clockSkew is the allowance applied when judging cached tokens live.
const clockSkew = 30 * time.Second

// maxHeaderLength rejects absurd header values before any store work.
const maxHeaderLength = 256

// Options carries the service tuning derived from configuration.
type Options struct {
	TokenLifetime    time.Duration
	TokenCacheTTL    time.Duration
	CredMetaTTL      time.Duration
	RenewalEnabled   bool
	RenewalGrace     time.Duration
	AcceptDeprecated bool
	DegradedEnabled  bool
	Issuer           string
	Audience         string
	MintLockWait     time.Duration
	Retry            resilience.RetryConfig

	// Breaker tunes the secret-store circuit breaker; zero fields take
	// the package defaults.
	Breaker resilience.BreakerConfig

	// BulkheadQuota caps concurrent secret-store calls. Defaults to 32.
	BulkheadQuota int
}

// AuthResult is a successful authentication outcome.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	TokenType string

	// Degraded marks tokens minted from cached metadata during a
	// store outage. Internal only; never emitted to vendors.
	Degraded bool
}

// Service authenticates vendor requests and mints internal tokens. It
// is safe for concurrent use.
type Service struct {
	store   secretstore.Store
	cache   cache.Cache
	codec   *token.Codec
	events  events.Recorder
	metrics *metrics.Recorder
	logger  *logging.Logger

	breaker  *resilience.Breaker
	bulkhead *resilience.Bulkhead
	opts     Options

	locks *keyedMutex
	now   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces the time source. Test helper.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the authentication service.
func NewService(store secretstore.Store, c cache.Cache, codec *token.Codec, recorder events.Recorder, logger *logging.Logger, opts Options, serviceOpts ...ServiceOption) *Service {
	if opts.TokenLifetime <= 0 {
		opts.TokenLifetime = time.Hour
	}
	if opts.TokenCacheTTL <= 0 {
		opts.TokenCacheTTL = opts.TokenLifetime
	}
	if opts.CredMetaTTL <= 0 {
		opts.CredMetaTTL = 15 * time.Minute
	}
	if opts.BulkheadQuota <= 0 {
		opts.BulkheadQuota = 32
	}
	s := &Service{
		store:    store,
		cache:    c,
		codec:    codec,
		events:   recorder,
		metrics:  metrics.NewRecorder(),
		logger:   logger.WithComponent("gateway"),
		breaker:  resilience.NewBreaker("secret-store", opts.Breaker),
		bulkhead: resilience.NewBulkhead("secret-store", opts.BulkheadQuota),
		opts:     opts,
		locks:    newKeyedMutex(opts.MintLockWait),
		now:      time.Now,
	}
	for _, opt := range serviceOpts {
		opt(s)
	}
	return s
}

// Authenticate validates the legacy header pair and returns a token
// for the internal fabric, minting one if no live cached token exists.
func (s *Service) Authenticate(ctx context.Context, clientID, clientSecret string) (*AuthResult, error) {
	started := s.now()

	if clientID == "" || clientSecret == "" {
		s.metrics.RecordAuthAttempt("bad_request", s.now().Sub(started).Seconds())
		return nil, apperrors.New(apperrors.KindValidation, "client id and client secret headers are required")
	}
	if len(clientID) > maxHeaderLength || len(clientSecret) > maxHeaderLength {
		s.metrics.RecordAuthAttempt("bad_request", s.now().Sub(started).Seconds())
		return nil, apperrors.New(apperrors.KindValidation, "client id or client secret exceeds the permitted length")
	}

	// The secret only ever reaches a format verb through the redacting
	// wrapper.
	s.logger.WithClientID(clientID).Debug("authentication attempt, secret %s", logging.Secret(clientSecret))

	if res := s.cachedToken(ctx, clientID); res != nil {
		s.metrics.RecordTokenCache("hit")
		s.metrics.RecordAuthAttempt("success", s.now().Sub(started).Seconds())
		return res, nil
	}
	s.metrics.RecordTokenCache("miss")

	unlock, err := s.locks.Lock(ctx, clientID)
	if err != nil {
		s.metrics.RecordAuthAttempt("lock_timeout", s.now().Sub(started).Seconds())
		return nil, err
	}
	defer unlock()

	// Another request may have minted while this one waited.
	if res := s.cachedToken(ctx, clientID); res != nil {
		s.metrics.RecordTokenCache("hit")
		s.metrics.RecordAuthAttempt("success", s.now().Sub(started).Seconds())
		return res, nil
	}

	candidates, err := s.resolveCandidates(ctx, clientID)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindDependencyUnavailable:
			res, derr := s.authenticateDegraded(ctx, clientID, clientSecret, err)
			outcome := "degraded"
			if derr != nil {
				outcome = "unavailable"
			}
			s.metrics.RecordAuthAttempt(outcome, s.now().Sub(started).Seconds())
			return res, derr
		case apperrors.KindDependencyAuth:
			s.logger.Error("secret store rejected this gateway's session; operator intervention required")
			s.metrics.RecordAuthAttempt("store_auth_failure", s.now().Sub(started).Seconds())
			return nil, err
		}
		s.metrics.RecordAuthAttempt("error", s.now().Sub(started).Seconds())
		return nil, err
	}

	var matched *credential.Credential
	for _, cand := range candidates {
		if credential.Validate(clientSecret, cand, s.opts.AcceptDeprecated) {
			matched = cand
			break
		}
	}
	if matched == nil {
		s.record(ctx, events.Event{
			Timestamp: s.now(),
			ClientID:  clientID,
			Type:      events.TypeAuthFailure,
			Outcome:   "invalid_credentials",
		})
		s.metrics.RecordAuthAttempt("invalid_credentials", s.now().Sub(started).Seconds())
		return nil, apperrors.New(apperrors.KindAuthentication, "client credentials rejected")
	}

	s.cacheCredMeta(ctx, matched)

	res, err := s.mintAndCache(ctx, clientID, matched, false)
	if err != nil {
		s.metrics.RecordAuthAttempt("error", s.now().Sub(started).Seconds())
		return nil, err
	}
	s.record(ctx, events.Event{
		Timestamp: s.now(),
		ClientID:  clientID,
		Type:      events.TypeAuthSuccess,
		Outcome:   "success",
	})
	s.metrics.RecordAuthAttempt("success", s.now().Sub(started).Seconds())
	return res, nil
}

// Refresh re-issues a token. An expired token is renewable while its
// signature verifies and the elapsed expiry sits inside the grace
// window; a still-valid token is simply re-minted.
func (s *Service) Refresh(ctx context.Context, tokenString string) (*AuthResult, error) {
	result := s.codec.Verify(tokenString, s.opts.Audience, []string{s.opts.Issuer})
	switch result.Status {
	case token.StatusValid:
	case token.StatusExpired:
		if !s.opts.RenewalEnabled {
			return nil, apperrors.New(apperrors.KindAuthentication, "token renewal is disabled")
		}
		elapsed := s.now().Sub(result.Claims.ExpiresAt.Time)
		if elapsed > s.opts.RenewalGrace {
			return nil, apperrors.New(apperrors.KindAuthentication, "token expired beyond the renewal grace window")
		}
	default:
		return nil, apperrors.New(apperrors.KindAuthentication, "token rejected")
	}

	claims := result.Claims
	rec := &credential.Credential{
		ClientID:    claims.Subject,
		Permissions: claims.Permissions,
	}
	res, err := s.mintAndCache(ctx, claims.Subject, rec, claims.Degraded)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTokenRenewed()
	s.record(ctx, events.Event{
		Timestamp: s.now(),
		ClientID:  claims.Subject,
		Type:      events.TypeTokenRenewed,
		Outcome:   "success",
	})
	return res, nil
}

// ValidateToken reports whether a token currently verifies.
func (s *Service) ValidateToken(tokenString string) bool {
	return s.codec.Verify(tokenString, s.opts.Audience, []string{s.opts.Issuer}).Status == token.StatusValid
}

// Healthy reports dependency health for readiness probes.
func (s *Service) Healthy() bool {
	return s.store.Connected() && s.breaker.State() != resilience.BreakerOpen
}

// ---- internals ----

// cachedToken returns a live cached token for clientID, or nil.
func (s *Service) cachedToken(ctx context.Context, clientID string) *AuthResult {
	rawJTI, ok, err := s.cache.Get(ctx, cache.TokenLatestKey(clientID))
	if err != nil || !ok {
		return nil
	}
	raw, ok, err := s.cache.Get(ctx, cache.TokenKey(clientID, string(rawJTI)))
	if err != nil || !ok {
		return nil
	}
	entry, err := token.DecodeCacheEntry(raw)
	if err != nil || !entry.Live(s.now(), clockSkew) {
		return nil
	}
	return &AuthResult{
		Token:     entry.Token,
		ExpiresAt: entry.ExpiresAt,
		TokenType: "Bearer",
		Degraded:  entry.Degraded,
	}
}

// resolveCandidates determines the acceptable credential-version set:
// both versions of a live widening transition, otherwise the single
// default ACTIVE record.
func (s *Service) resolveCandidates(ctx context.Context, clientID string) ([]*credential.Credential, error) {
	trans, err := s.readTransitionCached(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if trans.Widens(s.now()) {
		var out []*credential.Credential
		for _, version := range []string{trans.OldVersion, trans.NewVersion} {
			cand, err := s.fetchCredential(ctx, secretstore.CredentialVersionPath(clientID, version))
			if err != nil {
				if secretstore.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			out = append(out, cand)
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	cand, err := s.fetchCredential(ctx, secretstore.CredentialPath(clientID))
	if err != nil {
		if secretstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return []*credential.Credential{cand}, nil
}

// readTransitionCached reads the live transition record through the
// micro-cache. Absence is cached too, as a JSON null.
func (s *Service) readTransitionCached(ctx context.Context, clientID string) (*credential.Transition, error) {
	key := cache.TransitionKey(clientID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		trans, err := credential.DecodeTransition(raw)
		if err == nil && trans.ClientID != "" {
			return trans, nil
		}
		return nil, nil
	}

	raw, err := s.storeGet(ctx, secretstore.TransitionPath(clientID))
	if err != nil {
		if secretstore.IsNotFound(err) {
			s.cacheSet(ctx, key, []byte("null"), transitionCacheTTL)
			return nil, nil
		}
		return nil, err
	}
	trans, err := credential.DecodeTransition(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "decoding transition record", err)
	}
	s.cacheSet(ctx, key, raw, transitionCacheTTL)
	return trans, nil
}

func (s *Service) fetchCredential(ctx context.Context, path string) (*credential.Credential, error) {
	raw, err := s.storeGet(ctx, path)
	if err != nil {
		return nil, err
	}
	cred, err := credential.DecodeCredential(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "decoding credential record", err)
	}
	return cred, nil
}

// storeGet reads from the secret store behind the bulkhead, circuit
// breaker, and retry stack. Not-found passes through unclassified so
// callers can treat it as an answer rather than an outage.
func (s *Service) storeGet(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := s.bulkhead.Do(ctx, func() error {
		return s.breaker.Do(func() error {
			return resilience.Retry(ctx, s.opts.Retry, func() error {
				raw, err := s.store.Get(ctx, path)
				if err != nil {
					return classifyStoreErr(err)
				}
				out = raw
				return nil
			})
		})
	})
	return out, err
}

func classifyStoreErr(err error) error {
	if secretstore.IsNotFound(err) {
		return err
	}
	// The store answering with an auth failure means its view of this
	// gateway's credentials is broken, not that it is unreachable.
	// Retrying or serving from the degraded cache would mask that.
	if secretstore.IsAuthError(err) {
		return apperrors.Wrap(apperrors.KindDependencyAuth, "secret store rejected the gateway session", err)
	}
	return apperrors.Wrap(apperrors.KindDependencyUnavailable, "secret store unavailable", err)
}

// authenticateDegraded serves an authentication from cached credential
// metadata during a store outage. cause is the outage error returned
// when no usable cache entry exists.
func (s *Service) authenticateDegraded(ctx context.Context, clientID, clientSecret string, cause error) (*AuthResult, error) {
	if !s.opts.DegradedEnabled {
		return nil, cause
	}

	raw, ok, err := s.cache.Get(ctx, cache.CredMetaKey(clientID))
	if err != nil || !ok {
		s.logger.Error("secret store unreachable and no cached metadata for client %s; failing closed", clientID)
		s.record(ctx, events.Event{
			Timestamp: s.now(),
			ClientID:  clientID,
			Type:      events.TypeDegradedMode,
			Outcome:   "cold_cache",
		})
		return nil, cause
	}
	meta, err := credential.DecodeMetadata(raw)
	if err != nil {
		return nil, cause
	}

	rec := &credential.Credential{
		ClientID:     meta.ClientID,
		HashedSecret: meta.HashedSecret,
		Version:      meta.Version,
		Status:       meta.Status,
		Permissions:  meta.Permissions,
	}
	if !credential.Validate(clientSecret, rec, s.opts.AcceptDeprecated) {
		s.record(ctx, events.Event{
			Timestamp: s.now(),
			ClientID:  clientID,
			Type:      events.TypeAuthFailure,
			Outcome:   "invalid_credentials",
			Degraded:  true,
		})
		return nil, apperrors.New(apperrors.KindAuthentication, "client credentials rejected")
	}

	s.logger.Warn("serving client %s from cached metadata while the secret store is unreachable", clientID)
	s.metrics.RecordDegradedGrant()
	s.record(ctx, events.Event{
		Timestamp: s.now(),
		ClientID:  clientID,
		Type:      events.TypeDegradedMode,
		Outcome:   "granted",
		Degraded:  true,
	})
	res, err := s.mintAndCache(ctx, clientID, rec, true)
	if err != nil {
		return nil, err
	}
	s.record(ctx, events.Event{
		Timestamp: s.now(),
		ClientID:  clientID,
		Type:      events.TypeAuthSuccess,
		Outcome:   "success",
		Degraded:  true,
	})
	return res, nil
}

// mintAndCache mints a token bound to rec and stores it under the
// per-jti key plus the latest pointer.
func (s *Service) mintAndCache(ctx context.Context, clientID string, rec *credential.Credential, degraded bool) (*AuthResult, error) {
	signed, claims, err := s.codec.Mint(clientID, rec.Permissions, s.opts.TokenLifetime, degraded)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "minting token", err)
	}

	entry := &token.CacheEntry{
		Token:     signed,
		JTI:       claims.ID,
		ClientID:  clientID,
		ExpiresAt: claims.ExpiresAt.Time,
		Degraded:  degraded,
		Version:   rec.Version,
	}
	if data, err := entry.Encode(); err == nil {
		s.cacheSet(ctx, cache.TokenKey(clientID, claims.ID), data, s.opts.TokenCacheTTL)
		s.cacheSet(ctx, cache.TokenLatestKey(clientID), []byte(claims.ID), s.opts.TokenCacheTTL)
	}

	status := string(credential.StatusActive)
	if rec.Status != "" {
		status = string(rec.Status)
	}
	s.metrics.RecordTokenMinted(status)
	s.record(ctx, events.Event{
		Timestamp: s.now(),
		ClientID:  clientID,
		Type:      events.TypeTokenMinted,
		Outcome:   "success",
		Degraded:  degraded,
	})

	return &AuthResult{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		TokenType: "Bearer",
		Degraded:  degraded,
	}, nil
}

// cacheCredMeta refreshes the degraded-mode fallback view after a
// successful store-backed validation.
func (s *Service) cacheCredMeta(ctx context.Context, rec *credential.Credential) {
	meta := &credential.Metadata{
		ClientID:     rec.ClientID,
		Version:      rec.Version,
		HashedSecret: rec.HashedSecret,
		Status:       rec.Status,
		Permissions:  rec.Permissions,
		CachedAt:     s.now(),
	}
	if data, err := meta.Encode(); err == nil {
		s.cacheSet(ctx, cache.CredMetaKey(rec.ClientID), data, s.opts.CredMetaTTL)
	}
}

func (s *Service) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.cache.SetWithTTL(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache write failed for %s: %v", key, err)
	}
}

func (s *Service) record(ctx context.Context, event events.Event) {
	event = events.Stamp(ctx, event)
	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Warn("event recording failed: %v", err)
	}
}
