// Package backend implements the internal fabric side of the token
// contract: bearer-token verification, expired-token renewal delegated
// to the gateway, and the permission gate in front of business
// processing.
package backend

import (
	"context"
	"time"

	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/metrics"
	"github.com/authrelay/authrelay/internal/permissions"
	"github.com/authrelay/authrelay/internal/token"
)

// VerifyResult is the internal wire contract's validation outcome.
type VerifyResult struct {
	IsValid            bool   `json:"isValid"`
	IsExpired          bool   `json:"isExpired"`
	IsForbidden        bool   `json:"isForbidden"`
	IsRenewed          bool   `json:"isRenewed"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
	RenewedTokenString string `json:"renewedTokenString,omitempty"`

	// Claims of the accepted token, for business processing. Not part
	// of the wire contract.
	Claims *token.Claims `json:"-"`
}

// RenewalClient obtains a replacement for an expired token. The
// gateway is the sole minter; the backend only delegates.
type RenewalClient interface {
	Renew(ctx context.Context, tokenString string) (string, error)
}

// VerifierOptions tunes the verifier.
type VerifierOptions struct {
	Issuer         string
	Audience       string
	RenewalEnabled bool
	RenewalGrace   time.Duration
}

// Verifier checks inbound tokens for the backend.
type Verifier struct {
	codec    *token.Codec
	renewals RenewalClient
	checker  *permissions.Checker
	events   events.Recorder
	metrics  *metrics.Recorder
	logger   *logging.Logger
	opts     VerifierOptions
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock replaces the time source. Test helper.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier wires the token verification service. renewals may be
// nil when renewal is disabled.
func NewVerifier(codec *token.Codec, renewals RenewalClient, recorder events.Recorder, logger *logging.Logger, opts VerifierOptions, verifierOpts ...VerifierOption) *Verifier {
	v := &Verifier{
		codec:    codec,
		renewals: renewals,
		checker:  permissions.NewChecker(logger),
		events:   recorder,
		metrics:  metrics.NewRecorder(),
		logger:   logger.WithComponent("backend"),
		opts:     opts,
		now:      time.Now,
	}
	for _, opt := range verifierOpts {
		opt(v)
	}
	return v
}

// VerifyRequest validates tokenString and checks requiredPermission.
// An expired token inside the grace window is renewed through the
// gateway and the renewed token continues the request.
func (v *Verifier) VerifyRequest(ctx context.Context, tokenString, requiredPermission string) VerifyResult {
	if tokenString == "" {
		v.metrics.RecordVerification("missing")
		return VerifyResult{ErrorMessage: "bearer token is required"}
	}

	result := v.codec.Verify(tokenString, v.opts.Audience, []string{v.opts.Issuer})
	switch result.Status {
	case token.StatusValid:
		return v.authorize(ctx, tokenString, result.Claims, requiredPermission, false)

	case token.StatusExpired:
		return v.renew(ctx, tokenString, result.Claims, requiredPermission)

	default:
		v.metrics.RecordVerification("invalid")
		v.record(ctx, events.Event{
			Timestamp: v.now(),
			Type:      events.TypeAuthFailure,
			Outcome:   "invalid_token",
			Detail:    result.Reason,
		})
		return VerifyResult{ErrorMessage: "token rejected"}
	}
}

// renew handles the expired branch: inside the grace window the
// gateway is asked for a replacement, and verification restarts on the
// result.
func (v *Verifier) renew(ctx context.Context, tokenString string, claims *token.Claims, requiredPermission string) VerifyResult {
	expired := VerifyResult{IsExpired: true, ErrorMessage: "token expired"}

	if !v.opts.RenewalEnabled || v.renewals == nil {
		v.metrics.RecordVerification("expired")
		return expired
	}
	if claims == nil || v.now().Sub(claims.ExpiresAt.Time) > v.opts.RenewalGrace {
		v.metrics.RecordVerification("expired")
		return expired
	}

	renewed, err := v.renewals.Renew(ctx, tokenString)
	if err != nil {
		v.logger.Warn("token renewal failed for client %s: %v", claims.Subject, err)
		v.metrics.RecordVerification("renewal_failed")
		return expired
	}

	result := v.codec.Verify(renewed, v.opts.Audience, []string{v.opts.Issuer})
	if result.Status != token.StatusValid {
		v.metrics.RecordVerification("renewal_failed")
		return expired
	}

	out := v.authorize(ctx, renewed, result.Claims, requiredPermission, true)
	out.RenewedTokenString = renewed
	return out
}

// authorize runs the permission gate on an accepted token.
func (v *Verifier) authorize(ctx context.Context, tokenString string, claims *token.Claims, requiredPermission string, renewed bool) VerifyResult {
	if requiredPermission != "" {
		check := v.checker.Check(claims.Permissions, requiredPermission)
		if !check.Allowed {
			v.metrics.RecordVerification("forbidden")
			v.record(ctx, events.Event{
				Timestamp: v.now(),
				ClientID:  claims.Subject,
				Type:      events.TypeAuthFailure,
				Outcome:   "forbidden",
				Detail:    "missing permission " + requiredPermission,
			})
			return VerifyResult{IsForbidden: true, IsRenewed: renewed, ErrorMessage: "insufficient permissions"}
		}
	}

	v.metrics.RecordVerification("valid")
	return VerifyResult{IsValid: true, IsRenewed: renewed, Claims: claims}
}

func (v *Verifier) record(ctx context.Context, event events.Event) {
	event = events.Stamp(ctx, event)
	if err := v.events.Record(ctx, event); err != nil {
		v.logger.Warn("event recording failed: %v", err)
	}
}
