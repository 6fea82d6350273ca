package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/authrelay/authrelay/internal/errors"
	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/resilience"
	"github.com/authrelay/authrelay/internal/secretstore"
	"github.com/authrelay/authrelay/internal/token"
)

const (
	testIssuer   = "authrelay-gateway"
	testAudience = "authrelay-backend"
)

type fixture struct {
	codec    *token.Codec
	events   *events.Memory
	verifier *Verifier
	renewals *fakeRenewals
	now      time.Time
}

// fakeRenewals re-mints through the same codec, standing in for the
// gateway refresh endpoint.
type fakeRenewals struct {
	codec *token.Codec
	err   error
	calls int
}

func (f *fakeRenewals) Renew(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	signed, _, err := f.codec.Mint("acme", []string{"payments:write"}, time.Hour, false)
	return signed, err
}

func newFixture(t *testing.T, opts VerifierOptions) *fixture {
	t.Helper()

	f := &fixture{
		events: events.NewMemory(),
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	store := secretstore.NewMemory("test")
	signingKey := make([]byte, 32)
	for i := range signingKey {
		signingKey[i] = byte(i)
	}
	material, err := token.EncodeKeyMaterial("k1", signingKey, "", nil, make([]byte, 32))
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), secretstore.SigningKeyPath(), material))

	keyring := token.NewKeyring(store, logging.Nop())
	require.NoError(t, keyring.Load(context.Background()))
	f.codec = token.NewCodec(keyring, testIssuer, testAudience, time.Hour, token.NewRevocations(), token.WithClock(clock))
	f.renewals = &fakeRenewals{codec: f.codec}

	if opts.Issuer == "" {
		opts.Issuer = testIssuer
		opts.Audience = testAudience
	}
	f.verifier = NewVerifier(f.codec, f.renewals, f.events, logging.Nop(), opts, WithClock(clock))
	return f
}

func (f *fixture) mint(t *testing.T, permissions []string) string {
	t.Helper()
	signed, _, err := f.codec.Mint("acme", permissions, time.Hour, false)
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	signed := f.mint(t, []string{"payments:write"})

	result := f.verifier.VerifyRequest(context.Background(), signed, "payments:write")
	assert.True(t, result.IsValid)
	assert.False(t, result.IsExpired)
	assert.False(t, result.IsForbidden)
	assert.False(t, result.IsRenewed)
	require.NotNil(t, result.Claims)
	assert.Equal(t, "acme", result.Claims.Subject)
}

func TestVerifyMissingToken(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	result := f.verifier.VerifyRequest(context.Background(), "", "payments:write")
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestVerifyTamperedToken(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	signed := f.mint(t, nil)

	result := f.verifier.VerifyRequest(context.Background(), signed+"x", "")
	assert.False(t, result.IsValid)
	assert.False(t, result.IsExpired)
	assert.Len(t, f.events.ByType(events.TypeAuthFailure), 1)
}

func TestVerifyForbidden(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	signed := f.mint(t, []string{"reports:read"})

	result := f.verifier.VerifyRequest(context.Background(), signed, "payments:write")
	assert.False(t, result.IsValid)
	assert.True(t, result.IsForbidden)
}

func TestVerifyWildcardPermission(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	signed := f.mint(t, []string{"payments:*"})

	result := f.verifier.VerifyRequest(context.Background(), signed, "payments:write")
	assert.True(t, result.IsValid)
}

func TestExpiredTokenRenewedWithinGrace(t *testing.T) {
	f := newFixture(t, VerifierOptions{RenewalEnabled: true, RenewalGrace: 5 * time.Minute})
	signed := f.mint(t, []string{"payments:write"})

	f.now = f.now.Add(time.Hour + time.Minute)
	result := f.verifier.VerifyRequest(context.Background(), signed, "payments:write")

	assert.True(t, result.IsValid)
	assert.True(t, result.IsRenewed)
	assert.NotEmpty(t, result.RenewedTokenString)
	assert.NotEqual(t, signed, result.RenewedTokenString)
	assert.Equal(t, 1, f.renewals.calls)
}

func TestExpiredTokenBeyondGrace(t *testing.T) {
	f := newFixture(t, VerifierOptions{RenewalEnabled: true, RenewalGrace: 5 * time.Minute})
	signed := f.mint(t, nil)

	f.now = f.now.Add(time.Hour + 6*time.Minute)
	result := f.verifier.VerifyRequest(context.Background(), signed, "")

	assert.False(t, result.IsValid)
	assert.True(t, result.IsExpired)
	assert.Zero(t, f.renewals.calls, "beyond the grace window the gateway is not called")
}

func TestExpiredTokenRenewalDisabled(t *testing.T) {
	f := newFixture(t, VerifierOptions{RenewalEnabled: false})
	signed := f.mint(t, nil)

	f.now = f.now.Add(time.Hour + time.Minute)
	result := f.verifier.VerifyRequest(context.Background(), signed, "")

	assert.False(t, result.IsValid)
	assert.True(t, result.IsExpired)
	assert.Zero(t, f.renewals.calls)
}

func TestRenewalFailureFallsBackToExpired(t *testing.T) {
	f := newFixture(t, VerifierOptions{RenewalEnabled: true, RenewalGrace: 5 * time.Minute})
	signed := f.mint(t, nil)
	f.renewals.err = errors.New("gateway down")

	f.now = f.now.Add(time.Hour + time.Minute)
	result := f.verifier.VerifyRequest(context.Background(), signed, "")

	assert.False(t, result.IsValid)
	assert.True(t, result.IsExpired)
	assert.Empty(t, result.RenewedTokenString)
}

func TestValidateHandler(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	server := NewServer(f.verifier, logging.Nop())
	signed := f.mint(t, []string{"payments:write"})

	payload, _ := json.Marshal(map[string]string{
		"tokenString":        signed,
		"requiredPermission": "payments:write",
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/tokens/validate", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsValid)
}

func TestValidateHandlerBearerFallback(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	server := NewServer(f.verifier, logging.Nop())
	signed := f.mint(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/tokens/validate", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsValid)
}

func TestValidateHandlerForbiddenStatus(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	server := NewServer(f.verifier, logging.Nop())
	signed := f.mint(t, []string{"reports:read"})

	payload, _ := json.Marshal(map[string]string{
		"tokenString":        signed,
		"requiredPermission": "payments:write",
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/tokens/validate", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRenewHandler(t *testing.T) {
	f := newFixture(t, VerifierOptions{RenewalEnabled: true, RenewalGrace: 5 * time.Minute})
	server := NewServer(f.verifier, logging.Nop())
	signed := f.mint(t, nil)

	f.now = f.now.Add(time.Hour + time.Minute)
	payload, _ := json.Marshal(map[string]string{"tokenString": signed})
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/tokens/renew", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsValid)
	assert.True(t, result.IsRenewed)
	assert.NotEmpty(t, result.RenewedTokenString)
}

func TestGatewayRenewalClientRoundTrip(t *testing.T) {
	f := newFixture(t, VerifierOptions{})
	fresh := f.mint(t, nil)

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auth/refresh", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": fresh})
	}))
	defer gateway.Close()

	client := NewGatewayRenewalClient(gateway.URL, time.Second)
	renewed, err := client.Renew(context.Background(), "expired-token")
	require.NoError(t, err)
	assert.Equal(t, fresh, renewed)
}

func TestGatewayRenewalClientRefused(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer gateway.Close()

	client := NewGatewayRenewalClient(gateway.URL, time.Second)
	_, err := client.Renew(context.Background(), "expired-token")
	assert.Error(t, err)
}

type failingTransport struct {
	calls int
}

func (ft *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	ft.calls++
	return nil, errors.New("connection refused")
}

func TestGatewayRenewalClientBreakerSheds(t *testing.T) {
	client := NewGatewayRenewalClient("http://gateway.internal", time.Second)
	ft := &failingTransport{}
	client.client.Transport = ft
	client.breaker = resilience.NewBreaker("gateway", resilience.BreakerConfig{
		WindowSize:   4,
		MinRequests:  2,
		FailureRatio: 0.5,
		Cooldown:     time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := client.Renew(context.Background(), "expired-token")
		require.Error(t, err)
	}
	require.Equal(t, 2, ft.calls)

	_, err := client.Renew(context.Background(), "expired-token")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDependencyUnavailable, apperrors.KindOf(err))
	assert.Equal(t, 2, ft.calls, "an open circuit answers without a gateway call")
}
