package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/internal/cache"
	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
)

// newTestServer wires the gateway in front of a fake backend that
// records the authorization header it receives.
func newTestServer(t *testing.T, opts Options) (*fixture, *Server, *string) {
	t.Helper()
	f := newFixture(t, opts)

	var seenAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		assert.Empty(t, r.Header.Get(HeaderClientSecret), "legacy secret must not reach the backend")
		assert.NotEmpty(t, r.Header.Get(HeaderCorrelationID))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"processed"}`))
	}))
	t.Cleanup(backend.Close)

	forwarder := NewForwarder(backend.URL, 5*time.Second, logging.Nop())
	return f, NewServer(f.service, forwarder, logging.Nop()), &seenAuth
}

func TestPaymentsHappyPath(t *testing.T) {
	f, server, seenAuth := newTestServer(t, Options{})

	body := `{"amount":10.00,"currency":"USD","reference":"R1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	req.Header.Set(HeaderClientID, "acme")
	req.Header.Set(HeaderClientSecret, "sekret")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"processed"}`, rec.Body.String())
	assert.True(t, strings.HasPrefix(*seenAuth, "Bearer "), "backend must receive a bearer token")

	keys, err := f.cache.ScanPrefix(req.Context(), cache.TokenPrefix("acme"))
	require.NoError(t, err)
	assert.NotEmpty(t, keys)
}

func TestPaymentsBadSecret(t *testing.T) {
	f, server, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{}`))
	req.Header.Set(HeaderClientID, "acme")
	req.Header.Set(HeaderClientSecret, "wrong")
	req.Header.Set(HeaderCorrelationID, "corr-42")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AUTH_ERROR", body.ErrorCode)
	assert.Equal(t, "corr-42", body.RequestID)
	assert.NotContains(t, rec.Body.String(), "wrong", "presented secret must never echo back")

	assert.Len(t, f.events.ByType(events.TypeAuthFailure), 1)
	assert.Empty(t, f.events.ByType(events.TypeTokenMinted))
}

func TestAuthEventsCarryRequestContext(t *testing.T) {
	f, server, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.Header.Set(HeaderClientID, "acme")
	req.Header.Set(HeaderClientSecret, "wrong")
	req.Header.Set(HeaderCorrelationID, "corr-77")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	failures := f.events.ByType(events.TypeAuthFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "corr-77", failures[0].RequestID)
	assert.NotEmpty(t, failures[0].SourceAddress)
}

func TestTokenEndpoint(t *testing.T) {
	_, server, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.Header.Set(HeaderClientID, "acme")
	req.Header.Set(HeaderClientSecret, "sekret")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.False(t, body.ExpiresAt.IsZero())
}

func TestTokenEndpointJSONBody(t *testing.T) {
	_, server, _ := newTestServer(t, Options{})

	payload, _ := json.Marshal(map[string]string{"client_id": "acme", "client_secret": "sekret"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenEndpointMissingHeaders(t *testing.T) {
	_, server, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_ERROR", body.ErrorCode)
}

func TestValidateEndpoint(t *testing.T) {
	f, server, _ := newTestServer(t, Options{})

	res, err := f.service.Authenticate(context.Background(), "acme", "sekret")
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]string{"token": res.Token})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/validate", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true}`, rec.Body.String())

	payload, _ = json.Marshal(map[string]string{"token": res.Token + "tampered"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/validate", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":false}`, rec.Body.String())
}

func TestRefreshEndpoint(t *testing.T) {
	f, server, _ := newTestServer(t, Options{RenewalEnabled: true, RenewalGrace: 5 * time.Minute})

	res, err := f.service.Authenticate(context.Background(), "acme", "sekret")
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour + time.Minute)

	payload, _ := json.Marshal(map[string]string{"token": res.Token})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEqual(t, res.Token, body.Token)
}

func TestHealthEndpoints(t *testing.T) {
	f, server, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Store down: not ready.
	f.store.Fail(assert.AnError)
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
