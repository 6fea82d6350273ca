package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/secretstore"
)

// fakeVault is a minimal KV v2 server: GET/POST /v1/secret/data/<path>
// and DELETE /v1/secret/metadata/<path>.
type fakeVault struct {
	mu       sync.Mutex
	secrets  map[string]map[string]interface{}
	token    string
	gets     int
	requests int
}

func newFakeVault(token string) *fakeVault {
	return &fakeVault{secrets: make(map[string]map[string]interface{}), token: token}
}

func (f *fakeVault) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests++

		if r.Header.Get("X-Vault-Token") != f.token {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}

		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
			path := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
			switch r.Method {
			case http.MethodGet:
				f.gets++
				data, ok := f.secrets[path]
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					_, _ = w.Write([]byte(`{"errors":[]}`))
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"data": map[string]interface{}{"data": data},
				})
			case http.MethodPost, http.MethodPut:
				var body struct {
					Data map[string]interface{} `json:"data"`
				}
				_ = json.NewDecoder(r.Body).Decode(&body)
				f.secrets[path] = body.Data
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{}`))
			}
		case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/") && r.Method == http.MethodDelete:
			path := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/")
			delete(f.secrets, path)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	})
}

func newTestStore(t *testing.T, fake *fakeVault) (*Store, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	store, err := New("vault", Config{
		Address:    server.URL,
		AuthMethod: "token",
		Token:      fake.token,
		RetryCount: 1,
	}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Authenticate(context.Background()))
	return store, server
}

func TestVaultRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeVault("root-token")
	store, _ := newTestStore(t, fake)

	require.NoError(t, store.Put(ctx, "creds/acme", []byte(`{"version":"v1"}`)))

	got, err := store.Get(ctx, "creds/acme")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"version":"v1"}`), got)

	require.NoError(t, store.Delete(ctx, "creds/acme"))

	_, err = store.Get(ctx, "creds/acme")
	assert.True(t, secretstore.IsNotFound(err))
}

func TestVaultGetNotFound(t *testing.T) {
	fake := newFakeVault("root-token")
	store, _ := newTestStore(t, fake)

	_, err := store.Get(context.Background(), "creds/missing")
	assert.True(t, secretstore.IsNotFound(err))
	assert.False(t, secretstore.IsConnectionError(err))
}

func TestVaultAuthFailureNotRetried(t *testing.T) {
	fake := newFakeVault("root-token")
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	store, err := New("vault", Config{
		Address:    server.URL,
		AuthMethod: "token",
		Token:      "wrong-token",
		RetryCount: 3,
	}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Authenticate(context.Background()))

	_, err = store.Get(context.Background(), "creds/acme")
	assert.True(t, secretstore.IsAuthError(err))

	// A 403 must not be replayed by the retry loop.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.requests)
}

func TestVaultConnectionErrorClassified(t *testing.T) {
	store, err := New("vault", Config{
		Address:    "http://127.0.0.1:1", // nothing listens here
		AuthMethod: "token",
		Token:      "root-token",
		RetryCount: 1,
	}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Authenticate(context.Background()))

	_, err = store.Get(context.Background(), "creds/acme")
	assert.True(t, secretstore.IsConnectionError(err))
}

func TestVaultValuesAreOpaqueBytes(t *testing.T) {
	ctx := context.Background()
	fake := newFakeVault("root-token")
	store, _ := newTestStore(t, fake)

	raw := []byte{0x00, 0xff, 0x10, 0x7f} // non-UTF8 survives
	require.NoError(t, store.Put(ctx, "keys/token-signing", raw))

	// Stored form is base64, so arbitrary bytes are preserved.
	fake.mu.Lock()
	encoded := fake.secrets["keys/token-signing"]["value"].(string)
	fake.mu.Unlock()
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	got, err := store.Get(ctx, "keys/token-signing")
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestVaultMissingAddress(t *testing.T) {
	_, err := New("vault", Config{}, logging.Nop())
	assert.Error(t, err)
}
