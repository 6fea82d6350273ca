package gateway

import (
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/authrelay/authrelay/internal/errors"
	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/resilience"
)

// hopHeaders are stripped before relaying, per RFC 7230 section 6.1.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Forwarder relays authenticated vendor requests to the backend with
// the minted token in the authorization header. The legacy credential
// headers never cross into the internal fabric.
type Forwarder struct {
	baseURL  string
	client   *http.Client
	logger   *logging.Logger
	breaker  *resilience.Breaker
	bulkhead *resilience.Bulkhead
}

// NewForwarder creates a forwarder targeting baseURL. The backend is a
// guarded dependency like the secret store: calls ride their own
// circuit breaker and bulkhead.
func NewForwarder(baseURL string, timeout time.Duration, logger *logging.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.WithComponent("forwarder"),
		breaker:  resilience.NewBreaker("backend", resilience.BreakerConfig{}),
		bulkhead: resilience.NewBulkhead("backend", 64),
	}
}

// Forward relays r to the backend and copies the response back.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, bearer, requestID string) {
	url := f.baseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		writeError(w, requestID, apperrors.Wrap(apperrors.KindInternal, "building backend request", err))
		return
	}

	for name, values := range r.Header {
		if name == HeaderClientID || name == HeaderClientSecret || isHopHeader(name) {
			continue
		}
		out.Header[name] = values
	}
	out.Header.Set("Authorization", "Bearer "+bearer)
	out.Header.Set(HeaderCorrelationID, requestID)

	var resp *http.Response
	err = f.bulkhead.Do(r.Context(), func() error {
		return f.breaker.Do(func() error {
			res, derr := f.client.Do(out)
			if derr != nil {
				return apperrors.Wrap(apperrors.KindDependencyUnavailable, "backend unavailable", derr)
			}
			resp = res
			return nil
		})
	})
	if err != nil {
		f.logger.WithRequestID(requestID).Warn("backend call failed: %v", err)
		writeError(w, requestID, err)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if isHopHeader(name) {
			continue
		}
		w.Header()[name] = values
	}
	w.Header().Set(HeaderCorrelationID, requestID)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.WithRequestID(requestID).Warn("copying backend response failed: %v", err)
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}
