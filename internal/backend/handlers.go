package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
)

// Server is the internal verification HTTP surface.
type Server struct {
	verifier *Verifier
	logger   *logging.Logger
	mux      *http.ServeMux
}

// NewServer builds the backend router.
func NewServer(verifier *Verifier, logger *logging.Logger) *Server {
	s := &Server{
		verifier: verifier,
		logger:   logger.WithComponent("backend-http"),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/internal/v1/tokens/validate", s.handleValidate)
	s.mux.HandleFunc("/internal/v1/tokens/renew", s.handleRenew)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("backend listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleValidate verifies a token and the required permission.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		TokenString        string `json:"tokenString"`
		RequiredPermission string `json:"requiredPermission"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	tokenString := body.TokenString
	if tokenString == "" {
		tokenString = bearerToken(r)
	}

	result := s.verifier.VerifyRequest(requestContext(r), tokenString, body.RequiredPermission)
	writeResult(w, result)
}

// handleRenew verifies an expired token and hands back the renewed one.
func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		TokenString string `json:"tokenString"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	result := s.verifier.VerifyRequest(requestContext(r), body.TokenString, "")
	writeResult(w, result)
}

// requestContext attaches the caller's correlation id and address for
// event records.
func requestContext(r *http.Request) context.Context {
	return events.WithRequestInfo(r.Context(), events.RequestInfo{
		RequestID:     r.Header.Get("X-Correlation-ID"),
		SourceAddress: r.RemoteAddr,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// bearerToken extracts the token from the authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeResult(w http.ResponseWriter, result VerifyResult) {
	status := http.StatusOK
	switch {
	case result.IsForbidden:
		status = http.StatusForbidden
	case !result.IsValid:
		status = http.StatusUnauthorized
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
