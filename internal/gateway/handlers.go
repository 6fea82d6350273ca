package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/authrelay/authrelay/internal/errors"
	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
)

// Header names of the preserved vendor wire contract.
const (
	HeaderClientID      = "X-Client-ID"
	HeaderClientSecret  = "X-Client-Secret"
	HeaderCorrelationID = "X-Correlation-ID"
)

// errorBody is the vendor-facing error envelope.
type errorBody struct {
	ErrorCode string    `json:"errorCode"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// tokenResponse answers the auth endpoints.
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
}

// Server is the gateway HTTP surface.
type Server struct {
	service   *Service
	forwarder *Forwarder
	logger    *logging.Logger
	mux       *http.ServeMux
}

// NewServer builds the gateway router. forwarder may be nil when the
// process serves only the auth endpoints.
func NewServer(service *Service, forwarder *Forwarder, logger *logging.Logger) *Server {
	s := &Server{
		service:   service,
		forwarder: forwarder,
		logger:    logger.WithComponent("gateway-http"),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/v1/auth/token", s.handleToken)
	s.mux.HandleFunc("/api/v1/auth/validate", s.handleValidate)
	s.mux.HandleFunc("/api/v1/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/v1/", s.handleForward)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleReadyz)
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
	s.logger.Info("gateway listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleToken exchanges the header pair (or a JSON body) for a token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)
	if r.Method != http.MethodPost {
		writeError(w, requestID, apperrors.New(apperrors.KindValidation, "method not allowed"))
		return
	}

	clientID := r.Header.Get(HeaderClientID)
	clientSecret := r.Header.Get(HeaderClientSecret)
	if clientID == "" || clientSecret == "" {
		var body struct {
			ClientID     string `json:"client_id"`
			ClientSecret string `json:"client_secret"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err == nil {
			clientID, clientSecret = body.ClientID, body.ClientSecret
		}
	}

	ctx := events.WithRequestInfo(r.Context(), events.RequestInfo{
		RequestID:     requestID,
		SourceAddress: r.RemoteAddr,
	})
	res, err := s.service.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		s.logger.WithRequestID(requestID).Info("authentication rejected for client %s: %s", clientID, apperrors.CodeOf(err))
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, requestID, http.StatusOK, tokenResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		TokenType: res.TokenType,
	})
}

// handleValidate reports whether a presented token verifies.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)
	if r.Method != http.MethodPost {
		writeError(w, requestID, apperrors.New(apperrors.KindValidation, "method not allowed"))
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil || body.Token == "" {
		writeError(w, requestID, apperrors.New(apperrors.KindValidation, "request body must carry a token"))
		return
	}
	writeJSON(w, requestID, http.StatusOK, map[string]bool{
		"valid": s.service.ValidateToken(body.Token),
	})
}

// handleRefresh renews a token within the grace window.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)
	if r.Method != http.MethodPost {
		writeError(w, requestID, apperrors.New(apperrors.KindValidation, "method not allowed"))
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil || body.Token == "" {
		writeError(w, requestID, apperrors.New(apperrors.KindValidation, "request body must carry a token"))
		return
	}

	ctx := events.WithRequestInfo(r.Context(), events.RequestInfo{
		RequestID:     requestID,
		SourceAddress: r.RemoteAddr,
	})
	res, err := s.service.Refresh(ctx, body.Token)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, requestID, http.StatusOK, tokenResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		TokenType: res.TokenType,
	})
}

// handleForward authenticates a business request and relays it to the
// backend with the token attached.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)
	if s.forwarder == nil {
		writeError(w, requestID, apperrors.New(apperrors.KindValidation, "unknown endpoint"))
		return
	}

	ctx := events.WithRequestInfo(r.Context(), events.RequestInfo{
		RequestID:     requestID,
		SourceAddress: r.RemoteAddr,
	})
	res, err := s.service.Authenticate(ctx, r.Header.Get(HeaderClientID), r.Header.Get(HeaderClientSecret))
	if err != nil {
		s.logger.WithRequestID(requestID).Info("authentication rejected: %s", apperrors.CodeOf(err))
		writeError(w, requestID, err)
		return
	}
	s.forwarder.Forward(w, r, res.Token, requestID)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, "", http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.service.Healthy() {
		writeJSON(w, "", http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, "", http.StatusOK, map[string]string{"status": "ready"})
}

// requestID returns the inbound correlation id or generates one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderCorrelationID); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, requestID string, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(HeaderCorrelationID, requestID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits the stable error envelope. Messages come from the
// classified error only, never from wrapped internals.
func writeError(w http.ResponseWriter, requestID string, err error) {
	writeJSON(w, requestID, apperrors.HTTPStatusOf(err), errorBody{
		ErrorCode: apperrors.CodeOf(err),
		Message:   apperrors.MessageOf(err),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}
