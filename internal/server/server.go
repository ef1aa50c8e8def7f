// Package server provides the operator HTTP API run by the daemon.
//
// # REST API (requires JWT authentication when an issuer is configured)
//
//   - GET /api/companies/{companyID}/transactions                 - List transactions
//   - GET /api/companies/{companyID}/transactions/{transactionID} - Transaction with steps, identifiers and errors
//   - GET /api/companies/{companyID}/certificate                  - Certificate metadata
//   - GET /api/errors/{code}                                      - Classify an error code
//   - GET /api/operations                                         - Registered operations
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /ready   - Readiness probe (storage ping)
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sirosfoundation/go-customs/internal/auth"
	"github.com/sirosfoundation/go-customs/internal/certstore"
	"github.com/sirosfoundation/go-customs/internal/config"
	"github.com/sirosfoundation/go-customs/pkg/errclass"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Pinger reports storage readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds what the server reads from
type Config struct {
	Ledger       *ledger.Ledger
	Store        Pinger
	Certificates certstore.Provider
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
	OAuth2  *config.OAuth2Config
	Logger  *slog.Logger
}

// Server is the operator HTTP server
type Server struct {
	cfg           Config
	logger        *slog.Logger
	httpSrv       *http.Server
	authenticator *auth.Authenticator
}

// New creates the server
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil || cfg.Store == nil {
		return nil, errors.New("server: ledger and store are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		authenticator: auth.NewAuthenticator(cfg.OAuth2, logger.With("component", "auth")),
	}
	if s.authenticator.IsEnabled() {
		logger.Info("OAuth2 authentication enabled", "issuer", cfg.OAuth2.Issuer)
	} else {
		logger.Warn("OAuth2 authentication disabled - API endpoints accept unauthenticated requests")
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Serve listens on addr until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.httpSrv.Addr = addr
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}

	mux.HandleFunc("GET /api/companies/{companyID}/transactions", s.withAuth(s.handleListTransactions))
	mux.HandleFunc("GET /api/companies/{companyID}/transactions/{transactionID}", s.withAuth(s.handleGetTransaction))
	mux.HandleFunc("GET /api/companies/{companyID}/certificate", s.withAuth(s.handleGetCertificate))
	mux.HandleFunc("GET /api/errors/{code}", s.withAuth(s.handleClassify))
	mux.HandleFunc("GET /api/operations", s.withAuth(s.handleOperations))
}

// Middleware

// withAuth validates the bearer token and the caller's access to the
// company in the path
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticator.IsEnabled() {
			next(w, r)
			return
		}

		claims, err := s.authenticator.ValidateRequest(r)
		if err != nil {
			s.logger.Debug("authentication failed", "error", err, "path", r.URL.Path)
			switch {
			case errors.Is(err, auth.ErrNoToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="customs"`)
				s.jsonError(w, "authentication required", http.StatusUnauthorized)
			case errors.Is(err, auth.ErrTokenExpired):
				s.jsonError(w, "token expired", http.StatusUnauthorized)
			case errors.Is(err, auth.ErrInvalidAudience), errors.Is(err, auth.ErrInvalidIssuer):
				s.jsonError(w, "invalid token", http.StatusForbidden)
			default:
				s.jsonError(w, "authentication failed", http.StatusUnauthorized)
			}
			return
		}

		companyID := r.PathValue("companyID")
		if companyID != "" && !claims.HasCompany(companyID) {
			s.logger.Warn("company access denied",
				"subject", claims.Subject,
				"company_id", companyID,
				"allowed_companies", claims.Companies,
			)
			s.jsonError(w, "access denied for this company", http.StatusForbidden)
			return
		}

		next(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("storage not ready", "error", err)
		s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// Transaction handlers

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.CompanyID = r.PathValue("companyID")

	txs, err := s.cfg.Ledger.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list transactions", "company_id", filter.CompanyID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	s.jsonResponse(w, map[string]any{
		"transactions": txs,
		"total":        len(txs),
	}, http.StatusOK)
}

func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{Operation: q.Get("operation"), Limit: defaultLimit}

	for _, v := range q["status"] {
		st := ledger.Status(v)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, maxLimit)
	}
	return f, nil
}

type transactionDetail struct {
	*ledger.Transaction
	Steps       []ledger.StepRecord      `json:"steps"`
	Identifiers []ledger.TrackIdentifier `json:"identifiers"`
	Errors      []ledger.ErrorRecord     `json:"errors"`
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("transactionID")

	tx, err := s.cfg.Ledger.Get(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && tx.CompanyID != r.PathValue("companyID")) {
		s.jsonError(w, "transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to get transaction", "transaction_id", id, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	d := transactionDetail{Transaction: tx}
	if d.Steps, err = s.cfg.Ledger.Steps(ctx, id); err == nil {
		if d.Identifiers, err = s.cfg.Ledger.Identifiers(ctx, id); err == nil {
			d.Errors, err = s.cfg.Ledger.Errors(ctx, id)
		}
	}
	if err != nil {
		s.logger.Error("failed to load transaction records", "transaction_id", id, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, d, http.StatusOK)
}

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Certificates == nil {
		s.jsonError(w, "certificates not available", http.StatusNotFound)
		return
	}
	companyID := r.PathValue("companyID")
	info, err := s.cfg.Certificates.Describe(r.Context(), companyID)
	if errors.Is(err, certstore.ErrCertificateNotFound) {
		s.jsonError(w, "certificate not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to describe certificate", "company_id", companyID, "error", err)
		s.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.jsonResponse(w, info, http.StatusOK)
}

// Reference handlers

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	s.jsonResponse(w, map[string]any{
		"classification": errclass.Classify(code),
		"documented":     errclass.Known(code),
	}, http.StatusOK)
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	type operation struct {
		Name      string `json:"name"`
		Authority string `json:"authority"`
	}
	ops := wire.Operations()
	out := make([]operation, 0, len(ops))
	for _, op := range ops {
		out = append(out, operation{Name: string(op), Authority: string(op.Authority())})
	}
	s.jsonResponse(w, map[string]any{"operations": out}, http.StatusOK)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
