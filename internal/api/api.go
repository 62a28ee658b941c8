package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/prboard/internal/auth"
	"github.com/joescharf/prboard/internal/ingest"
	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/store"
)

// maxBodyBytes bounds an ingestion request body.
const maxBodyBytes = 5 << 20

// DefaultPageSize is the list limit when Options.PageSize is unset.
const DefaultPageSize = 100

// Options configures read scoping.
type Options struct {
	// DefaultTenant scopes reads when the session carries no tenant claim.
	// Empty means all tenants.
	DefaultTenant models.TenantSlug
	PageSize      int
}

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	ingest *ingest.Service
	auth   *auth.Authenticator
	opts   Options
}

// NewServer creates a new API server.
func NewServer(s store.Store, svc *ingest.Service, a *auth.Authenticator, opts Options) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Server{
		store:  s,
		ingest: svc,
		auth:   a,
		opts:   opts,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/reporting", s.reporting)

	mux.Handle("GET /api/v1/github-reports", s.protect(s.listReports))
	mux.Handle("GET /api/v1/github-reports/{id}", s.protect(s.getReport))
	mux.Handle("GET /api/v1/dashboard-metrics", s.protect(s.dashboardMetrics))
	mux.Handle("GET /api/v1/test-db", s.protect(s.testDB))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return requestIDMiddleware(logMiddleware(corsMiddleware(mux)))
}

func (s *Server) protect(h http.HandlerFunc) http.Handler {
	return s.auth.Middleware(h)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the failure envelope of every dashboard endpoint.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, details any) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

type dataBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// tenantFor returns the tenant a request may read: the session claim, else
// the configured default, else every tenant.
func (s *Server) tenantFor(r *http.Request) models.TenantSlug {
	if session, ok := auth.FromContext(r.Context()); ok && session.Tenant != "" {
		return session.Tenant
	}
	return s.opts.DefaultTenant
}

// --- Ingestion ---

type reportingResponse struct {
	Success   bool                 `json:"success"`
	Response  *models.ReviewReport `json:"response"`
	ID        int64                `json:"id"`
	Duplicate bool                 `json:"duplicate"`
}

type reportingError struct {
	Success  bool                 `json:"success"`
	Error    string               `json:"error"`
	Details  any                  `json:"details,omitempty"`
	Response *models.ReviewReport `json:"response,omitempty"`
}

func (s *Server) reporting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := ingest.Decode(r.Body)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	res, err := s.ingest.Ingest(r.Context(), req)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reportingResponse{
		Success:   true,
		Response:  res.Report,
		ID:        res.EventID,
		Duplicate: res.Duplicate,
	})
}

func writeIngestError(w http.ResponseWriter, err error) {
	var (
		verr *ingest.ValidationError
		xerr *ingest.ExtractionError
		perr *ingest.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, reportingError{Error: "Validation error", Details: verr.Fields})
	case errors.Is(err, ingest.ErrAuth):
		slog.Warn("ingestion rejected", "error", err)
		writeJSON(w, http.StatusUnauthorized, reportingError{Error: "Invalid credentials"})
	case errors.As(err, &xerr):
		writeJSON(w, http.StatusInternalServerError, reportingError{Error: "Failed to extract review report", Details: xerr.Err.Error()})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusInternalServerError, reportingError{
			Error:    "Failed to persist review report",
			Details:  perr.Err.Error(),
			Response: perr.Report,
		})
	default:
		slog.Error("ingestion failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, reportingError{Error: "Internal server error", Details: err.Error()})
	}
}

// --- Reports ---

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), s.tenantFor(r), s.opts.PageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query GitHub insights", err.Error())
		return
	}
	if events == nil {
		events = []*models.EventRecord{}
	}
	writeJSON(w, http.StatusOK, dataBody{Success: true, Data: events})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid report ID. Must be a number.", nil)
		return
	}

	event, err := s.store.GetEvent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Report not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch report", err.Error())
		return
	}

	// Reports of other tenants are indistinguishable from missing ones.
	if tenant := s.tenantFor(r); tenant != "" && event.CustomerSlug != tenant {
		writeError(w, http.StatusNotFound, "Report not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, dataBody{Success: true, Data: event})
}

func (s *Server) dashboardMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.AggregateCounts(r.Context(), s.tenantFor(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch dashboard metrics", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Success: true, Data: m})
}

// --- Diagnostics ---

type testDBFailure struct {
	Success         bool     `json:"success"`
	Error           string   `json:"error"`
	Details         string   `json:"details"`
	Troubleshooting []string `json:"troubleshooting"`
}

func (s *Server) testDB(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, testDBFailure{
			Error:           "Database test failed",
			Details:         err.Error(),
			Troubleshooting: Troubleshoot(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Database connection successful",
	})
}

// Troubleshoot returns hints for a database connectivity error.
func Troubleshoot(err error) []string {
	msg := err.Error()
	var hints []string
	if strings.Contains(msg, "timeout") {
		hints = append(hints, "Connection timeout: check db.host, db.port and firewall settings")
	}
	if strings.Contains(msg, "Access denied") {
		hints = append(hints,
			"Authentication failed: check db.user and db.password",
			"Verify db.user has access to db.name",
		)
	}
	if strings.Contains(msg, "TLS") || strings.Contains(msg, "tls") || strings.Contains(msg, "x509") {
		hints = append(hints, "TLS handshake failed: try db.tls=skip-verify for self-signed certificates or db.tls=true for managed instances")
	}
	return append(hints,
		"Check that the database server is running",
		"For Cloud SQL: use db.socket with the proxy or add your IP to authorized networks",
	)
}
