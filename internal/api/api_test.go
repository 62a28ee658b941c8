package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prboard/internal/auth"
	"github.com/joescharf/prboard/internal/ingest"
	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/store"
)

const reportJSON = `{
  "metadata": {"job_title": "PR Test Review", "job_url": "https://github.com/acme/demo/actions/runs/1", "branch": "feature-x", "feature": "retries"},
  "tests": [{"id": 1, "name": "retry", "category": "Core Functionality", "objective": "retries", "result": "PASS"}],
  "coverage": {"total_tests": 1, "passed": 1, "failed": 0, "code_coverage_percent": 90, "coverage_by_category": {"Core Functionality": {"total": 1, "passed": 1}}},
  "critical_issues": [],
  "validated_improvements": [],
  "recommendation": {"status": "MERGE", "reason": "all green"},
  "summary_stats": {"total_tests": 1, "pass_rate": "100%", "critical_bugs_found": 0, "positive_improvements": 0, "coverage_percent": 90}
}`

type stubExtractor struct {
	calls int
	err   error
}

func (e *stubExtractor) Extract(context.Context, string, string) (*models.ReviewReport, json.RawMessage, error) {
	e.calls++
	if e.err != nil {
		return nil, nil, e.err
	}
	var r models.ReviewReport
	if err := json.Unmarshal([]byte(reportJSON), &r); err != nil {
		return nil, nil, err
	}
	return &r, json.RawMessage(reportJSON), nil
}

type testEnv struct {
	router    http.Handler
	store     *store.SQLStore
	auth      *auth.Authenticator
	extractor *stubExtractor
}

func setupTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	for _, tenant := range []*models.Tenant{
		{AppID: "app-1", Secret: "s3cret", AnthropicAPIKey: "sk-1", Slug: "acme"},
		{AppID: "app-2", Secret: "other", AnthropicAPIKey: "sk-2", Slug: "beta"},
	} {
		require.NoError(t, s.CreateTenant(context.Background(), tenant))
	}

	a, err := auth.New("test-secret")
	require.NoError(t, err)

	ext := &stubExtractor{}
	svc := ingest.NewService(s, s, s, ext)
	return &testEnv{
		router:    NewServer(s, svc, a, opts).Router(),
		store:     s,
		auth:      a,
		extractor: ext,
	}
}

func (e *testEnv) token(t *testing.T, tenant models.TenantSlug) string {
	t.Helper()
	tok, err := e.auth.Issue("dashboard-user", tenant, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/reporting", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func ingestBody(appID, secret, repo, commentID string) string {
	return `{"appId":"` + appID + `","appPrivateKey":"` + secret + `","commentContent":"## Review\nTest 1 PASS",
"github":{"repo":"` + repo + `","owner":"acme","branch":"feature-x","baseBranch":"main","headBranch":"feature-x",
"prNumber":7,"runId":"100","runNumber":3,"runAttempt":1,"commentId":"` + commentID + `"}}`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// --- Ingestion ---

func TestReporting_Success(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success   bool                `json:"success"`
		Response  models.ReviewReport `json:"response"`
		ID        int64               `json:"id"`
		Duplicate bool                `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, models.RecommendMerge, resp.Response.Recommendation.Status)

	events, err := env.store.ListEvents(context.Background(), "", 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "demo", events[0].Repository)
	assert.Equal(t, resp.ID, events[0].ID)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestReporting_RoundTrip(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1"))
	require.Equal(t, http.StatusOK, w.Code)
	ingested := decode(t, w)
	id := int64(ingested["id"].(float64))

	w = env.get(t, "/api/v1/github-reports/"+strconv.FormatInt(id, 10), env.token(t, ""))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)

	want, _ := json.Marshal(ingested["response"])
	have, _ := json.Marshal(data["ANALYSIS_JSON"])
	assert.JSONEq(t, string(want), string(have))
	assert.Equal(t, "PR_REVIEW", data["GITHUB_EVENT_NAME"])
}

func TestReporting_WrongSecret(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.post(t, ingestBody("app-1", "wrong", "demo", "c-1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Invalid credentials", body["error"])
	assert.Zero(t, env.extractor.calls)

	m, err := env.store.AggregateCounts(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, m.TotalRuns)
}

func TestReporting_ValidationError(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.post(t, `{"appId":"app-1","appPrivateKey":"s3cret","commentContent":"x","github":{"repo":"demo","prNumber":"12"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Validation error", body["error"])
	details := body["details"].([]any)
	require.NotEmpty(t, details)
	assert.Equal(t, "github.prNumber", details[0].(map[string]any)["field"])
	assert.Zero(t, env.extractor.calls)
}

func TestReporting_MethodNotAllowed(t *testing.T) {
	env := setupTestServer(t, Options{})

	req := httptest.NewRequest("GET", "/api/v1/reporting", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())
	assert.Equal(t, "POST", w.Header().Get("Allow"))
}

func TestReporting_ExtractionFailure(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.extractor.err = errors.New("model output: review report failed schema validation")

	w := env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["details"], "schema validation")

	events, err := env.store.ListEvents(context.Background(), "", 100)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReporting_Duplicate(t *testing.T) {
	env := setupTestServer(t, Options{})

	first := decode(t, env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1")))
	w := env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1"))
	require.Equal(t, http.StatusOK, w.Code)
	second := decode(t, w)

	assert.Equal(t, true, second["duplicate"])
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, 1, env.extractor.calls)
}

// --- Queries ---

func TestQueries_RequireSession(t *testing.T) {
	env := setupTestServer(t, Options{})

	for _, path := range []string{
		"/api/v1/github-reports",
		"/api/v1/github-reports/1",
		"/api/v1/dashboard-metrics",
		"/api/v1/test-db",
	} {
		w := env.get(t, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		body := decode(t, w)
		assert.Equal(t, "Unauthorized", body["error"], path)
	}
}

func TestListReports(t *testing.T) {
	env := setupTestServer(t, Options{})
	tok := env.token(t, "")

	w := env.get(t, "/api/v1/github-reports", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())

	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1")).Code)
	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-2", "other", "api", "c-1")).Code)

	w = env.get(t, "/api/v1/github-reports", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 2)

	// A tenant claim scopes the list.
	w = env.get(t, "/api/v1/github-reports", env.token(t, "beta"))
	data := decode(t, w)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "api", data[0].(map[string]any)["GITHUB_REPOSITORY"])

	// Reads are idempotent.
	first := env.get(t, "/api/v1/github-reports", tok).Body.String()
	second := env.get(t, "/api/v1/github-reports", tok).Body.String()
	assert.JSONEq(t, first, second)
}

func TestListReports_DefaultTenantAndPageSize(t *testing.T) {
	env := setupTestServer(t, Options{DefaultTenant: "acme", PageSize: 1})

	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1")).Code)
	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-1", "s3cret", "demo", "c-2")).Code)
	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-2", "other", "api", "c-1")).Code)

	w := env.get(t, "/api/v1/github-reports", env.token(t, ""))
	data := decode(t, w)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "acme", data[0].(map[string]any)["CUSTOMER_SLUG"])
}

func TestGetReport(t *testing.T) {
	env := setupTestServer(t, Options{})
	tok := env.token(t, "")

	tests := []struct {
		name   string
		id     string
		status int
		error  string
	}{
		{"not a number", "abc", http.StatusBadRequest, "Invalid report ID. Must be a number."},
		{"zero", "0", http.StatusBadRequest, "Invalid report ID. Must be a number."},
		{"negative", "-3", http.StatusBadRequest, "Invalid report ID. Must be a number."},
		{"missing", "999", http.StatusNotFound, "Report not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.get(t, "/api/v1/github-reports/"+tt.id, tok)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.error, body["error"])
		})
	}
}

func TestGetReport_OtherTenantIsNotFound(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1"))
	require.Equal(t, http.StatusOK, w.Code)
	id := strconv.FormatInt(int64(decode(t, w)["id"].(float64)), 10)

	assert.Equal(t, http.StatusOK, env.get(t, "/api/v1/github-reports/"+id, env.token(t, "acme")).Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/github-reports/"+id, env.token(t, "beta")).Code)
}

func TestDashboardMetrics(t *testing.T) {
	env := setupTestServer(t, Options{})
	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-1", "s3cret", "demo", "c-1")).Code)
	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-1", "s3cret", "demo", "c-2")).Code)
	require.Equal(t, http.StatusOK, env.post(t, ingestBody("app-1", "s3cret", "web", "c-3")).Code)

	w := env.get(t, "/api/v1/dashboard-metrics", env.token(t, "acme"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"success":true,"data":{"totalUniqueRepos":2,"totalRuns":3,"totalUniquePRs":1}}`,
		w.Body.String())
}

func TestTestDB(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.get(t, "/api/v1/test-db", env.token(t, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Database connection successful", decode(t, w)["message"])

	require.NoError(t, env.store.Close())
	w = env.get(t, "/api/v1/test-db", env.token(t, ""))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Database test failed", body["error"])
	assert.NotEmpty(t, body["troubleshooting"])
}

func TestTroubleshoot(t *testing.T) {
	hints := Troubleshoot(errors.New("Error 1045 (28000): Access denied for user 'app'"))
	assert.Contains(t, hints[0], "Authentication failed")

	hints = Troubleshoot(errors.New("dial tcp 10.0.0.1:3306: i/o timeout"))
	assert.Contains(t, hints[0], "Connection timeout")

	hints = Troubleshoot(errors.New("connection refused"))
	assert.Contains(t, hints[0], "database server is running")
}

func TestHealthz(t *testing.T) {
	env := setupTestServer(t, Options{})
	w := env.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRequestID_Echoed(t *testing.T) {
	env := setupTestServer(t, Options{})
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get("X-Request-Id"))
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t, Options{})
	req := httptest.NewRequest("OPTIONS", "/api/v1/reporting", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
