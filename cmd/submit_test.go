package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prboard/internal/ingest"
)

func resetSubmitFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		submitFile, submitOwner, submitRepo, submitCommentID = "", "", "", ""
		submitPR = 0
		submitRunID, submitBranch, submitBase, submitHead = "", "", "", ""
	}
	reset()
	t.Cleanup(reset)
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestSubmitContext_FlagsOverrideEnv(t *testing.T) {
	resetSubmitFlags(t)
	env := envMap(map[string]string{
		"GITHUB_REPOSITORY": "acme/demo",
		"GITHUB_REF":        "refs/pull/12/merge",
		"GITHUB_BASE_REF":   "main",
		"GITHUB_HEAD_REF":   "feature/x",
		"GITHUB_RUN_ID":     "9001",
	})

	gh := submitContext(env)
	assert.Equal(t, "acme", gh.Owner)
	assert.Equal(t, "demo", gh.Repo)
	require.NotNil(t, gh.PRNumber)
	assert.Equal(t, 12, *gh.PRNumber)
	assert.Equal(t, "9001", gh.RunID)

	submitRepo, submitPR, submitCommentID, submitBase = "other", 3, "555", "develop"
	gh = submitContext(env)
	assert.Equal(t, "other", gh.Repo)
	assert.Equal(t, 3, *gh.PRNumber)
	require.NotNil(t, gh.PRLink)
	assert.Equal(t, "https://github.com/acme/other/pull/3", *gh.PRLink)
	assert.Equal(t, "555", gh.CommentID)
	assert.Equal(t, "develop", gh.BaseBranch)
}

type fakeFetcher struct {
	owner, repo string
	id          int64
	body        string
}

func (f *fakeFetcher) FetchComment(_ context.Context, owner, repo string, id int64) (string, error) {
	f.owner, f.repo, f.id = owner, repo, id
	return f.body, nil
}

func TestReadComment(t *testing.T) {
	resetSubmitFlags(t)
	gh := ingest.GitHubContext{Owner: "acme", Repo: "demo", CommentID: "42"}

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "comment.md")
		require.NoError(t, os.WriteFile(path, []byte("## Review"), 0o644))
		submitFile = path
		t.Cleanup(func() { submitFile = "" })

		body, err := readComment(context.Background(), gh, &fakeFetcher{})
		require.NoError(t, err)
		assert.Equal(t, "## Review", body)
	})

	t.Run("fetched from github", func(t *testing.T) {
		f := &fakeFetcher{body: "fetched"}
		body, err := readComment(context.Background(), gh, f)
		require.NoError(t, err)
		assert.Equal(t, "fetched", body)
		assert.Equal(t, int64(42), f.id)
		assert.Equal(t, "demo", f.repo)
	})

	t.Run("non-numeric id", func(t *testing.T) {
		_, err := readComment(context.Background(), ingest.GitHubContext{CommentID: "c-1"}, &fakeFetcher{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--file")
	})
}

func TestPostReport(t *testing.T) {
	var got ingest.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"id":7,"duplicate":false,"response":{"recommendation":{"status":"MERGE","reason":"ok"},"summary_stats":{"pass_rate":"90%"}}}`))
	}))
	defer srv.Close()

	req := &ingest.Request{AppID: "app-1", AppPrivateKey: "s", CommentContent: "body",
		GitHub: ingest.GitHubContext{Owner: "acme", Repo: "demo", RunID: "1", CommentID: "2"}}

	out, err := postReport(context.Background(), srv.Client(), srv.URL, req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.ID)
	require.NotNil(t, out.Response)
	assert.Equal(t, "MERGE", string(out.Response.Recommendation.Status))
	assert.Equal(t, "app-1", got.AppID)
	assert.Equal(t, "demo", got.GitHub.Repo)
}

func TestPostReport_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"Validation error","details":[{"field":"github.prNumber","message":"expected integer, got string"}]}`))
	}))
	defer srv.Close()

	_, err := postReport(context.Background(), srv.Client(), srv.URL, &ingest.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "Validation error")
	assert.Contains(t, err.Error(), "github.prNumber")
}

func TestSubmitRun_RequiresCredentials(t *testing.T) {
	testEnv(t)
	resetSubmitFlags(t)

	err := submitRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit.app_id")
}

func TestSubmitRun_EndToEnd(t *testing.T) {
	testEnv(t)
	resetSubmitFlags(t)
	for _, k := range []string{"GITHUB_REPOSITORY", "GITHUB_REF", "GITHUB_BASE_REF", "GITHUB_HEAD_REF", "GITHUB_RUN_ID", "GITHUB_REPOSITORY_OWNER", "GITHUB_REF_NAME"} {
		t.Setenv(k, "")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"id":11,"duplicate":true}`))
	}))
	defer srv.Close()

	viper.Set("submit.endpoint", srv.URL)
	viper.Set("submit.app_id", "app-1")
	viper.Set("submit.app_private_key", "secret")

	path := filepath.Join(t.TempDir(), "comment.md")
	require.NoError(t, os.WriteFile(path, []byte("## Review"), 0o644))
	submitFile = path
	submitOwner, submitRepo, submitBranch, submitBase, submitHead = "acme", "demo", "feature/x", "main", "feature/x"
	submitRunID, submitCommentID = "9001", "c-1"

	var buf bytes.Buffer
	ui.Out = &buf
	require.NoError(t, submitRun(context.Background()))
	assert.Contains(t, buf.String(), "Already recorded as report 11")
}
