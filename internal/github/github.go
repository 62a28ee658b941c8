// Package github reads review comments and workflow context for the CI
// submitter.
package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v71/github"

	"github.com/joescharf/prboard/internal/ingest"
)

// DefaultServerURL is used for PR links when GITHUB_SERVER_URL is unset.
const DefaultServerURL = "https://github.com"

// CommentFetcher fetches the body of a PR conversation comment.
type CommentFetcher interface {
	FetchComment(ctx context.Context, owner, repo string, commentID int64) (string, error)
}

// Client implements CommentFetcher on the GitHub REST API.
type Client struct {
	api *gogithub.Client
}

// NewClient returns a client authenticated with token. An empty token makes
// anonymous requests, which only work for public repositories.
func NewClient(token string) *Client {
	api := gogithub.NewClient(nil)
	if token != "" {
		api = api.WithAuthToken(token)
	}
	return &Client{api: api}
}

// NewEnterpriseClient points the client at a GitHub Enterprise API.
func NewEnterpriseClient(token, baseURL string) (*Client, error) {
	c := NewClient(token)
	api, err := c.api.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("github enterprise url: %w", err)
	}
	c.api = api
	return c, nil
}

func (c *Client) FetchComment(ctx context.Context, owner, repo string, commentID int64) (string, error) {
	comment, _, err := c.api.Issues.GetComment(ctx, owner, repo, commentID)
	if err != nil {
		return "", fmt.Errorf("fetch comment %d from %s/%s: %w", commentID, owner, repo, err)
	}
	body := comment.GetBody()
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("comment %d in %s/%s is empty", commentID, owner, repo)
	}
	return body, nil
}

// PRLink builds the web URL of a pull request.
func PRLink(serverURL, owner, repo string, number int) string {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return fmt.Sprintf("%s/%s/%s/pull/%d", strings.TrimRight(serverURL, "/"), owner, repo, number)
}

// FromEnv reads the GitHub Actions environment into a request context.
// Fields the environment does not provide are left empty.
func FromEnv(getenv func(string) string) ingest.GitHubContext {
	var gh ingest.GitHubContext

	if owner, repo, ok := strings.Cut(getenv("GITHUB_REPOSITORY"), "/"); ok {
		gh.Owner, gh.Repo = owner, repo
	}
	if owner := getenv("GITHUB_REPOSITORY_OWNER"); owner != "" {
		gh.Owner = owner
	}

	gh.BaseBranch = getenv("GITHUB_BASE_REF")
	gh.HeadBranch = getenv("GITHUB_HEAD_REF")
	gh.Branch = gh.HeadBranch
	if gh.Branch == "" {
		gh.Branch = getenv("GITHUB_REF_NAME")
	}
	if gh.HeadBranch == "" {
		gh.HeadBranch = gh.Branch
	}

	gh.RunID = getenv("GITHUB_RUN_ID")
	gh.RunNumber = atoiPtr(getenv("GITHUB_RUN_NUMBER"))
	gh.RunAttempt = atoiPtr(getenv("GITHUB_RUN_ATTEMPT"))
	gh.PRNumber = prFromRef(getenv("GITHUB_REF"))

	if gh.PRNumber != nil && gh.Owner != "" && gh.Repo != "" {
		link := PRLink(getenv("GITHUB_SERVER_URL"), gh.Owner, gh.Repo, *gh.PRNumber)
		gh.PRLink = &link
	}
	return gh
}

// prFromRef extracts N from refs/pull/N/merge.
func prFromRef(ref string) *int {
	rest, ok := strings.CutPrefix(ref, "refs/pull/")
	if !ok {
		return nil
	}
	num, _, _ := strings.Cut(rest, "/")
	return atoiPtr(num)
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
