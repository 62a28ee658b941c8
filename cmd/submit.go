package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/github"
	"github.com/joescharf/prboard/internal/ingest"
	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/output"
)

var (
	submitFile      string
	submitOwner     string
	submitRepo      string
	submitCommentID string
	submitPR        int
	submitRunID     string
	submitBranch    string
	submitBase      string
	submitHead      string
	submitTimeout   time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send a review comment to a prboard server",
	Long: `Send a PR review comment to the ingestion endpoint and print the
recommendation.

The GitHub context is read from the GitHub Actions environment and can be
overridden with flags. The comment body comes from --file ("-" for stdin);
without --file it is fetched from the GitHub API by --comment-id using
github.token or GITHUB_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitRun(commandContext())
	},
}

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitFile, "file", "f", "", `File with the comment body ("-" for stdin)`)
	f.StringVar(&submitOwner, "owner", "", "Repository owner")
	f.StringVar(&submitRepo, "repo", "", "Repository name")
	f.StringVar(&submitCommentID, "comment-id", "", "Issue comment id")
	f.IntVar(&submitPR, "pr", 0, "Pull request number")
	f.StringVar(&submitRunID, "run-id", "", "Workflow run id")
	f.StringVar(&submitBranch, "branch", "", "Branch")
	f.StringVar(&submitBase, "base", "", "Base branch")
	f.StringVar(&submitHead, "head", "", "Head branch")
	f.DurationVar(&submitTimeout, "timeout", 3*time.Minute, "Request timeout")
	f.String("endpoint", "", "Ingestion endpoint URL (default submit.endpoint)")
	_ = viper.BindPFlag("submit.endpoint", f.Lookup("endpoint"))
	rootCmd.AddCommand(submitCmd)
}

// submitContext merges flags over the Actions environment.
func submitContext(getenv func(string) string) ingest.GitHubContext {
	gh := github.FromEnv(getenv)
	if submitOwner != "" {
		gh.Owner = submitOwner
	}
	if submitRepo != "" {
		gh.Repo = submitRepo
	}
	if submitCommentID != "" {
		gh.CommentID = submitCommentID
	}
	if submitRunID != "" {
		gh.RunID = submitRunID
	}
	if submitBranch != "" {
		gh.Branch = submitBranch
	}
	if submitBase != "" {
		gh.BaseBranch = submitBase
	}
	if submitHead != "" {
		gh.HeadBranch = submitHead
	}
	if submitPR > 0 {
		pr := submitPR
		gh.PRNumber = &pr
		link := github.PRLink(getenv("GITHUB_SERVER_URL"), gh.Owner, gh.Repo, pr)
		gh.PRLink = &link
	}
	return gh
}

func readComment(ctx context.Context, gh ingest.GitHubContext, fetcher github.CommentFetcher) (string, error) {
	switch submitFile {
	case "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	case "":
	default:
		b, err := os.ReadFile(submitFile)
		return string(b), err
	}

	id, err := strconv.ParseInt(gh.CommentID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("need --file or a numeric --comment-id to fetch, got %q", gh.CommentID)
	}
	return fetcher.FetchComment(ctx, gh.Owner, gh.Repo, id)
}

func githubToken() string {
	if t := viper.GetString("github.token"); t != "" {
		return t
	}
	return os.Getenv("GITHUB_TOKEN")
}

type submitResponse struct {
	Success   bool                 `json:"success"`
	ID        int64                `json:"id"`
	Duplicate bool                 `json:"duplicate"`
	Response  *models.ReviewReport `json:"response"`
	Error     string               `json:"error"`
	Details   json.RawMessage      `json:"details"`
}

// postReport sends req and decodes the response envelope. Non-2xx statuses
// return an error carrying the server's message.
func postReport(ctx context.Context, client *http.Client, endpoint string, req *ingest.Request) (*submitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode/100 != 2 {
		msg := out.Error
		if len(out.Details) > 0 && string(out.Details) != "null" {
			msg += ": " + string(out.Details)
		}
		return &out, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, msg)
	}
	return &out, nil
}

func submitRun(ctx context.Context) error {
	endpoint := viper.GetString("submit.endpoint")
	appID := viper.GetString("submit.app_id")
	secret := viper.GetString("submit.app_private_key")
	if appID == "" || secret == "" {
		return errors.New("submit.app_id and submit.app_private_key must be set (PRBOARD_SUBMIT_APP_ID, PRBOARD_SUBMIT_APP_PRIVATE_KEY)")
	}

	gh := submitContext(os.Getenv)
	comment, err := readComment(ctx, gh, github.NewClient(githubToken()))
	if err != nil {
		return fmt.Errorf("read comment: %w", err)
	}

	req := &ingest.Request{
		AppID:          appID,
		AppPrivateKey:  secret,
		CommentContent: comment,
		GitHub:         gh,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if ui.DryRun {
		ui.DryRunMsg("Would submit comment %s for %s/%s to %s", gh.CommentID, gh.Owner, gh.Repo, endpoint)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	ui.VerboseLog("POST %s", endpoint)
	out, err := postReport(ctx, &http.Client{}, endpoint, req)
	if err != nil {
		return err
	}

	if out.Duplicate {
		ui.Info("Already recorded as report %d", out.ID)
	} else {
		ui.Success("Recorded report %d", out.ID)
	}
	if out.Response != nil {
		fmt.Fprintf(ui.Out, "  Recommendation: %s\n", output.StatusColor(string(out.Response.Recommendation.Status)))
		fmt.Fprintf(ui.Out, "  Pass rate:      %s\n", output.PassRateColor(out.Response.SummaryStats.PassRate))
	}
	return nil
}
