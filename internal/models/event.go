package models

import "time"

// EventNamePRReview tags every event written by the ingestion endpoint.
const EventNamePRReview = "PR_REVIEW"

// EventRecord is one ingested review tied to a GitHub workflow run.
// JSON names follow the github_events column names.
type EventRecord struct {
	ID             int64         `json:"id"`
	Owner          string        `json:"GITHUB_REPO_OWNER_NAME"`
	EventName      string        `json:"GITHUB_EVENT_NAME"`
	Repository     string        `json:"GITHUB_REPOSITORY"`
	Branch         string        `json:"GITHUB_BRANCH"`
	BaseBranch     string        `json:"GITHUB_BASE_BRANCH"`
	HeadBranch     string        `json:"GITHUB_HEAD_BRANCH"`
	PRNumber       *int          `json:"GITHUB_PR_NUMBER"`
	PRLink         *string       `json:"GITHUB_PR_LINK"`
	RunID          string        `json:"GITHUB_RUN_ID"`
	RunNumber      *int          `json:"GITHUB_RUN_NUMBER"`
	RunAttempt     *int          `json:"GITHUB_RUN_ATTEMPT"`
	CommentID      string        `json:"GITHUB_COMMENT_ID"`
	CustomerSlug   TenantSlug    `json:"CUSTOMER_SLUG"`
	Analysis       *ReviewReport `json:"ANALYSIS_JSON"`
	Markdown       string        `json:"MARKDOWN_RES"`
	IdempotencyKey string        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DashboardMetrics are aggregate counts over one tenant's events.
type DashboardMetrics struct {
	TotalUniqueRepos int64 `json:"totalUniqueRepos"`
	TotalRuns        int64 `json:"totalRuns"`
	TotalUniquePRs   int64 `json:"totalUniquePRs"`
}
