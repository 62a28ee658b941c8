package models

// TestCategory classifies a test case in a review report.
type TestCategory string

const (
	CategoryCriticalBugValidation TestCategory = "Critical Bug Validation"
	CategoryPositiveImprovement   TestCategory = "Positive Improvement"
	CategoryCoreFunctionality     TestCategory = "Core Functionality"
	CategoryEdgeCase              TestCategory = "Edge Case"
)

// TestCategories lists every category in display order.
var TestCategories = []TestCategory{
	CategoryCriticalBugValidation,
	CategoryPositiveImprovement,
	CategoryCoreFunctionality,
	CategoryEdgeCase,
}

func (c TestCategory) Valid() bool {
	for _, v := range TestCategories {
		if c == v {
			return true
		}
	}
	return false
}

// TestResult is the outcome of a single test case.
type TestResult string

const (
	TestResultPass TestResult = "PASS"
	TestResultFail TestResult = "FAIL"
)

func (r TestResult) Valid() bool {
	return r == TestResultPass || r == TestResultFail
}

// Severity rates the bug a test case is linked to.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IssueStatus is the state of a critical issue found during review.
type IssueStatus string

const (
	IssueStatusBlocking IssueStatus = "BLOCKING"
	IssueStatusFixed    IssueStatus = "FIXED"
	IssueStatusOpen     IssueStatus = "OPEN"
)

func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusBlocking, IssueStatusFixed, IssueStatusOpen:
		return true
	}
	return false
}

// RecommendationStatus is the final merge advice of a review.
type RecommendationStatus string

const (
	RecommendMerge        RecommendationStatus = "MERGE"
	RecommendDoNotMerge   RecommendationStatus = "DO_NOT_MERGE"
	RecommendReviewNeeded RecommendationStatus = "REVIEW_NEEDED"
)

func (s RecommendationStatus) Valid() bool {
	switch s {
	case RecommendMerge, RecommendDoNotMerge, RecommendReviewNeeded:
		return true
	}
	return false
}

// ReviewReport is the structured form of a free-text PR review comment.
// The JSON field names are the wire and storage contract; see internal/schema.
type ReviewReport struct {
	Metadata              Metadata               `json:"metadata"`
	Tests                 []TestCase             `json:"tests"`
	Coverage              Coverage               `json:"coverage"`
	CriticalIssues        []CriticalIssue        `json:"critical_issues"`
	ValidatedImprovements []ValidatedImprovement `json:"validated_improvements"`
	Recommendation        Recommendation         `json:"recommendation"`
	SummaryStats          SummaryStats           `json:"summary_stats"`
}

// Metadata describes the CI job and change under review.
type Metadata struct {
	JobTitle     string `json:"job_title"`
	JobURL       string `json:"job_url"`
	Branch       string `json:"branch"`
	Feature      string `json:"feature"`
	LinesChanged string `json:"lines_changed,omitempty"`
	FilesChanged *int   `json:"files_changed,omitempty"`
}

// TestCase is one test the reviewer ran against the change.
type TestCase struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	Category         TestCategory      `json:"category"`
	Objective        string            `json:"objective"`
	FunctionTested   string            `json:"function_tested,omitempty"`
	RelatedLines     []int             `json:"related_lines,omitempty"`
	Input            map[string]any    `json:"input,omitempty"`
	ExpectedBehavior *ExpectedBehavior `json:"expected_behavior,omitempty"`
	Result           TestResult        `json:"result"`
	LinkedIssue      *LinkedIssue      `json:"linked_issue,omitempty"`
	Impact           string            `json:"impact,omitempty"`
}

// ExpectedBehavior contrasts current behavior with behavior after a fix.
type ExpectedBehavior struct {
	Current  string `json:"current,omitempty"`
	AfterFix string `json:"after_fix,omitempty"`
}

// LinkedIssue ties a test case to a bug.
type LinkedIssue struct {
	Severity Severity `json:"severity"`
	BugRef   string   `json:"bug_ref"`
}

// Coverage summarizes test results.
type Coverage struct {
	TotalTests          int                         `json:"total_tests"`
	Passed              int                         `json:"passed"`
	Failed              int                         `json:"failed"`
	CodeCoveragePercent float64                     `json:"code_coverage_percent"`
	ChangedLines        string                      `json:"changed_lines,omitempty"`
	CoverageByCategory  map[string]CategoryCoverage `json:"coverage_by_category"`
}

// CategoryCoverage is the pass count for one test category.
type CategoryCoverage struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// CriticalIssue is a blocking problem confirmed by failing tests.
// Evidence entries are strings or numbers.
type CriticalIssue struct {
	ID            string      `json:"id"`
	Description   string      `json:"description"`
	Evidence      []any       `json:"evidence"`
	Impact        []string    `json:"impact"`
	AffectedTypes []string    `json:"affected_types"`
	RequiredFix   RequiredFix `json:"required_fix"`
	Status        IssueStatus `json:"status"`
}

// RequiredFix describes the change needed to resolve a critical issue.
type RequiredFix struct {
	LinesToChange   string `json:"lines_to_change"`
	Snippet         string `json:"snippet"`
	EstimatedEffort string `json:"estimated_effort"`
}

// ValidatedImprovement is an optimization confirmed by passing tests.
type ValidatedImprovement struct {
	Name    string `json:"name"`
	Tests   []int  `json:"tests"`
	Benefit string `json:"benefit"`
}

// Recommendation is the reviewer's merge advice.
type Recommendation struct {
	Status RecommendationStatus `json:"status"`
	Reason string               `json:"reason"`
}

// SummaryStats holds the headline numbers of a review.
type SummaryStats struct {
	TotalTests           int     `json:"total_tests"`
	PassRate             string  `json:"pass_rate"`
	CriticalBugsFound    int     `json:"critical_bugs_found"`
	PositiveImprovements int     `json:"positive_improvements"`
	CoveragePercent      float64 `json:"coverage_percent"`
}
