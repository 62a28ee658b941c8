package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prboard/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func event(id int64, repo, head string, pr *int, minutes int) *models.EventRecord {
	return &models.EventRecord{
		ID: id, Owner: "acme", Repository: repo, HeadBranch: head, BaseBranch: "main",
		PRNumber: pr, CreatedAt: base.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "acme/demo::feat::main::7", GroupKey(event(1, "demo", "feat", intp(7), 0)))
	assert.Equal(t, "acme/demo::no-head::no-base::no-pr", GroupKey(&models.EventRecord{Owner: "acme", Repository: "demo"}))
}

func TestGroupRuns(t *testing.T) {
	events := []*models.EventRecord{
		event(1, "demo", "feat", intp(7), 0),
		event(2, "other", "fix", intp(3), 5),
		event(3, "demo", "feat", intp(7), 10),
		event(4, "demo", "feat", nil, 2),
	}

	groups := GroupRuns(events)
	require.Len(t, groups, 3)

	// Groups ordered by their latest run.
	assert.Equal(t, "acme/demo::feat::main::7", groups[0].Key)
	assert.Equal(t, int64(3), groups[0].Latest.ID)
	require.Len(t, groups[0].Previous, 1)
	assert.Equal(t, int64(1), groups[0].Previous[0].ID)

	assert.Equal(t, int64(2), groups[1].Latest.ID)
	assert.Equal(t, "acme/demo::feat::main::no-pr", groups[2].Key)
	assert.Empty(t, groups[2].Previous)

	assert.Len(t, groups[0].Runs(), 2)
}

func TestGroupRuns_Empty(t *testing.T) {
	assert.Nil(t, GroupRuns(nil))
}

func TestGroupRuns_TieBreaksOnID(t *testing.T) {
	groups := GroupRuns([]*models.EventRecord{
		event(1, "demo", "feat", intp(1), 0),
		event(2, "demo", "feat", intp(1), 0),
	})
	require.Len(t, groups, 1)
	assert.Equal(t, int64(2), groups[0].Latest.ID)
}

func TestParsePassRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"85%", 85, true},
		{"72.5%", 72.5, true},
		{" 100 ", 100, true},
		{"", 0, false},
		{"n/a", 0, false},
		{"NaN", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePassRate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "85.0%", FormatPercentage(85, true))
	assert.Equal(t, "33.3%", FormatPercentage(33.333, true))
	assert.Equal(t, "N/A", FormatPercentage(0, false))
}

func TestStatusTone(t *testing.T) {
	assert.Equal(t, ToneSuccess, StatusTone("MERGE"))
	assert.Equal(t, ToneSuccess, StatusTone("pass"))
	assert.Equal(t, ToneWarning, StatusTone("REVIEW_NEEDED"))
	assert.Equal(t, ToneDanger, StatusTone("DO_NOT_MERGE"))
	assert.Equal(t, ToneDanger, StatusTone("FAIL"))
	assert.Equal(t, ToneUnknown, StatusTone(""))
	assert.Equal(t, ToneUnknown, StatusTone("maybe"))
}

func TestPassRateTone(t *testing.T) {
	assert.Equal(t, ToneSuccess, PassRateTone(80, true))
	assert.Equal(t, ToneWarning, PassRateTone(79.9, true))
	assert.Equal(t, ToneWarning, PassRateTone(60, true))
	assert.Equal(t, ToneDanger, PassRateTone(59.9, true))
	assert.Equal(t, ToneUnknown, PassRateTone(0, false))
}

func TestSummarize(t *testing.T) {
	e := event(9, "demo", "feat", intp(7), 0)
	s := Summarize(e)
	assert.Equal(t, "Unknown", s.Recommendation)
	assert.Equal(t, "N/A", s.PassRate)
	assert.Equal(t, "#7", s.PR)

	e.Analysis = &models.ReviewReport{
		Coverage:       models.Coverage{TotalTests: 4, Passed: 3, CodeCoveragePercent: 91.25},
		CriticalIssues: []models.CriticalIssue{{ID: "BUG-1"}},
		Recommendation: models.Recommendation{Status: models.RecommendReviewNeeded},
		SummaryStats:   models.SummaryStats{PassRate: "75%"},
	}
	s = Summarize(e)
	assert.Equal(t, "REVIEW_NEEDED", s.Recommendation)
	assert.Equal(t, "75.0%", s.PassRate)
	assert.Equal(t, ToneWarning, s.PassRateTone)
	assert.Equal(t, "3/4", s.Tests)
	assert.Equal(t, 1, s.CriticalIssues)
	assert.Equal(t, "91.2%", s.Coverage)
	assert.Equal(t, "acme/demo", s.Repository)
}
