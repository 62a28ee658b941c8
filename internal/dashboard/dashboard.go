// Package dashboard groups review runs and derives the display values the
// terminal and MCP views share.
package dashboard

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/joescharf/prboard/internal/models"
)

// Tone is the visual weight of a status or score.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneWarning Tone = "warning"
	ToneDanger  Tone = "danger"
	ToneUnknown Tone = "unknown"
)

// Pass-rate thresholds, in percent.
const (
	PassRateSuccess = 80.0
	PassRateWarning = 60.0
)

// Group is every run of one PR lineage, newest first.
type Group struct {
	Key      string
	Latest   *models.EventRecord
	Previous []*models.EventRecord
}

// Runs returns the latest run followed by the previous ones.
func (g Group) Runs() []*models.EventRecord {
	return append([]*models.EventRecord{g.Latest}, g.Previous...)
}

// GroupKey identifies the lineage an event belongs to:
// owner/repo::head::base::pr.
func GroupKey(e *models.EventRecord) string {
	head := orDefault(e.HeadBranch, "no-head")
	base := orDefault(e.BaseBranch, "no-base")
	pr := "no-pr"
	if e.PRNumber != nil {
		pr = strconv.Itoa(*e.PRNumber)
	}
	return strings.Join([]string{e.Owner + "/" + e.Repository, head, base, pr}, "::")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// GroupRuns collapses events into lineages. Runs within a group and the
// groups themselves are ordered newest first by creation time; ties fall back
// to the higher id.
func GroupRuns(events []*models.EventRecord) []Group {
	if len(events) == 0 {
		return nil
	}

	byKey := make(map[string][]*models.EventRecord)
	var order []string
	for _, e := range events {
		key := GroupKey(e)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], e)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		runs := byKey[key]
		sort.SliceStable(runs, func(i, j int) bool { return newer(runs[i], runs[j]) })
		groups = append(groups, Group{Key: key, Latest: runs[0], Previous: runs[1:]})
	}

	sort.SliceStable(groups, func(i, j int) bool { return newer(groups[i].Latest, groups[j].Latest) })
	return groups
}

func newer(a, b *models.EventRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// ParsePassRate reads a value like "85%" or "85.5". ok is false when the
// value is not a finite number.
func ParsePassRate(s string) (rate float64, ok bool) {
	s = strings.TrimSpace(strings.Replace(s, "%", "", 1))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// FormatPercentage renders v with one decimal, or "N/A" when !ok.
func FormatPercentage(v float64, ok bool) string {
	if !ok || math.IsNaN(v) {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", v)
}

// StatusTone maps a recommendation or test status to a tone.
func StatusTone(status string) Tone {
	switch strings.ToLower(status) {
	case "pass", "approved", "merge":
		return ToneSuccess
	case "pending", "review", "review_needed":
		return ToneWarning
	case "fail", "rejected", "do_not_merge":
		return ToneDanger
	default:
		return ToneUnknown
	}
}

// PassRateTone maps a pass rate to a tone.
func PassRateTone(rate float64, ok bool) Tone {
	switch {
	case !ok:
		return ToneUnknown
	case rate >= PassRateSuccess:
		return ToneSuccess
	case rate >= PassRateWarning:
		return ToneWarning
	default:
		return ToneDanger
	}
}

// Summary is the one-line view of a run used by list views.
type Summary struct {
	ID             int64  `json:"id"`
	Repository     string `json:"repository"`
	PR             string `json:"pr"`
	Branch         string `json:"branch"`
	Recommendation string `json:"recommendation"`
	PassRate       string `json:"pass_rate"`
	PassRateTone   Tone   `json:"pass_rate_tone"`
	Tests          string `json:"tests"`
	CriticalIssues int    `json:"critical_issues"`
	Coverage       string `json:"coverage"`
	CreatedAt      string `json:"created_at"`
}

// Summarize derives the list-view fields of an event.
func Summarize(e *models.EventRecord) Summary {
	s := Summary{
		ID:             e.ID,
		Repository:     e.Owner + "/" + e.Repository,
		PR:             "-",
		Branch:         orDefault(e.HeadBranch, e.Branch),
		Recommendation: "Unknown",
		PassRate:       "N/A",
		PassRateTone:   ToneUnknown,
		Tests:          "-",
		Coverage:       "N/A",
		CreatedAt:      e.CreatedAt.Format("2006-01-02 15:04"),
	}
	if e.PRNumber != nil {
		s.PR = "#" + strconv.Itoa(*e.PRNumber)
	}

	a := e.Analysis
	if a == nil {
		return s
	}
	if a.Recommendation.Status != "" {
		s.Recommendation = string(a.Recommendation.Status)
	}
	rate, ok := ParsePassRate(a.SummaryStats.PassRate)
	s.PassRate = FormatPercentage(rate, ok)
	s.PassRateTone = PassRateTone(rate, ok)
	s.Tests = fmt.Sprintf("%d/%d", a.Coverage.Passed, a.Coverage.TotalTests)
	s.CriticalIssues = len(a.CriticalIssues)
	s.Coverage = FormatPercentage(a.Coverage.CodeCoveragePercent, true)
	return s
}
