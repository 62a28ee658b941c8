package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/dashboard"
	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/output"
	"github.com/joescharf/prboard/internal/store"
)

var (
	reportsTenant  string
	reportsLimit   int
	reportsAllRuns bool
	reportFormat   string
)

var reportsCmd = &cobra.Command{
	Use:     "reports",
	Aliases: []string{"report"},
	Short:   "Browse ingested review reports",
	Long: `Browse review reports stored in the database.

Runs are scoped to --tenant, then dashboard.tenant from config. With
neither set, every tenant is shown.`,
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review runs grouped by PR",
	Long: `List review runs grouped by repository, head branch, base branch and PR.
The latest run of each group is shown; --all-runs also lists earlier runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportsListRun()
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one review run in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportsShowRun(args[0])
	},
}

var reportsMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregate counts for the tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportsMetricsRun()
	},
}

var reportsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export review runs as JSON, CSV, or Markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportsExportRun()
	},
}

func init() {
	reportsCmd.PersistentFlags().StringVar(&reportsTenant, "tenant", "", "Customer slug to filter by")
	reportsCmd.PersistentFlags().IntVar(&reportsLimit, "limit", 0, "Maximum number of runs to read (default dashboard.page_size)")

	reportsListCmd.Flags().BoolVar(&reportsAllRuns, "all-runs", false, "Also list earlier runs of each PR")
	reportsExportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsMetricsCmd)
	reportsCmd.AddCommand(reportsExportCmd)
	rootCmd.AddCommand(reportsCmd)
}

func reportsScope() models.TenantSlug {
	if reportsTenant != "" {
		return models.TenantSlug(reportsTenant)
	}
	return models.TenantSlug(viper.GetString("dashboard.tenant"))
}

func reportsPageSize() int {
	if reportsLimit > 0 {
		return reportsLimit
	}
	if n := viper.GetInt("dashboard.page_size"); n > 0 {
		return n
	}
	return 100
}

func listScopedEvents(ctx context.Context, s store.EventStore) ([]*models.EventRecord, error) {
	events, err := s.ListEvents(ctx, reportsScope(), reportsPageSize())
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return events, nil
}

func reportsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	events, err := listScopedEvents(commandContext(), s)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		ui.Info("No review reports found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Repository", "PR", "Branch", "Recommendation", "Pass Rate", "Tests", "Critical", "Created"})
	for _, g := range dashboard.GroupRuns(events) {
		table.Append(summaryRow(dashboard.Summarize(g.Latest), len(g.Previous)))
		if reportsAllRuns {
			for _, prev := range g.Previous {
				row := summaryRow(dashboard.Summarize(prev), 0)
				row[1] = "  ↳ earlier run"
				table.Append(row)
			}
		}
	}
	table.Render()
	return nil
}

func summaryRow(sm dashboard.Summary, earlier int) []string {
	repo := output.Cyan(sm.Repository)
	if earlier > 0 {
		repo += fmt.Sprintf(" (+%d)", earlier)
	}
	critical := strconv.Itoa(sm.CriticalIssues)
	if sm.CriticalIssues > 0 {
		critical = output.Red(critical)
	}
	return []string{
		strconv.FormatInt(sm.ID, 10),
		repo,
		sm.PR,
		sm.Branch,
		output.StatusColor(sm.Recommendation),
		output.Tone(sm.PassRateTone, sm.PassRate),
		sm.Tests,
		critical,
		sm.CreatedAt,
	}
}

// parseReportID accepts positive integers only.
func parseReportID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid report ID %q: must be a positive number", raw)
	}
	return id, nil
}

func reportsShowRun(raw string) error {
	id, err := parseReportID(raw)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	e, err := s.GetEvent(commandContext(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && reportsScope() != "" && e.CustomerSlug != reportsScope()) {
		return fmt.Errorf("report %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("get report: %w", err)
	}

	printReport(e)
	return nil
}

func printReport(e *models.EventRecord) {
	sm := dashboard.Summarize(e)

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(sm.Repository), sm.PR)
	fmt.Fprintf(ui.Out, "  Branch:    %s -> %s\n", orDash(e.HeadBranch), orDash(e.BaseBranch))
	fmt.Fprintf(ui.Out, "  Run:       %s", e.RunID)
	if e.RunAttempt != nil {
		fmt.Fprintf(ui.Out, " (attempt %d)", *e.RunAttempt)
	}
	fmt.Fprintln(ui.Out)
	if e.PRLink != nil {
		fmt.Fprintf(ui.Out, "  Link:      %s\n", *e.PRLink)
	}
	fmt.Fprintf(ui.Out, "  Tenant:    %s\n", e.CustomerSlug)
	fmt.Fprintf(ui.Out, "  Ingested:  %s (%s)\n", sm.CreatedAt, timeAgo(e.CreatedAt))

	a := e.Analysis
	if a == nil {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  %s\n", output.Yellow("Structured analysis unavailable for this run."))
		return
	}

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  Recommendation: %s\n", output.StatusColor(string(a.Recommendation.Status)))
	if a.Recommendation.Reason != "" {
		fmt.Fprintf(ui.Out, "    %s\n", a.Recommendation.Reason)
	}
	fmt.Fprintf(ui.Out, "  Pass rate:      %s\n", output.PassRateColor(a.SummaryStats.PassRate))
	fmt.Fprintf(ui.Out, "  Tests:          %s passed, %d failed\n", sm.Tests, a.Coverage.Failed)
	fmt.Fprintf(ui.Out, "  Coverage:       %s\n", sm.Coverage)

	if len(a.Tests) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"#", "Test", "Category", "Result", "Issue"})
		for _, tc := range a.Tests {
			issue := ""
			if tc.LinkedIssue != nil {
				issue = fmt.Sprintf("%s (%s)", tc.LinkedIssue.BugRef, tc.LinkedIssue.Severity)
			}
			table.Append([]string{
				strconv.Itoa(tc.ID),
				tc.Name,
				string(tc.Category),
				output.StatusColor(string(tc.Result)),
				issue,
			})
		}
		table.Render()
	}

	if len(a.CriticalIssues) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  Critical issues:")
		for _, ci := range a.CriticalIssues {
			fmt.Fprintf(ui.Out, "    %s %s [%s]\n", output.Red(ci.ID), ci.Description, ci.Status)
			if ci.RequiredFix.LinesToChange != "" {
				fmt.Fprintf(ui.Out, "      fix: %s (%s)\n", ci.RequiredFix.LinesToChange, ci.RequiredFix.EstimatedEffort)
			}
		}
	}

	if len(a.ValidatedImprovements) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  Validated improvements:")
		for _, vi := range a.ValidatedImprovements {
			fmt.Fprintf(ui.Out, "    %s %s: %s\n", output.Green("+"), vi.Name, vi.Benefit)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func reportsMetricsRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	m, err := s.AggregateCounts(commandContext(), reportsScope())
	if err != nil {
		return fmt.Errorf("dashboard metrics: %w", err)
	}

	scope := string(reportsScope())
	if scope == "" {
		scope = "all tenants"
	}
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(scope))
	fmt.Fprintf(ui.Out, "  Repositories: %d\n", m.TotalUniqueRepos)
	fmt.Fprintf(ui.Out, "  Runs:         %d\n", m.TotalRuns)
	fmt.Fprintf(ui.Out, "  PRs:          %d\n", m.TotalUniquePRs)
	return nil
}

func reportsExportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	events, err := listScopedEvents(commandContext(), s)
	if err != nil {
		return err
	}
	return exportEvents(events, reportFormat)
}

func exportEvents(events []*models.EventRecord, format string) error {
	switch format {
	case "json":
		if events == nil {
			events = []*models.EventRecord{}
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Tenant", "Repository", "PR", "Branch", "Run", "Recommendation", "PassRate", "Tests", "Critical", "Coverage", "Created"})
		for _, e := range events {
			sm := dashboard.Summarize(e)
			_ = w.Write([]string{
				strconv.FormatInt(e.ID, 10),
				string(e.CustomerSlug),
				sm.Repository,
				sm.PR,
				sm.Branch,
				e.RunID,
				sm.Recommendation,
				sm.PassRate,
				sm.Tests,
				strconv.Itoa(sm.CriticalIssues),
				sm.Coverage,
				e.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Review Reports")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| ID | Repository | PR | Branch | Recommendation | Pass Rate | Tests | Critical |")
		fmt.Fprintln(ui.Out, "|----|------------|----|--------|----------------|-----------|-------|----------|")
		for _, e := range events {
			sm := dashboard.Summarize(e)
			fmt.Fprintf(ui.Out, "| %d | %s | %s | %s | %s | %s | %s | %d |\n",
				sm.ID, mdEscape(sm.Repository), sm.PR, mdEscape(sm.Branch),
				sm.Recommendation, sm.PassRate, sm.Tests, sm.CriticalIssues)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", format)
	}
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// timeAgo returns a human-readable relative time string.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
