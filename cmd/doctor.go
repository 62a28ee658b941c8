package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/api"
	"github.com/joescharf/prboard/internal/output"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and database connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if failed := doctorRun(commandContext()); failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name   string
	OK     bool
	Detail string
	Hints  []string
}

func doctorChecks(ctx context.Context) []doctorCheck {
	var checks []doctorCheck

	secret := doctorCheck{Name: "session secret", OK: viper.GetString("auth.session_secret") != ""}
	if secret.OK {
		secret.Detail = "set"
	} else {
		secret.Detail = "auth.session_secret is empty; serve and token will refuse to start"
	}
	checks = append(checks, secret)

	checks = append(checks, doctorCheck{
		Name:   "model",
		OK:     viper.GetString("anthropic.model") != "",
		Detail: fmt.Sprintf("%s (timeout %s, %d retries)", viper.GetString("anthropic.model"), viper.GetDuration("anthropic.timeout"), viper.GetInt("anthropic.max_retries")),
	})

	db := doctorCheck{Name: "database", Detail: storeConfig().Driver}
	s, err := getStore()
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.Ping(pingCtx)
		cancel()
	}
	if err != nil {
		db.Detail = err.Error()
		db.Hints = api.Troubleshoot(err)
		return append(checks, db)
	}
	db.OK = true
	db.Detail = s.Dialect() + " reachable"
	checks = append(checks, db)

	if tenants, err := s.ListTenants(ctx); err == nil {
		checks = append(checks, doctorCheck{
			Name:   "tenants",
			OK:     len(tenants) > 0,
			Detail: fmt.Sprintf("%d registered", len(tenants)),
		})
	}
	return checks
}

func doctorRun(ctx context.Context) int {
	table := ui.Table([]string{"Check", "Status", "Detail"})
	failed := 0
	var hints []string
	for _, c := range doctorChecks(ctx) {
		status := output.Green("ok")
		if !c.OK {
			status = output.Red("fail")
			failed++
		}
		table.Append([]string{c.Name, status, c.Detail})
		hints = append(hints, c.Hints...)
	}
	table.Render()

	for _, h := range hints {
		ui.Info("%s", h)
	}
	return failed
}
