package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/api"
	"github.com/joescharf/prboard/internal/auth"
	"github.com/joescharf/prboard/internal/daemon"
	"github.com/joescharf/prboard/internal/ingest"
	"github.com/joescharf/prboard/internal/models"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion and dashboard API server",
	Long: `Start an HTTP server with the ingestion endpoint (POST /api/v1/reporting)
and the session-protected dashboard endpoints.

By default it listens on port 8080. Use --port to change it.
auth.session_secret must be set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(commandContext(), shutdownSignals()...)
		defer stop()
		return serveRun(ctx)
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopForce bool

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	serveStopCmd.Flags().BoolVar(&serveStopForce, "force", false, "Kill the server instead of asking it to shut down")
}

// pidFile returns the PID file of the local server.
func pidFile() *daemon.PIDFile {
	dir, _ := configDirFunc()
	return daemon.NewPIDFile(filepath.Join(dir, "prboard-serve.pid"))
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server is running (pid %d, port %d)", pid, viper.GetInt("server.port"))
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return errors.New("server is not running")
	}

	if ui.DryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	sig := sigTERM()
	if serveStopForce {
		sig = sigKILL()
	}
	if err := pf.Signal(sig); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(viper.GetDuration("server.shutdown_timeout") + 5*time.Second)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("server (pid %d) did not stop; retry with --force", pid)
}

// newAPIServer wires the store, extractor and authenticator into an API server.
func newAPIServer() (*api.Server, error) {
	authn, err := auth.New(viper.GetString("auth.session_secret"))
	if err != nil {
		return nil, fmt.Errorf("%w (set it in the config file or PRBOARD_AUTH_SESSION_SECRET)", err)
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}

	svc := ingest.NewService(s, s, s, newExtractor())
	return api.NewServer(s, svc, authn, api.Options{
		DefaultTenant: models.TenantSlug(viper.GetString("dashboard.tenant")),
		PageSize:      viper.GetInt("dashboard.page_size"),
	}), nil
}

func serveRun(ctx context.Context) error {
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	apiServer, err := newAPIServer()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler:           apiServer.Router(),
		ReadTimeout:       viper.GetDuration("server.read_timeout"),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      viper.GetDuration("server.write_timeout"),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "db", dataStore.Dialect())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.shutdown_timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
