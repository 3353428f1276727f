package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/diggerhq/digger/statebackend/internal/auth"
	"github.com/diggerhq/digger/statebackend/internal/backend"
	"github.com/diggerhq/digger/statebackend/internal/config"
	"github.com/diggerhq/digger/statebackend/internal/kvstore"
	"github.com/diggerhq/digger/statebackend/internal/logging"
	"github.com/diggerhq/digger/statebackend/internal/metrics"
	"github.com/diggerhq/digger/statebackend/internal/ops"
)

const shutdownTimeout = 10 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the state backend server",
	Long: `Start the state backend server. Configuration is read from the
environment, optionally preloaded from a dotenv file. The server refuses to
start without TF_BACKEND_USERNAME and TF_BACKEND_PASSWORD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringP("port", "p", "", "Server port (overrides PORT)")
	cmd.Flags().String("store", "", "Store backend: memory, redis, sql, s3, dynamodb, gcs (overrides STORE_BACKEND)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "", "Log format (json, text)")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetString("port")
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Backend, _ = cmd.Flags().GetString("store")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format, _ = cmd.Flags().GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("Starting HTTP State Backend", "version", Version, "store", cfg.Store.Backend)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "statebackend@" + Version,
		}); err != nil {
			slog.Error("Sentry initialization failed", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := kvstore.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.Store.Backend, err)
	}
	defer kv.Close()

	servers := buildServers(cfg, kv, logger)
	return run(ctx, servers)
}

// buildServers returns the protocol server and, when OPS_ADDR is set, the ops server.
func buildServers(cfg *config.Config, kv kvstore.Store, logger *slog.Logger) []*http.Server {
	var rec metrics.Recorder = metrics.NoopRecorder{}
	var prom *metrics.PrometheusRecorder
	if cfg.Server.OpsAddr != "" {
		prom = metrics.NewPrometheusRecorder(nil)
		rec = prom
	}

	engine := backend.NewEngine(backend.Dependencies{
		Protocol: cfg.Protocol,
		Auth:     auth.New(cfg.Username, cfg.Password),
		Store:    kv,
		Metrics:  rec,
		Logger:   logger,
	})
	servers := []*http.Server{{
		Addr:         cfg.Server.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}

	if prom != nil {
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.OpsAddr,
			Handler:           ops.NewEngine(Version, prom.Registry(), cfg.Server.OpsPprof),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	return servers
}

// run serves until ctx is cancelled or a server fails, then shuts every server down.
func run(ctx context.Context, servers []*http.Server) error {
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			slog.Info("HTTP server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case runErr = <-errCh:
		slog.Error("Server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "addr", srv.Addr, "error", err)
		}
	}
	slog.Info("Server exited")
	return runErr
}
