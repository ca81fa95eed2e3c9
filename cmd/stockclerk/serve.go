package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/orchestrator"
	"github.com/mkesani1/stockclerk-sub002/internal/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Tenant Orchestrator and its shared webhook/control HTTP surface",
	RunE:  runServe,
}

var workerBinary string

func init() {
	serveCmd.Flags().StringVar(&workerBinary, "worker-binary", "", "path to the stockclerk binary the orchestrator spawns for each tenant (defaults to the running executable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logLevel := slog.LevelInfo
	if os.Getenv("STOCKCLERK_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting stockclerk orchestrator", "version", Version, "commit", Commit, "buildDate", BuildDate)

	cfg := domain.DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("STOCKCLERK_TIER"))) {
	case "", "community":
	case "pro":
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	default:
		slog.Warn("unsupported STOCKCLERK_TIER value; falling back to community tier", "value", os.Getenv("STOCKCLERK_TIER"))
	}
	applyServeEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventBus", cfg.EventBus.Type,
		"queue", cfg.Queue.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "err", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// The orchestrator itself only needs the tenant registry; cache, bus
	// and queue connections are opened per-tenant inside each spawned
	// worker process (spec.md §5: isolation boundary).
	binary := workerBinary
	if binary == "" {
		binary, err = os.Executable()
		if err != nil {
			slog.Error("failed to resolve worker binary path", "err", err)
			os.Exit(1)
		}
	}

	spawner := orchestrator.NewExecSpawner(binary, []string{"worker"}, os.Environ())
	orch := orchestrator.New(repo, spawner, cfg.Orchestrator)

	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("orchestrator run loop exited", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      orch.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("orchestrator http server failed", "err", err)
			os.Exit(1)
		}
	}()

	slog.Info("stockclerk orchestrator is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "err", err)
	}

	slog.Info("stockclerk orchestrator shutdown complete")
	return nil
}

// applyServeEnvOverrides applies environment variable overrides for
// production deployment, mirroring the community/pro config knobs.
func applyServeEnvOverrides(cfg *domain.Config) {
	if driver := os.Getenv("STOCKCLERK_DB_DRIVER"); driver != "" {
		cfg.Repository.Driver = driver
	}
	if host := os.Getenv("STOCKCLERK_POSTGRES_HOST"); host != "" {
		cfg.Repository.PostgresHost = host
	}
	if port := os.Getenv("STOCKCLERK_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Repository.PostgresPort = p
		}
	}
	if user := os.Getenv("STOCKCLERK_POSTGRES_USER"); user != "" {
		cfg.Repository.PostgresUser = user
	}
	if password := os.Getenv("STOCKCLERK_POSTGRES_PASSWORD"); password != "" {
		cfg.Repository.PostgresPassword = password
	}
	if db := os.Getenv("STOCKCLERK_POSTGRES_DB"); db != "" {
		cfg.Repository.PostgresDB = db
	}
	if port := os.Getenv("STOCKCLERK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("STOCKCLERK_HOST"); host != "" {
		cfg.Server.Host = host
	}
}
