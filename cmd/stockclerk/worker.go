package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkesani1/stockclerk-sub002/internal/alertagent"
	"github.com/mkesani1/stockclerk-sub002/internal/bus"
	"github.com/mkesani1/stockclerk-sub002/internal/cache"
	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/ipc"
	"github.com/mkesani1/stockclerk-sub002/internal/queue"
	"github.com/mkesani1/stockclerk-sub002/internal/repository"
	"github.com/mkesani1/stockclerk-sub002/internal/worker"
)

var tenantID string

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one tenant's sync pipeline, driven over stdin/stdout by a parent stockclerk serve process",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&tenantID, "tenant-id", "", "tenant to run this worker for")
}

// runWorker bootstraps a single tenant's Watcher/Sync Agent/Guardian/Alert
// Agent quartet and speaks the parent's IPC protocol over stdin/stdout
// (spec.md §4.1). Every log line goes to stderr: stdout is the IPC wire.
func runWorker(cmd *cobra.Command, args []string) error {
	if tenantID == "" {
		tenantID = os.Getenv("STOCKCLERK_TENANT_ID")
	}
	if tenantID == "" {
		return fmt.Errorf("--tenant-id is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	log := logger.With("component", "worker-process", "tenantId", tenantID)

	cfg := domain.DefaultConfig()
	if strings.ToLower(strings.TrimSpace(os.Getenv("STOCKCLERK_TIER"))) == "pro" {
		cfg = domain.ProConfig()
	}
	if limit := cfg.Orchestrator.WorkerHeapLimitBytes; limit > 0 {
		debug.SetMemoryLimit(limit)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fatalf(log, "initialize repository: %w", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fatalf(log, "initialize cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fatalf(log, "initialize event bus: %w", err)
	}
	defer busImpl.Close()

	queueImpl, err := queue.New(cfg.Queue)
	if err != nil {
		return fatalf(log, "initialize queue: %w", err)
	}
	defer queueImpl.Close()

	smtpCfg := alertagent.SMTPConfig{
		Host: os.Getenv("STOCKCLERK_SMTP_HOST"),
		From: os.Getenv("STOCKCLERK_SMTP_FROM"),
	}
	if port := os.Getenv("STOCKCLERK_SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			smtpCfg.Port = p
		}
	}
	if user := os.Getenv("STOCKCLERK_SMTP_USER"); user != "" {
		smtpCfg.Auth = smtp.PlainAuth("", user, os.Getenv("STOCKCLERK_SMTP_PASSWORD"), smtpCfg.Host)
	}

	w, err := worker.New(tenantID, repo, busImpl, queueImpl, cacheImpl, *cfg, smtpCfg)
	if err != nil {
		return fatalf(log, "build worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	conn := ipc.NewConn(os.Stdin, os.Stdout)
	ready, err := ipc.Encode(ipc.TypeReady, ipc.ReadyPayload{PID: os.Getpid()})
	if err != nil {
		return fatalf(log, "encode ready message: %w", err)
	}
	if err := conn.Send(ready); err != nil {
		return fatalf(log, "send ready message: %w", err)
	}

	go func() {
		if err := conn.Loop(ctx, func(msg ipc.Message) error {
			if msg.Type == ipc.TypePing {
				if err := w.HandleIPCMessage(msg); err != nil {
					return err
				}
				pong, err := ipc.Encode(ipc.TypePong, ipc.PongPayload{Timestamp: time.Now().Unix()})
				if err != nil {
					return err
				}
				return conn.Send(pong)
			}
			return w.HandleIPCMessage(msg)
		}); err != nil && ctx.Err() == nil {
			log.Error("ipc loop exited", "err", err)
			report, encErr := ipc.Encode(ipc.TypeErrorReport, ipc.ErrorReportPayload{Message: err.Error(), Fatal: true})
			if encErr == nil {
				_ = conn.Send(report)
			}
			cancel()
		}
	}()

	if err := w.Run(ctx); err != nil {
		log.Error("worker run loop exited", "err", err)
		return err
	}
	return nil
}

func fatalf(log *slog.Logger, format string, err error) error {
	log.Error("worker process failed to start", "err", err)
	return fmt.Errorf(format, err)
}
