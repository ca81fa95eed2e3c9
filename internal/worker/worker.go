// Package worker hosts the four sync-pipeline agents (Watcher, Sync Agent,
// Guardian, Alert Agent) for exactly one tenant, isolated by the Tenant
// Orchestrator in its own OS process (spec.md §4 and §5).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkesani1/stockclerk-sub002/internal/alertagent"
	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/guardian"
	"github.com/mkesani1/stockclerk-sub002/internal/ipc"
	"github.com/mkesani1/stockclerk-sub002/internal/provider"
	"github.com/mkesani1/stockclerk-sub002/internal/syncagent"
	"github.com/mkesani1/stockclerk-sub002/internal/watcher"
)

// Worker wires the four agents together for one tenant: the Sync Agent
// drains the stockUpdate/sync/webhook queues, the Watcher ingests
// webhooks and polls, the Guardian reconciles on its own ticker, and the
// Alert Agent reacts to the other three over the EventBus.
type Worker struct {
	tenantID string
	repo     domain.Repository
	bus      domain.EventBus
	queue    domain.Queue
	cfg      domain.Config

	sync   *syncagent.Agent
	watch  *watcher.Watcher
	guard  *guardian.Guardian
	alerts *alertagent.Agent

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	log           *slog.Logger
}

// New constructs a Worker for one tenant. smtpCfg configures the Alert
// Agent's email action; a zero value disables it.
func New(tenantID string, repo domain.Repository, bus domain.EventBus, queue domain.Queue, cache domain.Cache, cfg domain.Config, smtpCfg alertagent.SMTPConfig) (*Worker, error) {
	providers, err := provider.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	alerts, err := alertagent.New(tenantID, repo, bus, cache, smtpCfg)
	if err != nil {
		return nil, fmt.Errorf("build alert agent: %w", err)
	}

	return &Worker{
		tenantID: tenantID,
		repo:     repo,
		bus:      bus,
		queue:    queue,
		cfg:      cfg,
		sync:     syncagent.New(tenantID, repo, bus, providers),
		watch:    watcher.New(tenantID, repo, queue, cache, providers),
		guard:    guardian.New(tenantID, repo, bus, providers, cfg.Guardian),
		alerts:   alerts,
		log:      slog.Default().With("component", "worker", "tenantId", tenantID),
	}, nil
}

// Run starts every agent's loop and blocks until ctx is cancelled. On
// cancellation it unsubscribes from the bus and waits for in-flight queue
// handlers to drain, bounded by cfg.Orchestrator.ShutdownGraceSecs
// (spec.md §5: "drains in-flight jobs up to 10s").
func (w *Worker) Run(ctx context.Context) error {
	if err := w.alerts.LoadRules(ctx); err != nil {
		w.log.Error("load alert rules failed", "err", err)
	}

	if err := w.subscribeAlerts(ctx); err != nil {
		return fmt.Errorf("subscribe alert agent: %w", err)
	}

	w.startQueues(ctx)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		if err := w.watch.Poll(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("watcher poll loop exited", "err", err)
		}
	}()
	go func() {
		defer w.wg.Done()
		if err := w.guard.Run(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("guardian run loop exited", "err", err)
		}
	}()

	<-ctx.Done()
	return w.shutdown()
}

// shutdown unsubscribes from the bus and waits for agent goroutines to
// return, forcing past the grace window rather than hanging forever —
// the parent orchestrator force-kills the process on overrun anyway.
func (w *Worker) shutdown() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.log.Warn("unsubscribe failed", "topic", sub.Topic(), "err", err)
		}
	}
	w.subscriptions = nil

	grace := time.Duration(w.cfg.Orchestrator.ShutdownGraceSecs) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		w.log.Warn("shutdown grace period exceeded, returning without drain")
	}
	return nil
}

// startQueues registers the Sync Agent's job handler against every queue
// that carries sync work, at the concurrency spec.md §5 assigns each.
func (w *Worker) startQueues(ctx context.Context) {
	concurrency := w.cfg.Sync.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	for _, queueName := range []string{domain.QueueNameStockUpdate, domain.QueueNameSync, domain.QueueNameWebhook} {
		queueName := queueName
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.queue.Process(ctx, w.tenantID, queueName, concurrency, w.sync.HandleJob); err != nil && ctx.Err() == nil {
				w.log.Error("queue processing loop exited", "queue", queueName, "err", err)
			}
		}()
	}
}

// subscribeAlerts wires the Alert Agent's reaction to the three topics
// the Sync Agent and Guardian raise, plus the stock-change topic that
// re-evaluates low_stock after every write (spec.md §4.5).
func (w *Worker) subscribeAlerts(ctx context.Context) error {
	bindings := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicStockChange, w.onStockChange},
		{domain.TopicSyncFailed, w.onSyncFailed},
		{domain.TopicChannelDisconnected, w.onChannelDisconnected},
		{domain.TopicDriftDetected, w.onDriftDetected},
	}

	for _, b := range bindings {
		sub, err := w.bus.Subscribe(ctx, w.tenantID, b.topic, b.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", b.topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}
	return nil
}

func (w *Worker) onStockChange(ctx context.Context, msg *domain.Message) error {
	var payload struct {
		ProductID string `json:"productId"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal stock.change payload: %w", err)
	}
	product, err := w.repo.GetProduct(ctx, w.tenantID, payload.ProductID)
	if err != nil {
		return nil // product may have been deleted between publish and delivery
	}
	return w.alerts.EvaluateLowStock(ctx, product)
}

func (w *Worker) onSyncFailed(ctx context.Context, msg *domain.Message) error {
	var payload struct {
		ProductID string `json:"productId"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal sync.failed payload: %w", err)
	}

	events, err := w.repo.ListRecentSyncEvents(ctx, w.tenantID, time.Now().Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("list recent sync events: %w", err)
	}
	event := latestFailedEventForProduct(events, payload.ProductID)
	if event == nil {
		return nil
	}
	return w.alerts.EvaluateSyncError(ctx, event)
}

func latestFailedEventForProduct(events []*domain.SyncEvent, productID string) *domain.SyncEvent {
	var latest *domain.SyncEvent
	for _, e := range events {
		if e.ProductID != productID || e.Status != domain.SyncStatusFailed {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	return latest
}

func (w *Worker) onChannelDisconnected(ctx context.Context, msg *domain.Message) error {
	var payload struct {
		ChannelID           string `json:"channelId"`
		ConsecutiveFailures int    `json:"consecutiveFailures"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal channel.disconnected payload: %w", err)
	}
	channel, err := w.repo.GetChannel(ctx, w.tenantID, payload.ChannelID)
	if err != nil {
		return nil
	}
	return w.alerts.EvaluateChannelDisconnected(ctx, channel, payload.ConsecutiveFailures)
}

func (w *Worker) onDriftDetected(ctx context.Context, msg *domain.Message) error {
	var payload struct {
		ProductID  string  `json:"productId"`
		ChannelID  string  `json:"channelId"`
		DriftPct   float64 `json:"driftPct"`
		AutoRepair bool    `json:"autoRepair"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal drift.detected payload: %w", err)
	}

	product, err := w.repo.GetProduct(ctx, w.tenantID, payload.ProductID)
	if err != nil {
		return nil
	}
	channel, err := w.repo.GetChannel(ctx, w.tenantID, payload.ChannelID)
	if err != nil {
		return nil
	}
	return w.alerts.EvaluateDrift(ctx, product, channel, payload.DriftPct, payload.AutoRepair)
}

// Reconcile triggers an out-of-band Guardian pass, used by the Tenant
// Orchestrator's `trigger_reconciliation` IPC message.
func (w *Worker) Reconcile(ctx context.Context, autoRepair bool) error {
	return w.guard.Reconcile(ctx, autoRepair)
}

// HandleIPCMessage dispatches one Parent→Child message from the Tenant
// Orchestrator (spec.md §4.1). It is the cmd/stockclerk `worker`
// subcommand's handler for ipc.Conn.Loop.
func (w *Worker) HandleIPCMessage(msg ipc.Message) error {
	ctx := context.Background()
	switch msg.Type {
	case ipc.TypePing:
		var payload ipc.PingPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal ping payload: %w", err)
		}
		return nil // the caller's Conn replies with pong after this returns

	case ipc.TypeTriggerSync:
		var payload ipc.TriggerSyncPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal trigger_sync payload: %w", err)
		}
		return w.handleTriggerSync(ctx, payload)

	case ipc.TypeAddWebhookJob:
		var payload ipc.AddWebhookJobPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal add_webhook_job payload: %w", err)
		}
		_, _ = w.watch.HandleRaw(ctx, domain.ChannelKind(payload.ChannelKind), payload.InstanceID, payload.Signature, payload.RawPayload)
		return nil

	case ipc.TypeTriggerReconciliation:
		var payload ipc.TriggerReconciliationPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal trigger_reconciliation payload: %w", err)
		}
		return w.Reconcile(ctx, payload.AutoRepair)

	case ipc.TypeShutdown:
		return nil // the worker's own signal handler drives actual shutdown

	default:
		w.log.Warn("unrecognized ipc message type", "type", msg.Type)
		return nil
	}
}

// handleTriggerSync translates an out-of-band sync request into the
// matching queue job (spec.md §4.1/§4.3).
func (w *Worker) handleTriggerSync(ctx context.Context, payload ipc.TriggerSyncPayload) error {
	switch payload.Scope {
	case "full", "channel":
		data, err := json.Marshal(syncagent.FullSyncPayload{ChannelID: payload.ChannelID})
		if err != nil {
			return err
		}
		return w.queue.Enqueue(ctx, w.tenantID, domain.QueueNameSync, &domain.Job{
			ID: uuid.NewString(), Name: syncagent.JobFullSync, Data: data,
			MaxTries: 3, Backoff: domain.BackoffPolicy{Type: "exponential", Delay: time.Second},
			Retain: domain.DefaultRetentionPolicy(),
		})
	case "product":
		data, err := json.Marshal(syncagent.PushUpdatePayload{ProductID: payload.ProductID, ChannelID: payload.ChannelID})
		if err != nil {
			return err
		}
		return w.queue.Enqueue(ctx, w.tenantID, domain.QueueNameSync, &domain.Job{
			ID: uuid.NewString(), Name: syncagent.JobPushUpdate, Data: data,
			MaxTries: 3, Backoff: domain.BackoffPolicy{Type: "exponential", Delay: time.Second},
			Retain: domain.DefaultRetentionPolicy(),
		})
	default:
		return fmt.Errorf("unknown trigger_sync scope %q", payload.Scope)
	}
}

// Stats summarizes this worker's live bus subscriptions. The worker
// process sends no health report, so Stats does not reach the
// orchestrator.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

func (w *Worker) Stats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subscriptions), Topics: topics}
}
