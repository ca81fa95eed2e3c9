// Package alertagent evaluates alert rules against incoming events and
// dispatches notify/email/webhook actions for triggered alerts, while
// always persisting the alert row regardless of dedup or delivery outcome
// (spec.md §4.5).
package alertagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/mkesani1/stockclerk-sub002/internal/alertrules"
	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

// SMTPConfig holds the outgoing mail server used by the "email" action.
// Populated from the environment; zero-value Host disables the action
// (the email action becomes a no-op warning log instead of a dial failure
// per event).
type SMTPConfig struct {
	Host string
	Port int
	From string
	Auth smtp.Auth
}

// Agent evaluates triggered rules and raises alerts for one tenant.
type Agent struct {
	tenantID string
	repo     domain.Repository
	bus      domain.EventBus
	cache    domain.Cache
	engine   *alertrules.Engine
	smtp     SMTPConfig
	client   *http.Client
	log      *slog.Logger
}

// New constructs an Agent for one tenant. Call LoadRules once the
// tenant's rule set is known, and again whenever it changes.
func New(tenantID string, repo domain.Repository, bus domain.EventBus, cache domain.Cache, smtpCfg SMTPConfig) (*Agent, error) {
	engine, err := alertrules.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("create rule engine: %w", err)
	}
	return &Agent{
		tenantID: tenantID,
		repo:     repo,
		bus:      bus,
		cache:    cache,
		engine:   engine,
		smtp:     smtpCfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      slog.Default().With("component", "alertagent", "tenantId", tenantID),
	}, nil
}

// LoadRules recompiles the tenant's active rule set, discarding any
// condition the engine previously compiled for a rule no longer listed.
func (a *Agent) LoadRules(ctx context.Context) error {
	rules, err := a.repo.ListAlertRules(ctx, a.tenantID)
	if err != nil {
		return fmt.Errorf("list alert rules: %w", err)
	}
	return a.engine.LoadRules(rules)
}

// EvaluateLowStock runs the low_stock rule set against a product whose
// stock just changed (triggered off domain.TopicStockChange) and raises
// any alerts that fire.
func (a *Agent) EvaluateLowStock(ctx context.Context, product *domain.Product) error {
	return a.evaluate(ctx, domain.AlertKindLowStock, &alertrules.Input{Product: product}, product.ID, "")
}

// EvaluateSyncError runs the sync_error rule set against a failed sync
// event (triggered off domain.TopicSyncFailed).
func (a *Agent) EvaluateSyncError(ctx context.Context, event *domain.SyncEvent) error {
	return a.evaluate(ctx, domain.AlertKindSyncError, &alertrules.Input{Event: event}, event.ProductID, event.ChannelID)
}

// EvaluateChannelDisconnected runs the channel_disconnected rule set,
// triggered off the Guardian's domain.TopicChannelDisconnected.
func (a *Agent) EvaluateChannelDisconnected(ctx context.Context, channel *domain.Channel, consecutiveFailures int) error {
	input := &alertrules.Input{Channel: channel, ConsecutiveFailures: consecutiveFailures}
	return a.evaluate(ctx, domain.AlertKindChannelDisconnected, input, "", channel.ID)
}

// EvaluateDrift runs the drift_detected rule set, triggered off the
// Guardian's domain.TopicDriftDetected. autoRepair is carried into the
// alert's metadata so a reader can see whether the drift was eligible for
// automatic repair when the alert fired.
func (a *Agent) EvaluateDrift(ctx context.Context, product *domain.Product, channel *domain.Channel, driftPct float64, autoRepair bool) error {
	input := &alertrules.Input{Product: product, Channel: channel, DriftPct: driftPct}
	productID := ""
	if product != nil {
		productID = product.ID
	}
	channelID := ""
	if channel != nil {
		channelID = channel.ID
	}
	return a.evaluateWithMetadata(ctx, domain.AlertKindDriftDetected, input, productID, channelID, map[string]interface{}{
		"autoRepair": autoRepair,
		"driftPct":   driftPct,
	})
}

func (a *Agent) evaluate(ctx context.Context, kind domain.AlertKind, input *alertrules.Input, productID, channelID string) error {
	return a.evaluateWithMetadata(ctx, kind, input, productID, channelID, nil)
}

// evaluateWithMetadata is the shared fan-out: every triggered result is
// persisted unconditionally, then dedup-gated before any action dispatch
// (spec.md §4.5: "the alert row is still written" even when a duplicate
// notification is suppressed).
func (a *Agent) evaluateWithMetadata(ctx context.Context, kind domain.AlertKind, input *alertrules.Input, productID, channelID string, metadata map[string]interface{}) error {
	results, err := a.engine.EvaluateAll(kind, input)
	if err != nil {
		return fmt.Errorf("evaluate %s rules: %w", kind, err)
	}

	var firstErr error
	for _, result := range results {
		if !result.Triggered {
			continue
		}
		if err := a.raise(ctx, result, productID, channelID, metadata); err != nil {
			a.log.Error("raise alert failed", "kind", kind, "ruleId", result.Rule.ID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Agent) raise(ctx context.Context, result alertrules.Result, productID, channelID string, metadata map[string]interface{}) error {
	alert := &domain.Alert{
		ID:        uuid.NewString(),
		TenantID:  a.tenantID,
		Kind:      result.Rule.Kind,
		Severity:  result.Severity,
		Message:   result.Message,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if err := a.repo.SaveAlert(ctx, alert); err != nil {
		return fmt.Errorf("save alert: %w", err)
	}

	fresh, err := a.claimDispatch(ctx, result.Rule.Kind, productID, channelID)
	if err != nil {
		a.log.Warn("dedup check failed, dispatching anyway", "alertId", alert.ID, "err", err)
		fresh = true
	}
	if !fresh {
		return nil
	}

	a.dispatch(ctx, alert, result.Rule.Actions)
	return nil
}

// claimDispatch reports whether this (tenantId, kind, productId, channelId)
// tuple has not already dispatched a notification within domain.DedupeWindow.
func (a *Agent) claimDispatch(ctx context.Context, kind domain.AlertKind, productID, channelID string) (bool, error) {
	key := fmt.Sprintf("alert-dedupe:%s:%s:%s", kind, productID, channelID)
	return a.cache.SetIfAbsent(ctx, a.tenantID, key, []byte("1"), domain.DedupeWindow)
}

// dispatch runs every configured action for the alert. A delivery failure
// on one action never rolls back the alert write and never blocks the
// remaining actions.
func (a *Agent) dispatch(ctx context.Context, alert *domain.Alert, actions []domain.AlertAction) {
	if len(actions) == 0 {
		a.notify(ctx, alert)
		return
	}
	for _, action := range actions {
		var err error
		switch action.Type {
		case "notify":
			err = a.notify(ctx, alert)
		case "email":
			err = a.email(ctx, alert, action.Recipients)
		case "webhook":
			err = a.webhook(ctx, alert, action.URL)
		default:
			err = fmt.Errorf("unknown action type %q", action.Type)
		}
		if err != nil {
			a.log.Error("alert action dispatch failed", "alertId", alert.ID, "action", action.Type, "err", err)
		}
	}
}

func (a *Agent) notify(ctx context.Context, alert *domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return a.bus.Publish(ctx, a.tenantID, domain.TopicAlertTriggered, payload)
}

func (a *Agent) email(_ context.Context, alert *domain.Alert, recipients []string) error {
	if a.smtp.Host == "" {
		a.log.Warn("email action skipped: no SMTP host configured", "alertId", alert.ID)
		return nil
	}
	if len(recipients) == 0 {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", a.smtp.Host, a.smtp.Port)
	body := fmt.Sprintf("Subject: stockclerk alert: %s\r\n\r\n%s\r\n", alert.Kind, alert.Message)
	if err := smtp.SendMail(addr, a.smtp.Auth, a.smtp.From, recipients, []byte(body)); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

func (a *Agent) webhook(ctx context.Context, alert *domain.Alert, url string) error {
	if url == "" {
		return fmt.Errorf("webhook action has no url")
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
