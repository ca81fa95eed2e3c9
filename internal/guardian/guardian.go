// Package guardian periodically reconciles actual channel stock against
// expected stock and repairs drift (spec.md §4.4).
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/metrics"
	"github.com/mkesani1/stockclerk-sub002/internal/syncagent"
)

// Guardian runs the reconciliation loop for one tenant.
type Guardian struct {
	tenantID  string
	repo      domain.Repository
	bus       domain.EventBus
	providers syncagent.ProviderLookup
	cfg       domain.GuardianConfig
	log       *slog.Logger

	mu                  sync.Mutex
	consecutiveFailures map[string]int // channelID -> count
}

// New constructs a Guardian for one tenant.
func New(tenantID string, repo domain.Repository, bus domain.EventBus, providers syncagent.ProviderLookup, cfg domain.GuardianConfig) *Guardian {
	return &Guardian{
		tenantID:            tenantID,
		repo:                repo,
		bus:                 bus,
		providers:           providers,
		cfg:                 cfg,
		consecutiveFailures: make(map[string]int),
		log:                 slog.Default().With("component", "guardian", "tenantId", tenantID),
	}
}

// Run executes the reconciliation loop every cfg.IntervalMS until ctx is
// cancelled. The periodic loop always detects drift but never auto-repairs
// it (autoRepair=false); repair happens only via an explicit
// TriggerReconciliation call, per the Tenant Orchestrator's
// `TriggerReconciliation(tenantId, autoRepair)` control surface.
func (g *Guardian) Run(ctx context.Context) error {
	interval := time.Duration(g.cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Reconcile(ctx, false)
		}
	}
}

// Reconcile runs one full pass over every active channel and mapping for
// this tenant. autoRepair gates step 7 of spec.md §4.4's repair policy.
func (g *Guardian) Reconcile(ctx context.Context, autoRepair bool) error {
	channels, err := g.repo.ListChannels(ctx, g.tenantID)
	if err != nil {
		return fmt.Errorf("list channels for reconciliation: %w", err)
	}

	for _, channel := range channels {
		if !channel.IsActive {
			continue
		}
		if err := g.reconcileChannel(ctx, channel, autoRepair); err != nil {
			g.log.Warn("reconcile channel failed", "channelId", channel.ID, "err", err)
		}
	}
	return nil
}

// reconcileChannel implements the per-channel loop body of spec.md §4.4:
// health check for disconnection tracking, then per-mapping drift
// detection and auto-repair.
func (g *Guardian) reconcileChannel(ctx context.Context, channel *domain.Channel, autoRepair bool) error {
	prov, err := g.providers.For(channel.Kind)
	if err != nil {
		return err
	}

	if healthErr := prov.HealthCheck(ctx, channel); healthErr != nil {
		g.recordHealthFailure(ctx, channel)
	} else {
		g.resetHealthFailures(channel.ID)
	}

	mappings, err := g.repo.ListMappingsForChannel(ctx, g.tenantID, channel.ID)
	if err != nil {
		return fmt.Errorf("list mappings for channel %s: %w", channel.ID, err)
	}

	for _, m := range mappings {
		if err := g.reconcileMapping(ctx, channel, prov, m, autoRepair); err != nil {
			g.log.Warn("reconcile mapping failed", "channelId", channel.ID, "productId", m.ProductID, "err", err)
		}
	}
	return nil
}

func (g *Guardian) reconcileMapping(ctx context.Context, channel *domain.Channel, prov domain.ChannelProvider, m *domain.ProductChannelMapping, autoRepair bool) error {
	product, err := g.repo.GetProduct(ctx, g.tenantID, m.ProductID)
	if err != nil {
		return fmt.Errorf("get product %s: %w", m.ProductID, err)
	}

	remote, err := prov.GetProduct(ctx, channel, m.ExternalID)
	if err != nil {
		return fmt.Errorf("get remote product %s: %w", m.ExternalID, err)
	}

	expected := product.ExpectedStock(channel.Kind)
	actual := remote.Quantity

	drift := actual - expected
	driftPct := driftPercent(drift, expected)

	// Edge policy: expected=0, actual>0 is always a drift (overselling
	// risk), regardless of the configured threshold.
	isDrift := abs(drift) > g.cfg.DriftThreshold || (expected == 0 && actual > 0)
	if !isDrift {
		return nil
	}

	hasCriticalDrift := driftPct >= g.cfg.CriticalDriftPct
	severity := "warning"
	if hasCriticalDrift {
		severity = "critical"
	}
	metrics.ReconciliationDriftTotal.WithLabelValues(string(channel.Kind), severity).Inc()
	g.publish(ctx, domain.TopicDriftDetected, map[string]any{
		"productId":        product.ID,
		"channelId":        channel.ID,
		"actual":           actual,
		"expected":         expected,
		"drift":            drift,
		"driftPct":         driftPct,
		"hasCriticalDrift": hasCriticalDrift,
		"autoRepair":       autoRepair,
	})

	return g.maybeRepair(ctx, channel, prov, m, product, expected, driftPct, autoRepair)
}

// maybeRepair applies spec.md §4.4 step 7: auto-repair requires
// autoRepair=true and either the drift is below the auto-repair
// threshold, or the channel is not POS. POS is only written under
// explicit operator action (AllowAutoPOSRepair gates that override).
func (g *Guardian) maybeRepair(ctx context.Context, channel *domain.Channel, prov domain.ChannelProvider, m *domain.ProductChannelMapping, product *domain.Product, expected int, driftPct float64, autoRepair bool) error {
	if !autoRepair {
		return nil
	}

	isPOS := channel.Kind == domain.ChannelKindPOS
	belowThreshold := driftPct < g.cfg.AutoRepairThresholdPct

	eligible := belowThreshold || !isPOS
	if isPOS && !g.cfg.AllowAutoPOSRepair {
		eligible = false
	}
	if !eligible {
		return nil
	}

	if err := prov.SetStock(ctx, channel, m.ExternalID, expected); err != nil {
		return fmt.Errorf("repair %s on channel %s: %w", m.ExternalID, channel.ID, err)
	}

	g.publish(ctx, domain.TopicDriftRepaired, map[string]any{
		"productId": product.ID,
		"channelId": channel.ID,
		"expected":  expected,
	})
	return nil
}

func (g *Guardian) recordHealthFailure(ctx context.Context, channel *domain.Channel) {
	g.mu.Lock()
	g.consecutiveFailures[channel.ID]++
	count := g.consecutiveFailures[channel.ID]
	g.mu.Unlock()

	limit := g.cfg.ConsecutiveFailuresLimit
	if limit <= 0 {
		limit = 3
	}
	if count < limit {
		return
	}

	if err := g.repo.SetChannelActive(ctx, g.tenantID, channel.ID, false); err != nil {
		g.log.Error("deactivate channel after health failures failed", "channelId", channel.ID, "err", err)
		return
	}
	g.publish(ctx, domain.TopicChannelDisconnected, map[string]any{"channelId": channel.ID, "consecutiveFailures": count})

	g.mu.Lock()
	delete(g.consecutiveFailures, channel.ID)
	g.mu.Unlock()
}

func (g *Guardian) resetHealthFailures(channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.consecutiveFailures, channelID)
}

func (g *Guardian) publish(ctx context.Context, topic string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	if err := g.bus.Publish(ctx, g.tenantID, topic, data); err != nil {
		g.log.Warn("publish failed", "topic", topic, "err", err)
	}
}

// driftPercent computes |drift| / max(1, expected) * 100.
func driftPercent(drift, expected int) float64 {
	denominator := expected
	if denominator < 1 {
		denominator = 1
	}
	return float64(abs(drift)) / float64(denominator) * 100
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
