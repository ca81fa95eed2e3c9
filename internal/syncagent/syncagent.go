// Package syncagent applies stock changes outward from the merchant's
// source of truth to every mapped channel (spec.md §4.3).
package syncagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/lock"
	"github.com/mkesani1/stockclerk-sub002/internal/metrics"
	"github.com/mkesani1/stockclerk-sub002/internal/ratelimit"
	"github.com/mkesani1/stockclerk-sub002/internal/tracing"
)

// ProviderLookup resolves the ChannelProvider for a channel kind. Satisfied
// by *provider.Registry; narrowed to an interface here so tests can supply
// fakes without constructing real HTTP-backed providers.
type ProviderLookup interface {
	For(kind domain.ChannelKind) (domain.ChannelProvider, error)
}

// Job names dispatched across the stockUpdate/sync/webhook queues.
const (
	JobStockChanged    = "StockChanged"
	JobPushUpdate      = "PushUpdate"
	JobFullSync        = "FullSync"
	JobIncrementalSync = "IncrementalSync"
)

// StockChangedPayload is the job.Data for JobStockChanged.
type StockChangedPayload struct {
	ProductID       string `json:"productId"`
	NewStock        int    `json:"newStock"`
	SourceChannelID string `json:"sourceChannelId,omitempty"`
}

// PushUpdatePayload is the job.Data for JobPushUpdate.
type PushUpdatePayload struct {
	ProductID string `json:"productId"`
	ChannelID string `json:"channelId"`
}

// FullSyncPayload is the job.Data for JobFullSync.
type FullSyncPayload struct {
	ChannelID string `json:"channelId"`
}

// IncrementalSyncPayload is the job.Data for JobIncrementalSync.
type IncrementalSyncPayload struct {
	ChannelID string    `json:"channelId"`
	Since     time.Time `json:"since"`
}

// Agent consumes stockUpdate/sync/webhook jobs and applies the resulting
// channel writes, serialized per product (spec.md invariant 5).
type Agent struct {
	tenantID  string
	repo      domain.Repository
	bus       domain.EventBus
	providers ProviderLookup
	locks     *lock.KeyedMutex
	limiters  map[domain.ChannelKind]*ratelimit.Limiter
	backoff   ratelimit.BackoffPolicy
	log       *slog.Logger
}

// New constructs a Sync Agent for one tenant.
func New(tenantID string, repo domain.Repository, bus domain.EventBus, providers ProviderLookup) *Agent {
	limiters := map[domain.ChannelKind]*ratelimit.Limiter{
		domain.ChannelKindPOS:                 ratelimit.New(domain.ChannelKindPOS),
		domain.ChannelKindOnlineStore:         ratelimit.New(domain.ChannelKindOnlineStore),
		domain.ChannelKindDeliveryMarketplace: ratelimit.New(domain.ChannelKindDeliveryMarketplace),
	}
	return &Agent{
		tenantID:  tenantID,
		repo:      repo,
		bus:       bus,
		providers: providers,
		locks:     lock.New(),
		limiters:  limiters,
		backoff:   ratelimit.DefaultBackoff(),
		log:       slog.Default().With("component", "syncagent", "tenantId", tenantID),
	}
}

// HandleJob dispatches one job by name to its handler. Registered against
// the stockUpdate, sync, and webhook queues (spec.md §4.3).
func (a *Agent) HandleJob(ctx context.Context, job *domain.Job) error {
	switch job.Name {
	case JobStockChanged:
		var p StockChangedPayload
		if err := json.Unmarshal(job.Data, &p); err != nil {
			return fmt.Errorf("unmarshal StockChanged payload: %w", err)
		}
		return a.handleStockChanged(ctx, &p)
	case JobPushUpdate:
		var p PushUpdatePayload
		if err := json.Unmarshal(job.Data, &p); err != nil {
			return fmt.Errorf("unmarshal PushUpdate payload: %w", err)
		}
		return a.handlePushUpdate(ctx, &p)
	case JobFullSync:
		var p FullSyncPayload
		if err := json.Unmarshal(job.Data, &p); err != nil {
			return fmt.Errorf("unmarshal FullSync payload: %w", err)
		}
		return a.handleFullSync(ctx, &p)
	case JobIncrementalSync:
		var p IncrementalSyncPayload
		if err := json.Unmarshal(job.Data, &p); err != nil {
			return fmt.Errorf("unmarshal IncrementalSync payload: %w", err)
		}
		return a.handleIncrementalSync(ctx, &p)
	default:
		return fmt.Errorf("unknown sync job: %s", job.Name)
	}
}

// handleStockChanged implements the algorithm of spec.md §4.3: lock the
// product, clamp and write the new total, then fan out a rate-limited
// write to every other mapped channel.
func (a *Agent) handleStockChanged(ctx context.Context, p *StockChangedPayload) error {
	release := a.locks.Lock(p.ProductID)
	defer release()

	product, err := a.repo.GetProduct(ctx, a.tenantID, p.ProductID)
	if err != nil {
		return fmt.Errorf("get product %s: %w", p.ProductID, err)
	}

	newStock := p.NewStock
	if newStock < 0 {
		a.recordSyncError(ctx, product.ID, "", fmt.Sprintf("clamped negative stock %d to 0", newStock))
		newStock = 0
	}

	if err := a.repo.UpdateProductStock(ctx, a.tenantID, product.ID, newStock); err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	product.CurrentStock = newStock
	product.UpdatedAt = time.Now().UTC()

	mappings, err := a.repo.ListMappingsForProduct(ctx, a.tenantID, product.ID)
	if err != nil {
		return fmt.Errorf("list mappings for product %s: %w", product.ID, err)
	}

	anyFailed := false
	for _, m := range mappings {
		if m.ChannelID == p.SourceChannelID {
			continue
		}
		if err := a.pushToMapping(ctx, product, m); err != nil {
			anyFailed = true
			a.log.Warn("channel push failed", "productId", product.ID, "channelId", m.ChannelID, "err", err)
		}
	}

	topic := domain.TopicSyncCompleted
	if anyFailed {
		topic = domain.TopicSyncFailed
	}
	a.publish(ctx, topic, map[string]any{"productId": product.ID})

	return nil
}

// handlePushUpdate pushes the single mapping's current expected quantity.
func (a *Agent) handlePushUpdate(ctx context.Context, p *PushUpdatePayload) error {
	release := a.locks.Lock(p.ProductID)
	defer release()

	product, err := a.repo.GetProduct(ctx, a.tenantID, p.ProductID)
	if err != nil {
		return fmt.Errorf("get product %s: %w", p.ProductID, err)
	}
	mappings, err := a.repo.ListMappingsForProduct(ctx, a.tenantID, product.ID)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if m.ChannelID != p.ChannelID {
			continue
		}
		return a.pushToMapping(ctx, product, m)
	}
	return fmt.Errorf("no mapping for product %s on channel %s", p.ProductID, p.ChannelID)
}

// handleFullSync walks every mapping on a channel and pushes each.
func (a *Agent) handleFullSync(ctx context.Context, p *FullSyncPayload) error {
	mappings, err := a.repo.ListMappingsForChannel(ctx, a.tenantID, p.ChannelID)
	if err != nil {
		return fmt.Errorf("list mappings for channel %s: %w", p.ChannelID, err)
	}

	var firstErr error
	for _, m := range mappings {
		product, err := a.repo.GetProduct(ctx, a.tenantID, m.ProductID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		release := a.locks.Lock(product.ID)
		err = a.pushToMapping(ctx, product, m)
		release()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleIncrementalSync polls a channel's diff since the watermark and
// reconciles each changed mapping into local state.
func (a *Agent) handleIncrementalSync(ctx context.Context, p *IncrementalSyncPayload) error {
	channel, err := a.repo.GetChannel(ctx, a.tenantID, p.ChannelID)
	if err != nil {
		return fmt.Errorf("get channel %s: %w", p.ChannelID, err)
	}
	prov, err := a.providers.For(channel.Kind)
	if err != nil {
		return err
	}

	remotes, err := prov.ListProducts(ctx, channel)
	if err != nil {
		return fmt.Errorf("list products on channel %s: %w", p.ChannelID, err)
	}

	var firstErr error
	for _, remote := range remotes {
		if remote.UpdatedAt.Before(p.Since) {
			continue
		}
		mapping, err := a.repo.FindMappingByExternalID(ctx, p.ChannelID, remote.ExternalID)
		if err != nil {
			continue // unmapped remote item, nothing local to reconcile
		}
		if err := a.handleStockChanged(ctx, &StockChangedPayload{
			ProductID:       mapping.ProductID,
			NewStock:        remote.Quantity,
			SourceChannelID: p.ChannelID,
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pushToMapping computes the mapping's target quantity and writes it
// through the channel's rate limiter with retry.
func (a *Agent) pushToMapping(ctx context.Context, product *domain.Product, m *domain.ProductChannelMapping) error {
	channel, err := a.repo.GetChannel(ctx, a.tenantID, m.ChannelID)
	if err != nil {
		return fmt.Errorf("get channel %s: %w", m.ChannelID, err)
	}
	if !channel.IsActive {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "syncagent.push_to_mapping",
		attribute.String("channel.kind", string(channel.Kind)),
		attribute.String("channel.id", channel.ID),
		attribute.String("product.id", product.ID),
	)
	defer span.End()
	timer := metrics.NewTimer()

	prov, err := a.providers.For(channel.Kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.SyncPushesTotal.WithLabelValues(string(channel.Kind), "no_provider").Inc()
		return err
	}

	target := product.ExpectedStock(channel.Kind)
	if channel.Kind == domain.ChannelKindDeliveryMarketplace && !m.TrackInventory {
		target = availabilityQuantity(target)
	}

	limiter := a.limiters[channel.Kind]

	err = a.backoff.Retry(ctx, func(ctx context.Context) error {
		release, err := limiter.Wait(ctx)
		if err != nil {
			return err
		}
		defer release()
		return prov.SetStock(ctx, channel, m.ExternalID, target)
	})

	timer.ObserveDuration(metrics.SyncPushDuration, string(channel.Kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.SyncPushesTotal.WithLabelValues(string(channel.Kind), "failed").Inc()
	} else {
		metrics.SyncPushesTotal.WithLabelValues(string(channel.Kind), "succeeded").Inc()
	}

	event := &domain.SyncEvent{
		ID:        uuid.NewString(),
		TenantID:  a.tenantID,
		EventType: "stock.push",
		ChannelID: m.ChannelID,
		ProductID: product.ID,
		NewValue:  &target,
		Status:    domain.SyncStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		event.Status = domain.SyncStatusFailed
		event.ErrorMessage = err.Error()
	}
	if appendErr := a.repo.AppendSyncEvent(ctx, event); appendErr != nil {
		a.log.Error("append sync event failed", "err", appendErr)
	}

	if err != nil {
		a.recordSyncError(ctx, product.ID, m.ChannelID, err.Error())
		return err
	}

	a.publish(ctx, domain.TopicStockChange, map[string]any{
		"productId": product.ID,
		"channelId": m.ChannelID,
		"quantity":  target,
	})
	return nil
}

// availabilityQuantity collapses a true quantity to an in-stock/out-of-stock
// signal for marketplace mappings that do not track true inventory.
func availabilityQuantity(quantity int) int {
	if quantity > 0 {
		return 1
	}
	return 0
}

func (a *Agent) recordSyncError(ctx context.Context, productID, channelID, message string) {
	event := &domain.SyncEvent{
		ID:           uuid.NewString(),
		TenantID:     a.tenantID,
		EventType:    "sync_error",
		ChannelID:    channelID,
		ProductID:    productID,
		Status:       domain.SyncStatusFailed,
		ErrorMessage: message,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.repo.AppendSyncEvent(ctx, event); err != nil {
		a.log.Error("append sync_error event failed", "err", err)
	}
}

func (a *Agent) publish(ctx context.Context, topic string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	if err := a.bus.Publish(ctx, a.tenantID, topic, data); err != nil {
		a.log.Warn("publish failed", "topic", topic, "err", err)
	}
}
