// Package watcher turns external stimuli — signed webhooks and scheduled
// polls — into normalized stock-change jobs on a tenant's queues
// (spec.md §4.2).
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/syncagent"
)

// DefaultDedupeWindow is how long an idempotency key suppresses a repeat
// normalized event (spec.md §4.2, default 60s).
const DefaultDedupeWindow = 60 * time.Second

// DefaultPollInterval is how often polled channels are diffed against
// last-known stock (spec.md §4.2, default SYNC_INTERVAL_MS = 30s).
const DefaultPollInterval = 30 * time.Second

// Watcher ingests webhooks and polls for one tenant.
type Watcher struct {
	tenantID     string
	repo         domain.Repository
	queue        domain.Queue
	cache        domain.Cache
	providers    syncagent.ProviderLookup
	pollInterval time.Duration
	log          *slog.Logger
}

// New constructs a Watcher scoped to one tenant.
func New(tenantID string, repo domain.Repository, queue domain.Queue, cache domain.Cache, providers syncagent.ProviderLookup) *Watcher {
	return &Watcher{
		tenantID:     tenantID,
		repo:         repo,
		queue:        queue,
		cache:        cache,
		providers:    providers,
		pollInterval: DefaultPollInterval,
		log:          slog.Default().With("component", "watcher", "tenantId", tenantID),
	}
}

// Router mounts the webhook HTTP surface of spec.md §6: POST
// /webhooks/{kind} and GET /webhooks/health.
func (w *Watcher) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/{kind}", w.handleWebhookHTTP)
	r.Get("/webhooks/health", w.handleHealth)
	return r
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// handleWebhookHTTP implements the six-step pipeline of spec.md §4.2.
// Senders only ever see 200/400/401; internal failures never surface
// as 5xx on this path.
func (w *Watcher) handleWebhookHTTP(resp http.ResponseWriter, req *http.Request) {
	kind := domain.ChannelKind(chi.URLParam(req, "kind"))
	if !kind.Valid() {
		writeJSON(resp, http.StatusBadRequest, webhookResponse{Reason: "unknown channel kind"})
		return
	}

	body, err := readBody(req)
	if err != nil {
		writeJSON(resp, http.StatusBadRequest, webhookResponse{Reason: "could not read body"})
		return
	}

	// Step 1: JSON parse. We only need to confirm the body is valid JSON
	// here; vendor-specific decoding happens inside the provider.
	if !json.Valid(body) {
		writeJSON(resp, http.StatusBadRequest, webhookResponse{Reason: "malformed json"})
		return
	}

	instanceID := req.Header.Get(fmt.Sprintf("X-%s-Instance-Id", headerCase(string(kind))))
	signature := req.Header.Get(fmt.Sprintf("X-%s-Signature", headerCase(string(kind))))

	status, webhookResp := w.HandleRaw(req.Context(), kind, instanceID, signature, body)
	writeJSON(resp, status, webhookResp)
}

// HandleRaw implements steps 2-6 of spec.md §4.2's webhook pipeline
// (channel resolution, signature verification, normalization, enqueue).
// It is shared by the HTTP surface mounted directly on a tenant's own
// Watcher and by a Tenant Worker's `add_webhook_job` IPC handler, which
// receives the same (kind, instanceID, signature, body) tuple forwarded
// from the Orchestrator's shared ingress listener.
func (w *Watcher) HandleRaw(ctx context.Context, kind domain.ChannelKind, instanceID, signature string, body []byte) (int, webhookResponse) {
	// Step 2: channel resolution. Swallow unknown channels with 200 to
	// avoid vendor retry storms.
	channel, err := w.repo.FindChannel(ctx, w.tenantID, kind, instanceID)
	if err != nil || !channel.IsActive {
		return http.StatusOK, webhookResponse{Success: false, Reason: "unknown or inactive channel"}
	}

	// Step 3: signature verification.
	prov, err := w.providers.For(kind)
	if err != nil {
		return http.StatusOK, webhookResponse{Success: false, Reason: "no provider for channel kind"}
	}
	if len(channel.WebhookSecret) > 0 {
		if err := prov.VerifyWebhookSignature(channel, signature, body); err != nil {
			return http.StatusUnauthorized, webhookResponse{Reason: "signature verification failed"}
		}
	}

	// Step 4: normalization.
	events, err := prov.HandleWebhook(channel, body)
	if err != nil {
		w.log.Warn("webhook normalization failed", "channelId", channel.ID, "err", err)
		return http.StatusOK, webhookResponse{Success: false, Reason: "normalization failed"}
	}

	// Step 5: enqueue. Step 6: respond 200 regardless of downstream
	// enqueue outcome.
	for _, event := range events {
		if err := w.enqueueWebhookEvent(ctx, channel, event); err != nil {
			w.log.Error("enqueue webhook event failed", "channelId", channel.ID, "err", err)
		}
	}

	return http.StatusOK, webhookResponse{Success: true}
}

// enqueueWebhookEvent dedupes by idempotency key, resolves the event's
// external id to a local product via its mapping, and enqueues a
// StockChanged job on the webhook queue at elevated priority.
func (w *Watcher) enqueueWebhookEvent(ctx context.Context, channel *domain.Channel, event *domain.WebhookEvent) error {
	if event.Quantity == nil {
		return nil // informational event (e.g. order.placed) with no stock delta
	}

	idempotencyKey := fmt.Sprintf("idempotency:%s:%s:%s", channel.ID, event.ExternalID, sourceStamp(event))
	fresh, err := w.cache.SetIfAbsent(ctx, w.tenantID, idempotencyKey, []byte("1"), DefaultDedupeWindow)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !fresh {
		return nil // duplicate within the dedupe window
	}

	mapping, err := w.repo.FindMappingByExternalID(ctx, channel.ID, event.ExternalID)
	if err != nil {
		return nil // unmapped external product, nothing local to update
	}

	payload, err := json.Marshal(syncagent.StockChangedPayload{
		ProductID:       mapping.ProductID,
		NewStock:        *event.Quantity,
		SourceChannelID: channel.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal StockChanged payload: %w", err)
	}

	job := &domain.Job{
		ID:       uuid.NewString(),
		Name:     syncagent.JobStockChanged,
		Data:     payload,
		MaxTries: 5, // webhook queue uses attempts=5 (spec.md §6)
		Backoff:  domain.BackoffPolicy{Type: "exponential", Delay: time.Second},
		Priority: 1,
		Retain:   domain.DefaultRetentionPolicy(),
	}
	return w.queue.Enqueue(ctx, w.tenantID, domain.QueueNameWebhook, job)
}

func (w *Watcher) handleHealth(resp http.ResponseWriter, req *http.Request) {
	channels, err := w.repo.ListChannels(req.Context(), w.tenantID)
	receivers := make([]string, 0)
	if err == nil {
		for _, c := range channels {
			if c.IsActive {
				receivers = append(receivers, string(c.Kind))
			}
		}
	}
	writeJSON(resp, http.StatusOK, map[string]any{"status": "healthy", "receivers": receivers})
}

// Poll runs the scheduled polling pipeline of spec.md §4.2 until ctx is
// cancelled: for each active channel (webhook-fed or not), list
// remote products, diff against last-known stock, and enqueue changes.
func (w *Watcher) Poll(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	channels, err := w.repo.ListChannels(ctx, w.tenantID)
	if err != nil {
		w.log.Error("list channels for poll failed", "err", err)
		return
	}

	for _, channel := range channels {
		if !channel.IsActive {
			continue
		}
		if err := w.pollChannel(ctx, channel); err != nil {
			w.log.Warn("poll channel failed", "channelId", channel.ID, "err", err)
		}
	}
}

func (w *Watcher) pollChannel(ctx context.Context, channel *domain.Channel) error {
	prov, err := w.providers.For(channel.Kind)
	if err != nil {
		return err
	}

	remotes, err := prov.ListProducts(ctx, channel)
	if err != nil {
		return fmt.Errorf("list products on channel %s: %w", channel.ID, err)
	}

	lastKnownKeyPrefix := fmt.Sprintf("lastknown:%s:", channel.ID)
	for _, remote := range remotes {
		if _, err := w.repo.FindMappingByExternalID(ctx, channel.ID, remote.ExternalID); err != nil {
			continue // unmapped remote item
		}

		key := lastKnownKeyPrefix + remote.ExternalID
		cached, err := w.cache.Get(ctx, w.tenantID, key)
		if err == nil && cached != nil {
			var lastQty int
			if jsonErr := json.Unmarshal(cached, &lastQty); jsonErr == nil && lastQty == remote.Quantity {
				continue // unchanged since last poll
			}
		}

		if setErr := w.cache.Set(ctx, w.tenantID, key, mustJSON(remote.Quantity), 24*time.Hour); setErr != nil {
			w.log.Warn("cache last-known stock failed", "key", key, "err", setErr)
		}

		event := &domain.WebhookEvent{
			ChannelID:  channel.ID,
			ExternalID: remote.ExternalID,
			Kind:       "stock.polled",
			Quantity:   &remote.Quantity,
			Raw:        mustJSON(remote),
		}
		if err := w.enqueueWebhookEvent(ctx, channel, event); err != nil {
			w.log.Error("enqueue polled event failed", "channelId", channel.ID, "err", err)
		}
	}
	return nil
}

// sourceStamp derives the idempotency key's third component from the
// event's own content, so a vendor's retried delivery of the identical
// webhook collides with the original within the dedupe window instead of
// minting a new key every attempt (spec.md §4.2).
func sourceStamp(event *domain.WebhookEvent) string {
	h := sha256.Sum256(event.Raw)
	return hex.EncodeToString(h[:8])
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, fmt.Errorf("empty body")
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func writeJSON(resp http.ResponseWriter, status int, payload any) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)
	_ = json.NewEncoder(resp).Encode(payload)
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// headerCase title-cases a channel kind like "online_store" into the
// canonical header segment "Online-Store".
func headerCase(kind string) string {
	parts := strings.Split(kind, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}
