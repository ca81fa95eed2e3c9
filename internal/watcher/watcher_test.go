package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/syncagent"
)

type fakeRepo struct {
	domain.Repository

	mu       sync.Mutex
	channels map[string]*domain.Channel
	mappings map[string]*domain.ProductChannelMapping // keyed by channelID+":"+externalID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{channels: make(map[string]*domain.Channel), mappings: make(map[string]*domain.ProductChannelMapping)}
}

func (f *fakeRepo) FindChannel(ctx context.Context, tenantID string, kind domain.ChannelKind, externalInstanceID string) (*domain.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.channels {
		if c.Kind == kind && c.ExternalInstanceID == externalInstanceID {
			return c, nil
		}
	}
	return nil, &notFoundError{"channel"}
}

func (f *fakeRepo) ListChannels(ctx context.Context, tenantID string) ([]*domain.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Channel
	for _, c := range f.channels {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepo) FindMappingByExternalID(ctx context.Context, channelID, externalID string) (*domain.ProductChannelMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mappings[channelID+":"+externalID]
	if !ok {
		return nil, &notFoundError{"mapping"}
	}
	return m, nil
}

type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return e.what + " not found" }

type fakeQueue struct {
	domain.Queue

	mu   sync.Mutex
	jobs []*domain.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, tenantID, queueName string, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeCache struct {
	domain.Cache

	mu   sync.Mutex
	seen map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{seen: make(map[string][]byte)} }

func (c *fakeCache) SetIfAbsent(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false, nil
	}
	c.seen[key] = value
	return true, nil
}

func (c *fakeCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[key], nil
}

func (c *fakeCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = value
	return nil
}

type fakeProvider struct {
	kind       domain.ChannelKind
	verifyErr  error
	events     []*domain.WebhookEvent
	handleErr  error
	remotes    []*domain.RemoteProduct
}

func (p *fakeProvider) Kind() domain.ChannelKind                                      { return p.kind }
func (p *fakeProvider) Connect(ctx context.Context, c *domain.Channel) error           { return nil }
func (p *fakeProvider) Disconnect(ctx context.Context, c *domain.Channel) error        { return nil }
func (p *fakeProvider) HealthCheck(ctx context.Context, c *domain.Channel) error       { return nil }
func (p *fakeProvider) ListProducts(ctx context.Context, c *domain.Channel) ([]*domain.RemoteProduct, error) {
	return p.remotes, nil
}
func (p *fakeProvider) GetProduct(ctx context.Context, c *domain.Channel, externalID string) (*domain.RemoteProduct, error) {
	return nil, nil
}
func (p *fakeProvider) SetStock(ctx context.Context, c *domain.Channel, externalID string, quantity int) error {
	return nil
}
func (p *fakeProvider) BatchSetStock(ctx context.Context, c *domain.Channel, updates map[string]int) error {
	return nil
}
func (p *fakeProvider) VerifyWebhookSignature(c *domain.Channel, signature string, body []byte) error {
	return p.verifyErr
}
func (p *fakeProvider) HandleWebhook(c *domain.Channel, body []byte) ([]*domain.WebhookEvent, error) {
	return p.events, p.handleErr
}
func (p *fakeProvider) SubscribeWebhook(ctx context.Context, c *domain.Channel, callbackURL string) error {
	return nil
}
func (p *fakeProvider) UnsubscribeWebhook(ctx context.Context, c *domain.Channel) error { return nil }

type fakeProviders map[domain.ChannelKind]domain.ChannelProvider

func (f fakeProviders) For(kind domain.ChannelKind) (domain.ChannelProvider, error) {
	p, ok := f[kind]
	if !ok {
		return nil, &notFoundError{"provider"}
	}
	return p, nil
}

var _ syncagent.ProviderLookup = fakeProviders{}

func qty(n int) *int { return &n }

func TestWebhookUnknownChannelReturns200AndDrops(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{}
	w := New("tenant-1", repo, queue, newFakeCache(), fakeProviders{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/pos", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Pos-Instance-Id", "unknown")
	rec := httptest.NewRecorder()
	w.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if queue.count() != 0 {
		t.Error("unknown channel must not enqueue a job")
	}
}

func TestWebhookMalformedJSONReturns400(t *testing.T) {
	repo := newFakeRepo()
	w := New("tenant-1", repo, &fakeQueue{}, newFakeCache(), fakeProviders{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/pos", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	w.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookSignatureFailureReturns401(t *testing.T) {
	repo := newFakeRepo()
	repo.channels["c1"] = &domain.Channel{ID: "c1", Kind: domain.ChannelKindPOS, ExternalInstanceID: "inst-1", IsActive: true, WebhookSecret: "s3cret"}
	queue := &fakeQueue{}
	prov := &fakeProvider{kind: domain.ChannelKindPOS, verifyErr: &notFoundError{"bad signature"}}
	w := New("tenant-1", repo, queue, newFakeCache(), fakeProviders{domain.ChannelKindPOS: prov})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/pos", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Pos-Instance-Id", "inst-1")
	rec := httptest.NewRecorder()
	w.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if queue.count() != 0 {
		t.Error("signature failure must not enqueue a job")
	}
}

func TestWebhookValidEventEnqueuesJob(t *testing.T) {
	repo := newFakeRepo()
	repo.channels["c1"] = &domain.Channel{ID: "c1", Kind: domain.ChannelKindPOS, ExternalInstanceID: "inst-1", IsActive: true}
	repo.mappings["c1:ext-1"] = &domain.ProductChannelMapping{ProductID: "p1", ChannelID: "c1", ExternalID: "ext-1"}

	queue := &fakeQueue{}
	prov := &fakeProvider{kind: domain.ChannelKindPOS, events: []*domain.WebhookEvent{
		{ChannelID: "c1", ExternalID: "ext-1", Kind: "stock.updated", Quantity: qty(42)},
	}}
	w := New("tenant-1", repo, queue, newFakeCache(), fakeProviders{domain.ChannelKindPOS: prov})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/pos", bytes.NewBufferString(`{"quantity":42}`))
	req.Header.Set("X-Pos-Instance-Id", "inst-1")
	rec := httptest.NewRecorder()
	w.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if queue.count() != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", queue.count())
	}

	var payload syncagent.StockChangedPayload
	if err := json.Unmarshal(queue.jobs[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal job payload: %v", err)
	}
	if payload.ProductID != "p1" || payload.NewStock != 42 || payload.SourceChannelID != "c1" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if queue.jobs[0].Priority != 1 {
		t.Errorf("Priority = %d, want 1 (elevated per spec.md §4.2)", queue.jobs[0].Priority)
	}
}

func TestWebhookUnmappedExternalIDSkipsEnqueue(t *testing.T) {
	repo := newFakeRepo()
	repo.channels["c1"] = &domain.Channel{ID: "c1", Kind: domain.ChannelKindPOS, ExternalInstanceID: "inst-1", IsActive: true}
	queue := &fakeQueue{}
	prov := &fakeProvider{kind: domain.ChannelKindPOS, events: []*domain.WebhookEvent{
		{ChannelID: "c1", ExternalID: "ext-unmapped", Quantity: qty(1)},
	}}
	w := New("tenant-1", repo, queue, newFakeCache(), fakeProviders{domain.ChannelKindPOS: prov})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/pos", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Pos-Instance-Id", "inst-1")
	rec := httptest.NewRecorder()
	w.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if queue.count() != 0 {
		t.Error("unmapped external id must not enqueue a job")
	}
}

func TestEnqueueWebhookEventDedupesWithinWindow(t *testing.T) {
	repo := newFakeRepo()
	repo.mappings["c1:ext-1"] = &domain.ProductChannelMapping{ProductID: "p1", ChannelID: "c1", ExternalID: "ext-1"}
	queue := &fakeQueue{}
	cache := newFakeCache()
	w := New("tenant-1", repo, queue, cache, fakeProviders{})

	channel := &domain.Channel{ID: "c1", Kind: domain.ChannelKindPOS}
	event := &domain.WebhookEvent{ChannelID: "c1", ExternalID: "ext-1", Quantity: qty(5), Raw: []byte(`{"quantity":5}`)}

	if err := w.enqueueWebhookEvent(context.Background(), channel, event); err != nil {
		t.Fatalf("enqueueWebhookEvent (first): %v", err)
	}
	if queue.count() != 1 {
		t.Fatalf("expected the first delivery to enqueue, got %d jobs", queue.count())
	}

	// A retried delivery carries identical raw bytes, so it hashes to the
	// same sourceStamp and must be suppressed.
	if err := w.enqueueWebhookEvent(context.Background(), channel, event); err != nil {
		t.Fatalf("enqueueWebhookEvent (retry): %v", err)
	}
	if queue.count() != 1 {
		t.Errorf("expected the retried delivery to be deduped, got %d total jobs", queue.count())
	}
}

func TestPollChannelSkipsUnchangedStock(t *testing.T) {
	repo := newFakeRepo()
	repo.channels["c1"] = &domain.Channel{ID: "c1", Kind: domain.ChannelKindOnlineStore, IsActive: true}
	repo.mappings["c1:ext-1"] = &domain.ProductChannelMapping{ProductID: "p1", ChannelID: "c1", ExternalID: "ext-1"}

	queue := &fakeQueue{}
	cache := newFakeCache()
	prov := &fakeProvider{kind: domain.ChannelKindOnlineStore, remotes: []*domain.RemoteProduct{
		{ExternalID: "ext-1", Quantity: 10},
	}}
	w := New("tenant-1", repo, queue, cache, fakeProviders{domain.ChannelKindOnlineStore: prov})

	if err := w.pollChannel(context.Background(), repo.channels["c1"]); err != nil {
		t.Fatalf("pollChannel (first): %v", err)
	}
	if queue.count() != 1 {
		t.Fatalf("expected first poll to enqueue a change, got %d", queue.count())
	}

	if err := w.pollChannel(context.Background(), repo.channels["c1"]); err != nil {
		t.Fatalf("pollChannel (second): %v", err)
	}
	if queue.count() != 1 {
		t.Errorf("expected unchanged stock to skip enqueue, got %d total jobs", queue.count())
	}
}

func TestHealthEndpointListsActiveReceivers(t *testing.T) {
	repo := newFakeRepo()
	repo.channels["c1"] = &domain.Channel{ID: "c1", Kind: domain.ChannelKindPOS, IsActive: true}
	repo.channels["c2"] = &domain.Channel{ID: "c2", Kind: domain.ChannelKindOnlineStore, IsActive: false}
	w := New("tenant-1", repo, &fakeQueue{}, newFakeCache(), fakeProviders{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/health", nil)
	rec := httptest.NewRecorder()
	w.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status    string   `json:"status"`
		Receivers []string `json:"receivers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "healthy" || len(body.Receivers) != 1 || body.Receivers[0] != "pos" {
		t.Errorf("unexpected health body: %+v", body)
	}
}
