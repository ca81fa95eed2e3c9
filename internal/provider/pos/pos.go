// Package pos implements domain.ChannelProvider for point-of-sale systems.
// POS is the authoritative source of truth for stock (spec.md §3): its
// quantities are never adjusted by buffer stock, and mappings track true
// quantity rather than availability-only.
package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/webhooksig"
)

// Provider talks to a tenant's POS instance over its REST API.
type Provider struct {
	client *http.Client
}

// New creates a POS provider using the given HTTP client.
func New(client *http.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Kind() domain.ChannelKind { return domain.ChannelKindPOS }

func (p *Provider) Connect(ctx context.Context, channel *domain.Channel) error {
	return p.HealthCheck(ctx, channel)
}

func (p *Provider) Disconnect(ctx context.Context, channel *domain.Channel) error {
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context, channel *domain.Channel) error {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pos health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pos health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) ListProducts(ctx context.Context, channel *domain.Channel) ([]*domain.RemoteProduct, error) {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/api/v1/inventory", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pos list products: %w", err)
	}
	defer resp.Body.Close()

	var items []*domain.RemoteProduct
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode pos inventory: %w", err)
	}
	for _, it := range items {
		it.IsTracked = true
		it.IsAvailable = it.Quantity > 0
	}
	return items, nil
}

func (p *Provider) GetProduct(ctx context.Context, channel *domain.Channel, externalID string) (*domain.RemoteProduct, error) {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/api/v1/inventory/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pos get product: %w", err)
	}
	defer resp.Body.Close()

	var item domain.RemoteProduct
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode pos product: %w", err)
	}
	item.IsTracked = true
	item.IsAvailable = item.Quantity > 0
	return &item, nil
}

func (p *Provider) SetStock(ctx context.Context, channel *domain.Channel, externalID string, quantity int) error {
	body, _ := json.Marshal(map[string]int{"quantity": quantity})
	req, err := p.newRequest(ctx, channel, http.MethodPut, "/api/v1/inventory/"+externalID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pos set stock: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pos set stock failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) BatchSetStock(ctx context.Context, channel *domain.Channel, updates map[string]int) error {
	body, _ := json.Marshal(updates)
	req, err := p.newRequest(ctx, channel, http.MethodPost, "/api/v1/inventory/batch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pos batch set stock: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pos batch set stock failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) VerifyWebhookSignature(channel *domain.Channel, signature string, body []byte) error {
	if signature == "" {
		return fmt.Errorf("missing signature header")
	}
	return webhooksig.VerifyHexSHA256([]byte(channel.WebhookSecret), body, signature)
}

func (p *Provider) HandleWebhook(channel *domain.Channel, body []byte) ([]*domain.WebhookEvent, error) {
	var payload struct {
		Kind       string `json:"kind"`
		ExternalID string `json:"externalId"`
		Quantity   *int   `json:"quantity"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode pos webhook: %w", err)
	}

	return []*domain.WebhookEvent{{
		ChannelID:  channel.ID,
		ExternalID: payload.ExternalID,
		Kind:       payload.Kind,
		Quantity:   payload.Quantity,
		Raw:        body,
	}}, nil
}

func (p *Provider) SubscribeWebhook(ctx context.Context, channel *domain.Channel, callbackURL string) error {
	body, _ := json.Marshal(map[string]string{"url": callbackURL})
	req, err := p.newRequest(ctx, channel, http.MethodPost, "/api/v1/webhooks", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pos subscribe webhook: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (p *Provider) UnsubscribeWebhook(ctx context.Context, channel *domain.Channel) error {
	req, err := p.newRequest(ctx, channel, http.MethodDelete, "/api/v1/webhooks", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pos unsubscribe webhook: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (p *Provider) newRequest(ctx context.Context, channel *domain.Channel, method, path string, body io.Reader) (*http.Request, error) {
	url := "https://" + channel.ExternalInstanceID + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build pos request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
