// Package onlinestore implements domain.ChannelProvider for the online
// storefront channel. Online store inventory is buffered (spec.md §3):
// pushed quantities are reduced by the product's buffer stock.
package onlinestore

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

// Provider talks to a tenant's online storefront over its REST API.
type Provider struct {
	client *http.Client
}

// New creates an online-store provider using the given HTTP client.
func New(client *http.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Kind() domain.ChannelKind { return domain.ChannelKindOnlineStore }

func (p *Provider) Connect(ctx context.Context, channel *domain.Channel) error {
	return p.HealthCheck(ctx, channel)
}

func (p *Provider) Disconnect(ctx context.Context, channel *domain.Channel) error {
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context, channel *domain.Channel) error {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/admin/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("online store health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("online store health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) ListProducts(ctx context.Context, channel *domain.Channel) ([]*domain.RemoteProduct, error) {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/admin/api/products", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("online store list products: %w", err)
	}
	defer resp.Body.Close()

	var items []*domain.RemoteProduct
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode online store products: %w", err)
	}
	for _, it := range items {
		it.IsTracked = true
		it.IsAvailable = it.Quantity > 0
	}
	return items, nil
}

func (p *Provider) GetProduct(ctx context.Context, channel *domain.Channel, externalID string) (*domain.RemoteProduct, error) {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/admin/api/products/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("online store get product: %w", err)
	}
	defer resp.Body.Close()

	var item domain.RemoteProduct
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode online store product: %w", err)
	}
	item.IsTracked = true
	item.IsAvailable = item.Quantity > 0
	return &item, nil
}

func (p *Provider) SetStock(ctx context.Context, channel *domain.Channel, externalID string, quantity int) error {
	body, _ := json.Marshal(map[string]int{"inventory_quantity": quantity})
	req, err := p.newRequest(ctx, channel, http.MethodPut, "/admin/api/products/"+externalID+"/inventory", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("online store set stock: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("online store set stock failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) BatchSetStock(ctx context.Context, channel *domain.Channel, updates map[string]int) error {
	body, _ := json.Marshal(updates)
	req, err := p.newRequest(ctx, channel, http.MethodPost, "/admin/api/products/inventory/bulk", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("online store batch set stock: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("online store batch set stock failed: status %d", resp.StatusCode)
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
		Topic      string `json:"topic"`
		ExternalID string `json:"productId"`
		Quantity   *int   `json:"inventoryQuantity"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode online store webhook: %w", err)
	}

	return []*domain.WebhookEvent{{
		ChannelID:  channel.ID,
		ExternalID: payload.ExternalID,
		Kind:       payload.Topic,
		Quantity:   payload.Quantity,
		Raw:        body,
	}}, nil
}

func (p *Provider) SubscribeWebhook(ctx context.Context, channel *domain.Channel, callbackURL string) error {
	body, _ := json.Marshal(map[string]string{"address": callbackURL})
	req, err := p.newRequest(ctx, channel, http.MethodPost, "/admin/api/webhooks", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("online store subscribe webhook: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (p *Provider) UnsubscribeWebhook(ctx context.Context, channel *domain.Channel) error {
	req, err := p.newRequest(ctx, channel, http.MethodDelete, "/admin/api/webhooks", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("online store unsubscribe webhook: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (p *Provider) newRequest(ctx context.Context, channel *domain.Channel, method, path string, body io.Reader) (*http.Request, error) {
	url := "https://" + channel.ExternalInstanceID + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build online store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
