// Package marketplace implements domain.ChannelProvider for delivery
// marketplace channels. Delivery marketplaces may track availability
// only rather than true quantity (spec.md Open Question #1, resolved via
// domain.ProductChannelMapping consumers checking TrackInventory); webhook
// signatures use HMAC-SHA1 per the vendor's legacy API.
package marketplace

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

// Provider talks to a tenant's delivery marketplace listing API.
type Provider struct {
	client *http.Client
}

// New creates a delivery-marketplace provider using the given HTTP client.
func New(client *http.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Kind() domain.ChannelKind { return domain.ChannelKindDeliveryMarketplace }

func (p *Provider) Connect(ctx context.Context, channel *domain.Channel) error {
	return p.HealthCheck(ctx, channel)
}

func (p *Provider) Disconnect(ctx context.Context, channel *domain.Channel) error {
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context, channel *domain.Channel) error {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/partner/v2/ping", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("marketplace health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) ListProducts(ctx context.Context, channel *domain.Channel) ([]*domain.RemoteProduct, error) {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/partner/v2/listings", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace list products: %w", err)
	}
	defer resp.Body.Close()

	var items []*domain.RemoteProduct
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode marketplace listings: %w", err)
	}
	for _, it := range items {
		it.IsAvailable = it.Quantity > 0
	}
	return items, nil
}

func (p *Provider) GetProduct(ctx context.Context, channel *domain.Channel, externalID string) (*domain.RemoteProduct, error) {
	req, err := p.newRequest(ctx, channel, http.MethodGet, "/partner/v2/listings/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace get product: %w", err)
	}
	defer resp.Body.Close()

	var item domain.RemoteProduct
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode marketplace listing: %w", err)
	}
	item.IsAvailable = item.Quantity > 0
	return &item, nil
}

// SetStock updates availability (or quantity, when the mapping tracks
// true inventory) for one listing.
func (p *Provider) SetStock(ctx context.Context, channel *domain.Channel, externalID string, quantity int) error {
	body, _ := json.Marshal(map[string]interface{}{
		"quantity":    quantity,
		"isAvailable": quantity > 0,
	})
	req, err := p.newRequest(ctx, channel, http.MethodPatch, "/partner/v2/listings/"+externalID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace set stock: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("marketplace set stock failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) BatchSetStock(ctx context.Context, channel *domain.Channel, updates map[string]int) error {
	body, _ := json.Marshal(updates)
	req, err := p.newRequest(ctx, channel, http.MethodPost, "/partner/v2/listings/batch-availability", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace batch set stock: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("marketplace batch set stock failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) VerifyWebhookSignature(channel *domain.Channel, signature string, body []byte) error {
	if signature == "" {
		return fmt.Errorf("missing signature header")
	}
	return webhooksig.VerifyBase64SHA1([]byte(channel.WebhookSecret), body, signature)
}

func (p *Provider) HandleWebhook(channel *domain.Channel, body []byte) ([]*domain.WebhookEvent, error) {
	var payload struct {
		EventType string `json:"eventType"`
		ListingID string `json:"listingId"`
		Quantity  *int   `json:"quantity"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode marketplace webhook: %w", err)
	}

	return []*domain.WebhookEvent{{
		ChannelID:  channel.ID,
		ExternalID: payload.ListingID,
		Kind:       payload.EventType,
		Quantity:   payload.Quantity,
		Raw:        body,
	}}, nil
}

func (p *Provider) SubscribeWebhook(ctx context.Context, channel *domain.Channel, callbackURL string) error {
	body, _ := json.Marshal(map[string]string{"callbackUrl": callbackURL})
	req, err := p.newRequest(ctx, channel, http.MethodPost, "/partner/v2/webhooks", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace subscribe webhook: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (p *Provider) UnsubscribeWebhook(ctx context.Context, channel *domain.Channel) error {
	req, err := p.newRequest(ctx, channel, http.MethodDelete, "/partner/v2/webhooks", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace unsubscribe webhook: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (p *Provider) newRequest(ctx context.Context, channel *domain.Channel, method, path string, body io.Reader) (*http.Request, error) {
	url := "https://" + channel.ExternalInstanceID + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build marketplace request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
