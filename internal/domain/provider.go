package domain

import (
	"context"
	"time"
)

// RemoteProduct is a channel's normalized view of one product, independent
// of the vendor-specific wire format.
type RemoteProduct struct {
	ExternalID  string    `json:"externalId"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Quantity    int       `json:"quantity"`
	IsTracked   bool       `json:"isTracked"`   // false for delivery-marketplace availability-only mappings
	IsAvailable bool       `json:"isAvailable"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WebhookEvent is the normalized result of verifying and decoding an inbound
// channel webhook payload.
type WebhookEvent struct {
	ChannelID  string
	ExternalID string
	Kind       string // "stock.updated", "order.placed", "product.deleted", ...
	Quantity   *int
	Raw        []byte
}

// ChannelProvider adapts a sales channel's vendor-specific API into the
// uniform surface the Sync Agent and Watcher depend on. One implementation
// per ChannelKind (pos, online_store, delivery_marketplace).
type ChannelProvider interface {
	Kind() ChannelKind

	Connect(ctx context.Context, channel *Channel) error
	Disconnect(ctx context.Context, channel *Channel) error
	HealthCheck(ctx context.Context, channel *Channel) error

	ListProducts(ctx context.Context, channel *Channel) ([]*RemoteProduct, error)
	GetProduct(ctx context.Context, channel *Channel, externalID string) (*RemoteProduct, error)
	SetStock(ctx context.Context, channel *Channel, externalID string, quantity int) error
	BatchSetStock(ctx context.Context, channel *Channel, updates map[string]int) error

	// VerifyWebhookSignature validates the signature header's value using
	// the channel's webhook secret and the kind's signature algorithm. The
	// caller (HTTP or IPC-delivered) is responsible for extracting the
	// header named "X-{Kind}-Signature".
	VerifyWebhookSignature(channel *Channel, signature string, body []byte) error
	// HandleWebhook decodes a verified payload into normalized events.
	HandleWebhook(channel *Channel, body []byte) ([]*WebhookEvent, error)

	SubscribeWebhook(ctx context.Context, channel *Channel, callbackURL string) error
	UnsubscribeWebhook(ctx context.Context, channel *Channel) error
}
