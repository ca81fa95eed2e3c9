package domain

import "time"

// Product is the merchant's catalog entry. CurrentStock is the merchant's
// authoritative total inventory; BufferStock is reserved for the physical
// location and withheld from online channels.
type Product struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenantId"`
	SKU          string                 `json:"sku"`
	Name         string                 `json:"name"`
	CurrentStock int                    `json:"currentStock"`
	BufferStock  int                    `json:"bufferStock"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// ExpectedStock returns the quantity that should be advertised on a channel
// of the given kind, per invariant 1: pos sees the true total, online-kind
// channels see the total minus the reserved buffer, never negative.
func (p *Product) ExpectedStock(kind ChannelKind) int {
	if kind == ChannelKindPOS {
		return p.CurrentStock
	}
	expected := p.CurrentStock - p.BufferStock
	if expected < 0 {
		return 0
	}
	return expected
}

// ProductChannelMapping associates a local product with its external
// identifier on one channel. Unique on (channelId, externalId).
//
// TrackInventory decides, for delivery-marketplace mappings, whether pushes
// carry the true computed quantity or collapse to availability-only
// (quantity > 0 vs. 0), per the per-mapping decision recorded for stock
// tracking granularity: some marketplace integrations only support an
// in-stock/out-of-stock toggle rather than an exact count.
type ProductChannelMapping struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"productId"`
	ChannelID      string    `json:"channelId"`
	ExternalID     string    `json:"externalId"`
	ExternalSKU    string    `json:"externalSku,omitempty"`
	Manual         bool      `json:"manual"`
	TrackInventory bool      `json:"trackInventory"`
	CreatedAt      time.Time `json:"createdAt"`
}
