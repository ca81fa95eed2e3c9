// Package domain defines the core types and interfaces for stockclerk.
package domain

import "time"

// Tenant is a merchant account owning a catalog and its channel
// configurations. Tenants are created externally; the core only reads them.
type Tenant struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Slug       string     `json:"slug"`
	Plan       string     `json:"plan"`
	PlanStatus string     `json:"planStatus"`
	ShopLimit  int        `json:"shopLimit"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ChannelKind is a tagged variant over the three supported sales channels.
type ChannelKind string

const (
	ChannelKindPOS                ChannelKind = "pos"
	ChannelKindOnlineStore        ChannelKind = "online_store"
	ChannelKindDeliveryMarketplace ChannelKind = "delivery_marketplace"
)

// Valid reports whether k is one of the known channel kinds.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelKindPOS, ChannelKindOnlineStore, ChannelKindDeliveryMarketplace:
		return true
	}
	return false
}

// Channel is a merchant's connection to one external sales surface.
type Channel struct {
	ID                   string      `json:"id"`
	TenantID             string      `json:"tenantId"`
	Kind                 ChannelKind `json:"kind"`
	Name                 string      `json:"name"`
	ExternalInstanceID   string      `json:"externalInstanceId"`
	CredentialsEncrypted []byte      `json:"-"`
	WebhookSecret        string      `json:"-"`
	IsActive             bool        `json:"isActive"`
	LastSyncAt           *time.Time  `json:"lastSyncAt,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
}

// SignatureAlgorithm returns the HMAC algorithm vendor-defined for this
// channel kind, per the webhook verification contract.
func (k ChannelKind) SignatureAlgorithm() string {
	if k == ChannelKindDeliveryMarketplace {
		return "sha1"
	}
	return "sha256"
}

// RateLimit returns the provider rate-limit policy for this channel kind.
func (k ChannelKind) RateLimit() (requestsPerMinute, maxConcurrent int) {
	switch k {
	case ChannelKindPOS:
		return 60, 5
	case ChannelKindOnlineStore:
		return 100, 10
	case ChannelKindDeliveryMarketplace:
		return 50, 5
	default:
		return 60, 5
	}
}
