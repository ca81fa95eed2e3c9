// Package domain defines the core interfaces and types for stockclerk.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Tenant operations
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	ListActiveTenants(ctx context.Context) ([]*Tenant, error)

	// Channel operations
	SaveChannel(ctx context.Context, channel *Channel) error
	GetChannel(ctx context.Context, tenantID, channelID string) (*Channel, error)
	FindChannel(ctx context.Context, tenantID string, kind ChannelKind, externalInstanceID string) (*Channel, error)
	ListChannels(ctx context.Context, tenantID string) ([]*Channel, error)
	SetChannelActive(ctx context.Context, tenantID, channelID string, active bool) error

	// Product operations
	SaveProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, tenantID, productID string) (*Product, error)
	UpdateProductStock(ctx context.Context, tenantID, productID string, newStock int) error

	// Mapping operations
	SaveMapping(ctx context.Context, mapping *ProductChannelMapping) error
	ListMappingsForProduct(ctx context.Context, tenantID, productID string) ([]*ProductChannelMapping, error)
	ListMappingsForChannel(ctx context.Context, tenantID, channelID string) ([]*ProductChannelMapping, error)
	FindMappingByExternalID(ctx context.Context, channelID, externalID string) (*ProductChannelMapping, error)

	// SyncEvent operations (append-only audit log)
	AppendSyncEvent(ctx context.Context, event *SyncEvent) error
	HasInFlightSyncEvent(ctx context.Context, tenantID, productID, channelID, cause string) (bool, error)
	ListRecentSyncEvents(ctx context.Context, tenantID string, since time.Time) ([]*SyncEvent, error)

	// Alert operations
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, tenantID string) ([]*Alert, error)

	// AlertRule operations
	SaveAlertRule(ctx context.Context, rule *AlertRule) error
	ListAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	Driver string // "sqlite" or "postgres"

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
