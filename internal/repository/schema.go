package repository

// Schema definitions for stockclerk's persistence layer.
// Compatible with both SQLite and PostgreSQL.

const schemaTenants = `
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    plan TEXT NOT NULL,
    plan_status TEXT NOT NULL,
    shop_limit INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tenants_slug ON tenants(slug);
CREATE INDEX IF NOT EXISTS idx_tenants_plan_status ON tenants(plan_status);
`

const schemaChannels = `
CREATE TABLE IF NOT EXISTS channels (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    external_instance_id TEXT NOT NULL,
    credentials_encrypted BLOB,
    webhook_secret TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    last_sync_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_channels_tenant ON channels(tenant_id);
CREATE INDEX IF NOT EXISTS idx_channels_lookup ON channels(tenant_id, kind, external_instance_id);
`

const schemaProducts = `
CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    sku TEXT NOT NULL,
    name TEXT NOT NULL,
    current_stock INTEGER NOT NULL DEFAULT 0,
    buffer_stock INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_tenant ON products(tenant_id);
CREATE INDEX IF NOT EXISTS idx_products_sku ON products(tenant_id, sku);
`

const schemaProductChannelMappings = `
CREATE TABLE IF NOT EXISTS product_channel_mappings (
    id TEXT PRIMARY KEY,
    product_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    external_id TEXT NOT NULL,
    external_sku TEXT,
    manual INTEGER NOT NULL DEFAULT 0,
    track_inventory INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mappings_product ON product_channel_mappings(product_id);
CREATE INDEX IF NOT EXISTS idx_mappings_channel ON product_channel_mappings(channel_id);
CREATE INDEX IF NOT EXISTS idx_mappings_external ON product_channel_mappings(channel_id, external_id);
`

const schemaSyncEvents = `
CREATE TABLE IF NOT EXISTS sync_events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    channel_id TEXT,
    product_id TEXT,
    old_value INTEGER,
    new_value INTEGER,
    status TEXT NOT NULL,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_events_tenant ON sync_events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_sync_events_product ON sync_events(tenant_id, product_id, channel_id);
CREATE INDEX IF NOT EXISTS idx_sync_events_created ON sync_events(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sync_events_status ON sync_events(tenant_id, status);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    metadata TEXT,
    is_read INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_tenant ON alerts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alerts_unread ON alerts(tenant_id, is_read);
`

const schemaAlertRules = `
CREATE TABLE IF NOT EXISTS alert_rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    conditions TEXT NOT NULL,
    actions TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    product_id TEXT,
    channel_id TEXT,
    threshold INTEGER,
    percentage_threshold REAL
);

CREATE INDEX IF NOT EXISTS idx_alert_rules_tenant ON alert_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alert_rules_active ON alert_rules(tenant_id, is_active);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTenants,
		schemaChannels,
		schemaProducts,
		schemaProductChannelMappings,
		schemaSyncEvents,
		schemaAlerts,
		schemaAlertRules,
	}
}
