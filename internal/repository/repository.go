// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// GetTenant retrieves a tenant by ID.
func (r *SQLRepository) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	query := `
		SELECT id, name, slug, plan, plan_status, shop_limit, created_at
		FROM tenants
		WHERE id = ?
	`

	var t domain.Tenant
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&t.ID, &t.Name, &t.Slug, &t.Plan, &t.PlanStatus, &t.ShopLimit, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListActiveTenants retrieves all tenants with an active plan, for the
// Tenant Orchestrator's bootstrap and periodic reconciliation sweep.
func (r *SQLRepository) ListActiveTenants(ctx context.Context) ([]*domain.Tenant, error) {
	query := `
		SELECT id, name, slug, plan, plan_status, shop_limit, created_at
		FROM tenants
		WHERE plan_status = 'active'
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Plan, &t.PlanStatus, &t.ShopLimit, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// SaveChannel upserts a channel with tenant isolation.
func (r *SQLRepository) SaveChannel(ctx context.Context, channel *domain.Channel) error {
	if channel.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO channels (
			id, tenant_id, kind, name, external_instance_id,
			credentials_encrypted, webhook_secret, is_active, last_sync_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			credentials_encrypted = excluded.credentials_encrypted,
			webhook_secret = excluded.webhook_secret,
			is_active = excluded.is_active,
			last_sync_at = excluded.last_sync_at
	`

	isActive := 0
	if channel.IsActive {
		isActive = 1
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		channel.ID, channel.TenantID, string(channel.Kind), channel.Name, channel.ExternalInstanceID,
		channel.CredentialsEncrypted, channel.WebhookSecret, isActive, channel.LastSyncAt, channel.CreatedAt,
	)
	return err
}

// GetChannel retrieves a channel by ID with tenant isolation.
func (r *SQLRepository) GetChannel(ctx context.Context, tenantID, channelID string) (*domain.Channel, error) {
	query := `
		SELECT id, tenant_id, kind, name, external_instance_id,
			   credentials_encrypted, webhook_secret, is_active, last_sync_at, created_at
		FROM channels
		WHERE tenant_id = ? AND id = ?
	`
	return r.scanChannel(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, channelID))
}

// FindChannel looks up a channel by its external instance identifier, used
// by the Watcher to resolve an inbound webhook to its owning channel.
func (r *SQLRepository) FindChannel(ctx context.Context, tenantID string, kind domain.ChannelKind, externalInstanceID string) (*domain.Channel, error) {
	query := `
		SELECT id, tenant_id, kind, name, external_instance_id,
			   credentials_encrypted, webhook_secret, is_active, last_sync_at, created_at
		FROM channels
		WHERE tenant_id = ? AND kind = ? AND external_instance_id = ?
	`
	return r.scanChannel(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, string(kind), externalInstanceID))
}

func (r *SQLRepository) scanChannel(row *sql.Row) (*domain.Channel, error) {
	var c domain.Channel
	var kind string
	var isActive int

	err := row.Scan(
		&c.ID, &c.TenantID, &kind, &c.Name, &c.ExternalInstanceID,
		&c.CredentialsEncrypted, &c.WebhookSecret, &isActive, &c.LastSyncAt, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Kind = domain.ChannelKind(kind)
	c.IsActive = isActive == 1
	return &c, nil
}

// ListChannels retrieves all channels for a tenant.
func (r *SQLRepository) ListChannels(ctx context.Context, tenantID string) ([]*domain.Channel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, kind, name, external_instance_id,
			   credentials_encrypted, webhook_secret, is_active, last_sync_at, created_at
		FROM channels
		WHERE tenant_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*domain.Channel
	for rows.Next() {
		var c domain.Channel
		var kind string
		var isActive int

		if err := rows.Scan(
			&c.ID, &c.TenantID, &kind, &c.Name, &c.ExternalInstanceID,
			&c.CredentialsEncrypted, &c.WebhookSecret, &isActive, &c.LastSyncAt, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.Kind = domain.ChannelKind(kind)
		c.IsActive = isActive == 1
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}

// SetChannelActive toggles a channel's active flag, used by the Guardian
// when a channel fails health checks repeatedly (spec.md §4.4).
func (r *SQLRepository) SetChannelActive(ctx context.Context, tenantID, channelID string, active bool) error {
	query := `UPDATE channels SET is_active = ? WHERE tenant_id = ? AND id = ?`

	isActive := 0
	if active {
		isActive = 1
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query), isActive, tenantID, channelID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveProduct upserts a product with tenant isolation.
func (r *SQLRepository) SaveProduct(ctx context.Context, product *domain.Product) error {
	if product.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(product.Metadata)

	query := `
		INSERT INTO products (
			id, tenant_id, sku, name, current_stock, buffer_stock, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			current_stock = excluded.current_stock,
			buffer_stock = excluded.buffer_stock,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		product.ID, product.TenantID, product.SKU, product.Name,
		product.CurrentStock, product.BufferStock, string(metadata),
		product.CreatedAt, product.UpdatedAt,
	)
	return err
}

// GetProduct retrieves a product by ID with tenant isolation.
func (r *SQLRepository) GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	query := `
		SELECT id, tenant_id, sku, name, current_stock, buffer_stock, metadata, created_at, updated_at
		FROM products
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.Product
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, productID).Scan(
		&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.CurrentStock, &p.BufferStock,
		&metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &p.Metadata)
	}
	return &p, nil
}

// UpdateProductStock atomically overwrites a product's current stock level,
// the authoritative value all channel pushes derive from.
func (r *SQLRepository) UpdateProductStock(ctx context.Context, tenantID, productID string, newStock int) error {
	query := `
		UPDATE products
		SET current_stock = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), newStock, time.Now().UTC(), tenantID, productID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMapping upserts a product-to-channel SKU mapping.
func (r *SQLRepository) SaveMapping(ctx context.Context, mapping *domain.ProductChannelMapping) error {
	query := `
		INSERT INTO product_channel_mappings (
			id, product_id, channel_id, external_id, external_sku, manual, track_inventory, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_id = excluded.external_id,
			external_sku = excluded.external_sku,
			manual = excluded.manual,
			track_inventory = excluded.track_inventory
	`

	manual, trackInventory := 0, 0
	if mapping.Manual {
		manual = 1
	}
	if mapping.TrackInventory {
		trackInventory = 1
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		mapping.ID, mapping.ProductID, mapping.ChannelID,
		mapping.ExternalID, mapping.ExternalSKU, manual, trackInventory, mapping.CreatedAt,
	)
	return err
}

// ListMappingsForProduct retrieves every channel mapping for one product,
// used by the Sync Agent to fan a stock change out to all linked channels.
func (r *SQLRepository) ListMappingsForProduct(ctx context.Context, tenantID, productID string) ([]*domain.ProductChannelMapping, error) {
	query := `
		SELECT m.id, m.product_id, m.channel_id, m.external_id, m.external_sku, m.manual, m.track_inventory, m.created_at
		FROM product_channel_mappings m
		JOIN products p ON p.id = m.product_id
		WHERE p.tenant_id = ? AND m.product_id = ?
	`
	return r.scanMappings(ctx, query, tenantID, productID)
}

// ListMappingsForChannel retrieves every product mapped into one channel.
func (r *SQLRepository) ListMappingsForChannel(ctx context.Context, tenantID, channelID string) ([]*domain.ProductChannelMapping, error) {
	query := `
		SELECT m.id, m.product_id, m.channel_id, m.external_id, m.external_sku, m.manual, m.track_inventory, m.created_at
		FROM product_channel_mappings m
		JOIN channels c ON c.id = m.channel_id
		WHERE c.tenant_id = ? AND m.channel_id = ?
	`
	return r.scanMappings(ctx, query, tenantID, channelID)
}

func (r *SQLRepository) scanMappings(ctx context.Context, query, tenantID, id string) ([]*domain.ProductChannelMapping, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*domain.ProductChannelMapping
	for rows.Next() {
		var m domain.ProductChannelMapping
		var manual, trackInventory int
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ChannelID, &m.ExternalID, &m.ExternalSKU, &manual, &trackInventory, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Manual = manual == 1
		m.TrackInventory = trackInventory == 1
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

// FindMappingByExternalID resolves an inbound webhook's external product ID
// back to the internal mapping record, scoped to one channel.
func (r *SQLRepository) FindMappingByExternalID(ctx context.Context, channelID, externalID string) (*domain.ProductChannelMapping, error) {
	query := `
		SELECT id, product_id, channel_id, external_id, external_sku, manual, track_inventory, created_at
		FROM product_channel_mappings
		WHERE channel_id = ? AND external_id = ?
	`

	var m domain.ProductChannelMapping
	var manual, trackInventory int
	err := r.db.QueryRowContext(ctx, r.rebind(query), channelID, externalID).Scan(
		&m.ID, &m.ProductID, &m.ChannelID, &m.ExternalID, &m.ExternalSKU, &manual, &trackInventory, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Manual = manual == 1
	m.TrackInventory = trackInventory == 1
	return &m, nil
}

// AppendSyncEvent writes one record to the append-only sync audit log.
func (r *SQLRepository) AppendSyncEvent(ctx context.Context, event *domain.SyncEvent) error {
	if event.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO sync_events (
			id, tenant_id, event_type, channel_id, product_id,
			old_value, new_value, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		event.ID, event.TenantID, event.EventType, event.ChannelID, event.ProductID,
		event.OldValue, event.NewValue, string(event.Status), event.ErrorMessage, event.CreatedAt,
	)
	return err
}

// HasInFlightSyncEvent reports whether a pending/processing sync event
// already exists for this product/channel/cause pair, used to fold
// concurrent pushes triggered by the same root cause (spec.md §4.3).
func (r *SQLRepository) HasInFlightSyncEvent(ctx context.Context, tenantID, productID, channelID, cause string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM sync_events
		WHERE tenant_id = ? AND product_id = ? AND channel_id = ? AND event_type = ?
		  AND status IN ('pending', 'processing')
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, productID, channelID, cause).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListRecentSyncEvents retrieves sync events for a tenant since a timestamp.
func (r *SQLRepository) ListRecentSyncEvents(ctx context.Context, tenantID string, since time.Time) ([]*domain.SyncEvent, error) {
	query := `
		SELECT id, tenant_id, event_type, channel_id, product_id,
			   old_value, new_value, status, error_message, created_at
		FROM sync_events
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.SyncEvent
	for rows.Next() {
		var e domain.SyncEvent
		var status string
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.EventType, &e.ChannelID, &e.ProductID,
			&e.OldValue, &e.NewValue, &status, &e.ErrorMessage, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Status = domain.SyncStatus(status)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// SaveAlert inserts a surfaced alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(alert.Metadata)

	query := `
		INSERT INTO alerts (
			id, tenant_id, kind, severity, message, metadata, is_read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	isRead := 0
	if alert.IsRead {
		isRead = 1
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TenantID, string(alert.Kind), string(alert.Severity),
		alert.Message, string(metadata), isRead, alert.CreatedAt,
	)
	return err
}

// ListAlerts retrieves all alerts for a tenant, most recent first.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string) ([]*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, kind, severity, message, metadata, is_read, created_at
		FROM alerts
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var kind, severity, metadata string
		var isRead int
		if err := rows.Scan(&a.ID, &a.TenantID, &kind, &severity, &a.Message, &metadata, &isRead, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = domain.AlertKind(kind)
		a.Severity = domain.AlertSeverity(severity)
		a.IsRead = isRead == 1
		if metadata != "" {
			json.Unmarshal([]byte(metadata), &a.Metadata)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// SaveAlertRule upserts an alert rule.
func (r *SQLRepository) SaveAlertRule(ctx context.Context, rule *domain.AlertRule) error {
	if rule.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	actions, _ := json.Marshal(rule.Actions)

	query := `
		INSERT INTO alert_rules (
			id, tenant_id, kind, conditions, actions, is_active,
			product_id, channel_id, threshold, percentage_threshold
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conditions = excluded.conditions,
			actions = excluded.actions,
			is_active = excluded.is_active,
			product_id = excluded.product_id,
			channel_id = excluded.channel_id,
			threshold = excluded.threshold,
			percentage_threshold = excluded.percentage_threshold
	`

	isActive := 0
	if rule.IsActive {
		isActive = 1
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.TenantID, string(rule.Kind), rule.Conditions, string(actions), isActive,
		nullString(rule.ProductID), nullString(rule.ChannelID), rule.Threshold, rule.PercentageThreshold,
	)
	return err
}

// ListAlertRules retrieves all active alert rules for a tenant.
func (r *SQLRepository) ListAlertRules(ctx context.Context, tenantID string) ([]*domain.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, kind, conditions, actions, is_active,
		       product_id, channel_id, threshold, percentage_threshold
		FROM alert_rules
		WHERE tenant_id = ? AND is_active = 1
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		var rule domain.AlertRule
		var kind, actions string
		var isActive int
		var productID, channelID sql.NullString
		var threshold sql.NullInt64
		var pctThreshold sql.NullFloat64
		if err := rows.Scan(&rule.ID, &rule.TenantID, &kind, &rule.Conditions, &actions, &isActive,
			&productID, &channelID, &threshold, &pctThreshold); err != nil {
			return nil, err
		}
		rule.Kind = domain.AlertKind(kind)
		rule.IsActive = isActive == 1
		rule.ProductID = productID.String
		rule.ChannelID = channelID.String
		if threshold.Valid {
			v := int(threshold.Int64)
			rule.Threshold = &v
		}
		if pctThreshold.Valid {
			v := pctThreshold.Float64
			rule.PercentageThreshold = &v
		}
		if actions != "" {
			json.Unmarshal([]byte(actions), &rule.Actions)
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// nullString converts an optional field into a sql.NullString so empty
// strings persist as SQL NULL rather than an empty-string value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
