package domain

import "time"

// SyncStatus is the lifecycle state of a SyncEvent.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
)

// SyncEvent is an append-only audit record of one attempted stock write.
type SyncEvent struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	EventType    string     `json:"eventType"`
	ChannelID    string     `json:"channelId,omitempty"`
	ProductID    string     `json:"productId,omitempty"`
	OldValue     *int       `json:"oldValue,omitempty"`
	NewValue     *int       `json:"newValue,omitempty"`
	Status       SyncStatus `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// AlertKind enumerates the kinds of alerts the Alert Agent can raise.
type AlertKind string

const (
	AlertKindLowStock            AlertKind = "low_stock"
	AlertKindSyncError           AlertKind = "sync_error"
	AlertKindChannelDisconnected AlertKind = "channel_disconnected"
	AlertKindSystem              AlertKind = "system"
	AlertKindDriftDetected       AlertKind = "drift_detected"
)

// AlertSeverity ranks an alert's urgency.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a surfaced notification for operator attention.
type Alert struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenantId"`
	Kind      AlertKind              `json:"kind"`
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt time.Time              `json:"createdAt"`
}

// AlertAction describes one delivery action for a triggered alert.
type AlertAction struct {
	Type       string   `json:"type"` // "notify", "email", "webhook"
	Recipients []string `json:"recipients,omitempty"`
	URL        string   `json:"url,omitempty"`
}

// AlertRule defines a tenant-configured condition that, when it evaluates
// true against incoming events and DB state, raises an Alert. ProductID
// and ChannelID optionally scope the rule; Threshold and
// PercentageThreshold back the default formula each AlertKind uses when
// Conditions is empty (low_stock's threshold, drift_detected's percent).
type AlertRule struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenantId"`
	Kind       AlertKind     `json:"kind"`
	Conditions string        `json:"conditions"` // CEL expression
	Actions    []AlertAction `json:"actions"`
	IsActive   bool          `json:"isActive"`

	ProductID           string   `json:"productId,omitempty"`
	ChannelID           string   `json:"channelId,omitempty"`
	Threshold           *int     `json:"threshold,omitempty"`
	PercentageThreshold *float64 `json:"percentageThreshold,omitempty"`
}

// DedupeWindow is the sliding window within which identical
// (tenantId, kind, productId?, channelId?) alerts collapse into a single
// dispatched notification (spec.md §4.5, default 30 minutes).
const DedupeWindow = 30 * time.Minute
