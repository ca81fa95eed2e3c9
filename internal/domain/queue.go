package domain

import (
	"context"
	"time"
)

// Queue names used across the sync pipeline (spec.md §6 job records).
const (
	QueueNameSync        = "sync"
	QueueNameWebhook     = "webhook"
	QueueNameAlert       = "alert"
	QueueNameStockUpdate = "stockUpdate"
)

// Job is a durable unit of work enqueued for asynchronous processing.
// Mirrors the job record shape: name, data, attempts, backoff, retention.
type Job struct {
	ID       string          `json:"jobId"`
	TenantID string          `json:"tenantId"`
	Name     string          `json:"name"`
	Data     []byte          `json:"data"`
	Attempts int             `json:"attempts"`
	MaxTries int             `json:"maxTries"`
	Backoff  BackoffPolicy   `json:"backoff"`
	Priority int             `json:"priority,omitempty"`
	Delay    time.Duration   `json:"delay,omitempty"`
	Retain   RetentionPolicy `json:"retain"`

	EnqueuedAt time.Time  `json:"enqueuedAt"`
	RunAt      time.Time  `json:"runAt"`
	FailedAt   *time.Time `json:"failedAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// BackoffPolicy controls retry delay growth between attempts.
type BackoffPolicy struct {
	Type  string        `json:"type"` // "exponential" or "fixed"
	Delay time.Duration `json:"delay"`
}

// RetentionPolicy controls how long completed/failed jobs are kept
// for inspection before the queue reaps them.
type RetentionPolicy struct {
	CompletedAge   time.Duration `json:"completedAge"`
	CompletedCount int           `json:"completedCount"`
	FailedAge      time.Duration `json:"failedAge"`
}

// DefaultRetentionPolicy mirrors spec.md §6: 24h/500 for completed, 7d for failed.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		CompletedAge:   24 * time.Hour,
		CompletedCount: 500,
		FailedAge:      7 * 24 * time.Hour,
	}
}

// JobHandler processes one dequeued job. A returned error triggers a retry
// (subject to Job.MaxTries and Job.Backoff) or dead-letter retention.
type JobHandler func(ctx context.Context, job *Job) error

// Queue defines the interface for durable job queues (sync, webhook, alert,
// stockUpdate). Implementations: in-memory (Community) or Redis-backed (Pro).
type Queue interface {
	// Enqueue schedules a job for processing on the named queue.
	Enqueue(ctx context.Context, tenantID, queueName string, job *Job) error

	// Process registers a handler that consumes jobs from the named queue
	// until ctx is cancelled. Blocking call, intended to run in a goroutine.
	Process(ctx context.Context, tenantID, queueName string, concurrency int, handler JobHandler) error

	// DeadLetterCount reports how many jobs exhausted their retries.
	DeadLetterCount(ctx context.Context, tenantID, queueName string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// QueueConfig holds configuration for queue initialization.
type QueueConfig struct {
	Type string // "memory" or "redis"

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PollInterval time.Duration
}
