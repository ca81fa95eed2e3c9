// Package queue implements domain.Queue for the sync/webhook/alert/stockUpdate
// job queues: an in-memory priority queue for the Community tier and a
// Redis-backed queue for the Pro tier.
package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

// key namespaces a queue by tenant and queue name, mirroring the
// "stockclerk:{tenantId}:*" convention used by bus and cache.
type key struct {
	tenantID  string
	queueName string
}

// MemoryQueue is an in-process priority queue. Jobs are held in a single
// slice per (tenant, queue) and scanned for the highest-priority available
// job on every poll; adequate at Community tier scale.
type MemoryQueue struct {
	mu        sync.Mutex
	jobs      map[key][]*domain.Job
	deadLeter map[key]int64

	pollInterval time.Duration
	log          *slog.Logger
}

// NewMemoryQueue creates an in-memory job queue.
func NewMemoryQueue(cfg domain.QueueConfig) *MemoryQueue {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &MemoryQueue{
		jobs:         make(map[key][]*domain.Job),
		deadLeter:    make(map[key]int64),
		pollInterval: poll,
		log:          slog.Default().With("component", "queue.memory"),
	}
}

// Enqueue adds a job to the named queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, tenantID, queueName string, job *domain.Job) error {
	if tenantID == "" {
		return errTenantRequired
	}
	k := key{tenantID: tenantID, queueName: queueName}

	job.TenantID = tenantID
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	runAt := job.EnqueuedAt
	if job.Delay > 0 {
		runAt = runAt.Add(job.Delay)
	}
	job.RunAt = runAt

	q.mu.Lock()
	q.jobs[k] = append(q.jobs[k], job)
	q.mu.Unlock()
	return nil
}

// Process runs handler against jobs popped from the named queue until ctx
// is cancelled, spawning concurrency worker goroutines.
func (q *MemoryQueue) Process(ctx context.Context, tenantID, queueName string, concurrency int, handler domain.JobHandler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			q.worker(ctx, tenantID, queueName, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) worker(ctx context.Context, tenantID, queueName string, handler domain.JobHandler) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok := q.dequeue(tenantID, queueName)
			if !ok {
				continue
			}
			q.run(ctx, tenantID, queueName, job, handler)
		}
	}
}

func (q *MemoryQueue) dequeue(tenantID, queueName string) (*domain.Job, bool) {
	k := key{tenantID: tenantID, queueName: queueName}
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.jobs[k]
	if len(jobs) == 0 {
		return nil, false
	}

	available := make([]*domain.Job, 0, len(jobs))
	for _, j := range jobs {
		if !j.RunAt.After(now) {
			available = append(available, j)
		}
	}
	if len(available) == 0 {
		return nil, false
	}

	sort.Slice(available, func(i, j int) bool {
		if available[i].Priority != available[j].Priority {
			return available[i].Priority > available[j].Priority
		}
		return available[i].RunAt.Before(available[j].RunAt)
	})
	selected := available[0]

	for i, j := range jobs {
		if j.ID == selected.ID {
			q.jobs[k] = append(jobs[:i:i], jobs[i+1:]...)
			break
		}
	}
	return selected, true
}

func (q *MemoryQueue) run(ctx context.Context, tenantID, queueName string, job *domain.Job, handler domain.JobHandler) {
	err := handler(ctx, job)
	if err == nil {
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	now := time.Now().UTC()
	job.FailedAt = &now

	if job.Attempts >= job.MaxTries {
		q.log.Error("job exhausted retries, moving to dead letter",
			"tenantId", tenantID, "queue", queueName, "jobId", job.ID, "name", job.Name, "err", err)
		k := key{tenantID: tenantID, queueName: queueName}
		q.mu.Lock()
		q.deadLeter[k]++
		q.mu.Unlock()
		return
	}

	job.Delay = backoffDelay(job.Backoff, job.Attempts)
	q.log.Warn("job failed, retrying",
		"tenantId", tenantID, "queue", queueName, "jobId", job.ID, "attempt", job.Attempts, "delay", job.Delay, "err", err)
	_ = q.Enqueue(ctx, tenantID, queueName, job)
}

// DeadLetterCount reports jobs that exhausted MaxTries on this queue.
func (q *MemoryQueue) DeadLetterCount(ctx context.Context, tenantID, queueName string) (int64, error) {
	k := key{tenantID: tenantID, queueName: queueName}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deadLeter[k], nil
}

func (q *MemoryQueue) Ping(ctx context.Context) error { return nil }

func (q *MemoryQueue) Close() error { return nil }

func backoffDelay(policy domain.BackoffPolicy, attempt int) time.Duration {
	base := policy.Delay
	if base <= 0 {
		base = time.Second
	}
	if policy.Type == "fixed" {
		return base
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
