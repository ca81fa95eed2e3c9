package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

// RedisQueue implements domain.Queue on a Redis sorted set per (tenant,
// queue): the member is the job's JSON payload, the score is its RunAt
// as Unix nanoseconds so ZRANGEBYSCORE naturally yields the next-due job.
// Used as the Pro tier queue so multiple worker processes can share a
// durable backlog.
type RedisQueue struct {
	client       *redis.Client
	pollInterval time.Duration
	log          *slog.Logger
}

// NewRedisQueue creates a Redis-backed job queue.
func NewRedisQueue(cfg domain.QueueConfig) (*RedisQueue, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	return &RedisQueue{
		client:       client,
		pollInterval: poll,
		log:          slog.Default().With("component", "queue.redis"),
	}, nil
}

func (q *RedisQueue) queueKey(tenantID, queueName string) string {
	return "stockclerk:" + tenantID + ":queue:" + queueName
}

func (q *RedisQueue) deadLetterKey(tenantID, queueName string) string {
	return "stockclerk:" + tenantID + ":queue:" + queueName + ":dead"
}

// Enqueue adds a job to the sorted set, scored by its due time.
func (q *RedisQueue) Enqueue(ctx context.Context, tenantID, queueName string, job *domain.Job) error {
	if tenantID == "" {
		return errTenantRequired
	}
	job.TenantID = tenantID
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	runAt := job.EnqueuedAt
	if job.Delay > 0 {
		runAt = runAt.Add(job.Delay)
	}
	job.RunAt = runAt

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	return q.client.ZAdd(ctx, q.queueKey(tenantID, queueName), redis.Z{
		Score:  float64(runAt.UnixNano()),
		Member: payload,
	}).Err()
}

// popScript atomically pops the earliest-due member from the sorted set,
// bounded by the given max score, so concurrent workers never race on the
// same job.
var popScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
	return nil
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

func (q *RedisQueue) dequeue(ctx context.Context, tenantID, queueName string) (*domain.Job, bool) {
	now := time.Now().UnixNano()
	res, err := popScript.Run(ctx, q.client, []string{q.queueKey(tenantID, queueName)}, now).Result()
	if err == redis.Nil || res == nil {
		return nil, false
	}
	if err != nil {
		q.log.Error("dequeue failed", "tenantId", tenantID, "queue", queueName, "err", err)
		return nil, false
	}

	raw, ok := res.(string)
	if !ok {
		return nil, false
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.log.Error("unmarshal job failed", "tenantId", tenantID, "queue", queueName, "err", err)
		return nil, false
	}
	return &job, true
}

// Process runs handler against jobs popped from the named queue until ctx
// is cancelled, spawning concurrency worker goroutines.
func (q *RedisQueue) Process(ctx context.Context, tenantID, queueName string, concurrency int, handler domain.JobHandler) error {
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

func (q *RedisQueue) worker(ctx context.Context, tenantID, queueName string, handler domain.JobHandler) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok := q.dequeue(ctx, tenantID, queueName)
			if !ok {
				continue
			}
			q.run(ctx, tenantID, queueName, job, handler)
		}
	}
}

func (q *RedisQueue) run(ctx context.Context, tenantID, queueName string, job *domain.Job, handler domain.JobHandler) {
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
		if err := q.client.Incr(ctx, q.deadLetterKey(tenantID, queueName)).Err(); err != nil {
			q.log.Error("dead letter increment failed", "tenantId", tenantID, "queue", queueName, "err", err)
		}
		if job.Retain.FailedAge > 0 {
			q.client.Expire(ctx, q.deadLetterKey(tenantID, queueName), job.Retain.FailedAge)
		}
		return
	}

	job.Delay = backoffDelay(job.Backoff, job.Attempts)
	q.log.Warn("job failed, retrying",
		"tenantId", tenantID, "queue", queueName, "jobId", job.ID, "attempt", job.Attempts, "delay", job.Delay, "err", err)
	if err := q.Enqueue(ctx, tenantID, queueName, job); err != nil {
		q.log.Error("requeue failed", "tenantId", tenantID, "queue", queueName, "jobId", job.ID, "err", err)
	}
}

// DeadLetterCount reports jobs that exhausted MaxTries on this queue.
func (q *RedisQueue) DeadLetterCount(ctx context.Context, tenantID, queueName string) (int64, error) {
	val, err := q.client.Get(ctx, q.deadLetterKey(tenantID, queueName)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
