package queue

import (
	"errors"
	"fmt"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

var errTenantRequired = errors.New("tenantID is required")

// New constructs a domain.Queue per cfg.Type ("memory" or "redis"),
// mirroring the ChannelKind-keyed factory pattern used by bus.New and
// cache.New.
func New(cfg domain.QueueConfig) (domain.Queue, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryQueue(cfg), nil
	case "redis":
		return NewRedisQueue(cfg)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
}
