// Package provider wires concrete ChannelProvider implementations for
// each supported sales channel kind.
package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/provider/marketplace"
	"github.com/mkesani1/stockclerk-sub002/internal/provider/onlinestore"
	"github.com/mkesani1/stockclerk-sub002/internal/provider/pos"
)

// New returns the ChannelProvider implementation for the given kind.
func New(kind domain.ChannelKind) (domain.ChannelProvider, error) {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	switch kind {
	case domain.ChannelKindPOS:
		return pos.New(httpClient), nil
	case domain.ChannelKindOnlineStore:
		return onlinestore.New(httpClient), nil
	case domain.ChannelKindDeliveryMarketplace:
		return marketplace.New(httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported channel kind: %s", kind)
	}
}

// Registry caches one ChannelProvider per kind, since providers are
// stateless HTTP clients and safe to share across channels of the same kind.
type Registry struct {
	providers map[domain.ChannelKind]domain.ChannelProvider
}

// NewRegistry builds providers for all known channel kinds up front.
func NewRegistry() (*Registry, error) {
	r := &Registry{providers: make(map[domain.ChannelKind]domain.ChannelProvider)}

	for _, kind := range []domain.ChannelKind{
		domain.ChannelKindPOS,
		domain.ChannelKindOnlineStore,
		domain.ChannelKindDeliveryMarketplace,
	} {
		p, err := New(kind)
		if err != nil {
			return nil, err
		}
		r.providers[kind] = p
	}
	return r, nil
}

// For returns the provider registered for the given channel kind.
func (r *Registry) For(kind domain.ChannelKind) (domain.ChannelProvider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no provider registered for channel kind: %s", kind)
	}
	return p, nil
}
