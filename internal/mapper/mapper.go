// Package mapper resolves a channel's external product records against
// stockclerk's internal product catalog, combining exact SKU matches with
// fuzzy name matching for unmapped candidates. Barcodes are not compared:
// neither domain.Product nor domain.RemoteProduct carries one.
package mapper

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

// Candidate is a proposed match between a remote product and an internal
// product, scored by confidence.
type Candidate struct {
	Product    *domain.Product
	Remote     *domain.RemoteProduct
	Confidence float64 // 0.0-1.0
	MatchedOn  string  // "sku" or "fuzzy_name"
}

// FuzzyThreshold is the minimum normalized similarity score for a fuzzy
// name match to be proposed as a candidate.
const FuzzyThreshold = 0.80

// Mapper resolves remote products to internal products for one tenant.
type Mapper struct {
	repo domain.Repository
}

// New creates a Mapper backed by the given repository.
func New(repo domain.Repository) *Mapper {
	return &Mapper{repo: repo}
}

// Resolve finds the best matching internal product for a remote product.
// Exact SKU match always wins; otherwise the closest fuzzy name match
// above FuzzyThreshold is returned. Manual mappings (domain.ProductChannelMapping.Manual)
// are expected to be consulted by the caller before Resolve is reached.
func (m *Mapper) Resolve(ctx context.Context, tenantID string, remote *domain.RemoteProduct, catalog []*domain.Product) *Candidate {
	for _, p := range catalog {
		if p.SKU != "" && strings.EqualFold(p.SKU, remote.SKU) {
			return &Candidate{Product: p, Remote: remote, Confidence: 1.0, MatchedOn: "sku"}
		}
	}

	var best *Candidate
	for _, p := range catalog {
		score := similarity(p.Name, remote.Name)
		if score < FuzzyThreshold {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &Candidate{Product: p, Remote: remote, Confidence: score, MatchedOn: "fuzzy_name"}
		}
	}
	return best
}

// similarity returns a normalized 0.0-1.0 score derived from Levenshtein
// edit distance, where 1.0 is an exact match.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}
