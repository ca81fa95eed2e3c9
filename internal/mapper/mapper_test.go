package mapper

import (
	"context"
	"testing"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

func TestResolveExactSKU(t *testing.T) {
	m := New(nil)
	catalog := []*domain.Product{
		{ID: "p1", SKU: "ABC-123", Name: "Blue Widget"},
		{ID: "p2", SKU: "XYZ-999", Name: "Red Gadget"},
	}

	remote := &domain.RemoteProduct{SKU: "abc-123", Name: "Blue Widget Deluxe"}
	c := m.Resolve(context.Background(), "tenant-1", remote, catalog)

	if c == nil || c.Product.ID != "p1" || c.MatchedOn != "sku" {
		t.Fatalf("expected exact SKU match on p1, got %+v", c)
	}
	if c.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %f", c.Confidence)
	}
}

func TestResolveFuzzyName(t *testing.T) {
	m := New(nil)
	catalog := []*domain.Product{
		{ID: "p1", SKU: "", Name: "Blue Widget"},
		{ID: "p2", SKU: "", Name: "Red Gadget"},
	}

	remote := &domain.RemoteProduct{SKU: "", Name: "Blue Widgett"}
	c := m.Resolve(context.Background(), "tenant-1", remote, catalog)

	if c == nil || c.Product.ID != "p1" || c.MatchedOn != "fuzzy_name" {
		t.Fatalf("expected fuzzy match on p1, got %+v", c)
	}
}

func TestResolveNoMatch(t *testing.T) {
	m := New(nil)
	catalog := []*domain.Product{
		{ID: "p1", SKU: "", Name: "Completely Different Item"},
	}

	remote := &domain.RemoteProduct{SKU: "", Name: "Blue Widget"}
	c := m.Resolve(context.Background(), "tenant-1", remote, catalog)

	if c != nil {
		t.Errorf("expected no match, got %+v", c)
	}
}
