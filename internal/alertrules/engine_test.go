package alertrules

import (
	"testing"
	"time"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestLowStockBuiltinDefaultThreshold(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rule := &domain.AlertRule{ID: "r1", Kind: domain.AlertKindLowStock, IsActive: true}
	if err := engine.LoadRules([]*domain.AlertRule{rule}); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	product := &domain.Product{ID: "p1", SKU: "SKU-1", CurrentStock: 3, BufferStock: 10}
	results, err := engine.EvaluateAll(domain.AlertKindLowStock, &Input{Product: product})
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(results) != 1 || !results[0].Triggered {
		t.Fatalf("expected low_stock to trigger, got %+v", results)
	}
	if results[0].Severity != domain.SeverityWarning {
		t.Errorf("severity = %q, want warning (3 <= 10/2)", results[0].Severity)
	}
}

func TestLowStockBuiltinCriticalAtZero(t *testing.T) {
	engine, _ := NewEngine()
	rule := &domain.AlertRule{ID: "r1", Kind: domain.AlertKindLowStock, IsActive: true}
	engine.LoadRules([]*domain.AlertRule{rule})

	product := &domain.Product{ID: "p1", SKU: "SKU-1", CurrentStock: 0, BufferStock: 10}
	results, _ := engine.EvaluateAll(domain.AlertKindLowStock, &Input{Product: product})
	if len(results) != 1 || results[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity at zero stock, got %+v", results)
	}
}

func TestLowStockBuiltinNoTriggerAboveThreshold(t *testing.T) {
	engine, _ := NewEngine()
	rule := &domain.AlertRule{ID: "r1", Kind: domain.AlertKindLowStock, IsActive: true, Threshold: intPtr(5)}
	engine.LoadRules([]*domain.AlertRule{rule})

	product := &domain.Product{ID: "p1", SKU: "SKU-1", CurrentStock: 20, BufferStock: 10}
	results, _ := engine.EvaluateAll(domain.AlertKindLowStock, &Input{Product: product})
	if len(results) != 1 || results[0].Triggered {
		t.Fatalf("expected no trigger above threshold, got %+v", results)
	}
}

func TestSyncErrorBuiltin(t *testing.T) {
	engine, _ := NewEngine()
	rule := &domain.AlertRule{ID: "r1", Kind: domain.AlertKindSyncError, IsActive: true}
	engine.LoadRules([]*domain.AlertRule{rule})

	event := &domain.SyncEvent{ID: "e1", Status: domain.SyncStatusFailed, ErrorMessage: "provider 500", CreatedAt: time.Now()}
	results, _ := engine.EvaluateAll(domain.AlertKindSyncError, &Input{Event: event})
	if len(results) != 1 || !results[0].Triggered || results[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected sync_error to trigger at warning severity, got %+v", results)
	}

	completed := &domain.SyncEvent{ID: "e2", Status: domain.SyncStatusCompleted}
	results, _ = engine.EvaluateAll(domain.AlertKindSyncError, &Input{Event: completed})
	if len(results) != 1 || results[0].Triggered {
		t.Fatalf("expected no trigger for a completed event, got %+v", results)
	}
}

func TestDriftDetectedBuiltinSeverityBands(t *testing.T) {
	engine, _ := NewEngine()
	rule := &domain.AlertRule{ID: "r1", Kind: domain.AlertKindDriftDetected, IsActive: true}
	engine.LoadRules([]*domain.AlertRule{rule})

	cases := []struct {
		driftPct float64
		want     domain.AlertSeverity
		trigger  bool
	}{
		{10, "", false},
		{15, domain.SeverityInfo, true},
		{25, domain.SeverityWarning, true},
		{50, domain.SeverityCritical, true},
	}
	for _, tc := range cases {
		results, err := engine.EvaluateAll(domain.AlertKindDriftDetected, &Input{DriftPct: tc.driftPct})
		if err != nil {
			t.Fatalf("EvaluateAll(%v): %v", tc.driftPct, err)
		}
		if len(results) != 1 {
			t.Fatalf("expected exactly one result for driftPct=%v, got %d", tc.driftPct, len(results))
		}
		if results[0].Triggered != tc.trigger {
			t.Errorf("driftPct=%v triggered=%v, want %v", tc.driftPct, results[0].Triggered, tc.trigger)
		}
		if tc.trigger && results[0].Severity != tc.want {
			t.Errorf("driftPct=%v severity=%q, want %q", tc.driftPct, results[0].Severity, tc.want)
		}
	}
}

func TestCELCondition(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rule := &domain.AlertRule{
		ID:         "r1",
		Kind:       domain.AlertKindLowStock,
		IsActive:   true,
		Conditions: `currentStock < 5 && bufferStock > 0`,
	}
	if err := engine.LoadRules([]*domain.AlertRule{rule}); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	product := &domain.Product{ID: "p1", CurrentStock: 2, BufferStock: 10}
	results, err := engine.EvaluateAll(domain.AlertKindLowStock, &Input{Product: product})
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(results) != 1 || !results[0].Triggered {
		t.Fatalf("expected CEL condition to trigger, got %+v", results)
	}
}

func TestCELConditionCompileError(t *testing.T) {
	engine, _ := NewEngine()
	rule := &domain.AlertRule{ID: "bad", Kind: domain.AlertKindLowStock, IsActive: true, Conditions: `currentStock <`}
	if err := engine.LoadRules([]*domain.AlertRule{rule}); err == nil {
		t.Error("expected compile error for malformed CEL expression")
	}
}

func TestScopedRuleSkipsOtherProducts(t *testing.T) {
	engine, _ := NewEngine()
	rule := &domain.AlertRule{ID: "r1", Kind: domain.AlertKindLowStock, IsActive: true, ProductID: "p-target"}
	engine.LoadRules([]*domain.AlertRule{rule})

	other := &domain.Product{ID: "p-other", CurrentStock: 0, BufferStock: 10}
	results, _ := engine.EvaluateAll(domain.AlertKindLowStock, &Input{Product: other})
	if len(results) != 0 {
		t.Errorf("expected scoped rule to skip a different product, got %+v", results)
	}

	target := &domain.Product{ID: "p-target", CurrentStock: 0, BufferStock: 10}
	results, _ = engine.EvaluateAll(domain.AlertKindLowStock, &Input{Product: target})
	if len(results) != 1 {
		t.Errorf("expected scoped rule to evaluate its target product, got %+v", results)
	}
}

func TestInactiveRulesNotLoaded(t *testing.T) {
	engine, _ := NewEngine()
	rule := &domain.AlertRule{ID: "r1", Kind: domain.AlertKindLowStock, IsActive: false}
	engine.LoadRules([]*domain.AlertRule{rule})
	if engine.RulesCount() != 0 {
		t.Errorf("RulesCount() = %d, want 0 for an inactive rule", engine.RulesCount())
	}
}
