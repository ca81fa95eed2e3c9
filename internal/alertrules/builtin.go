package alertrules

import (
	"fmt"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

const (
	defaultDriftPercentageThreshold = 15.0
)

// evaluateBuiltin applies the default threshold formula for rule.Kind when
// the rule carries no CEL Conditions (spec.md §4.5).
func evaluateBuiltin(rule *domain.AlertRule, input *Input) Result {
	switch rule.Kind {
	case domain.AlertKindLowStock:
		return evaluateLowStock(rule, input)
	case domain.AlertKindSyncError:
		return evaluateSyncError(rule, input)
	case domain.AlertKindChannelDisconnected:
		return Result{Rule: rule, Triggered: true, Severity: domain.SeverityCritical,
			Message: "channel disconnected after persistent failures"}
	case domain.AlertKindDriftDetected:
		return evaluateDriftDetected(rule, input)
	default:
		return Result{Rule: rule}
	}
}

func evaluateLowStock(rule *domain.AlertRule, input *Input) Result {
	if input.Product == nil {
		return Result{Rule: rule}
	}

	threshold := input.Product.BufferStock
	if rule.Threshold != nil {
		threshold = *rule.Threshold
	}

	stock := input.Product.CurrentStock
	if stock > threshold {
		return Result{Rule: rule}
	}

	severity := domain.SeverityInfo
	switch {
	case stock <= 0:
		severity = domain.SeverityCritical
	case stock <= threshold/2:
		severity = domain.SeverityWarning
	}

	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  severity,
		Message:   fmt.Sprintf("product %s stock at %d, at or below threshold %d", input.Product.SKU, stock, threshold),
	}
}

func evaluateSyncError(rule *domain.AlertRule, input *Input) Result {
	if input.Event == nil || input.Event.Status != domain.SyncStatusFailed {
		return Result{Rule: rule}
	}
	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  domain.SeverityWarning,
		Message:   fmt.Sprintf("sync event %s failed: %s", input.Event.ID, input.Event.ErrorMessage),
	}
}

func evaluateDriftDetected(rule *domain.AlertRule, input *Input) Result {
	threshold := defaultDriftPercentageThreshold
	if rule.PercentageThreshold != nil {
		threshold = *rule.PercentageThreshold
	}

	if input.DriftPct < threshold {
		return Result{Rule: rule}
	}

	severity := domain.SeverityInfo
	switch {
	case input.DriftPct >= 50:
		severity = domain.SeverityCritical
	case input.DriftPct >= 25:
		severity = domain.SeverityWarning
	}

	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  severity,
		Message:   fmt.Sprintf("drift %.1f%% at or above threshold %.1f%%", input.DriftPct, threshold),
	}
}
