// Package alertrules provides the CEL-Go based rule evaluation engine the
// Alert Agent uses to decide whether a rule fires.
package alertrules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

// Engine compiles and caches AlertRule.Conditions expressions, keyed by
// rule ID, so a tenant's rule set is recompiled only when it changes.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*compiledRule
}

type compiledRule struct {
	rule    *domain.AlertRule
	program cel.Program
}

// NewEngine builds a CEL environment over the product/event/channel
// variables a rule condition may reference.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("product", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("channel", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("currentStock", cel.IntType),
		cel.Variable("bufferStock", cel.IntType),
		cel.Variable("driftPct", cel.DoubleType),
		cel.Variable("consecutiveFailures", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*compiledRule),
	}, nil
}

// LoadRules compiles and loads every active rule, replacing the prior set.
// A rule with an empty Conditions is loaded without a program; Evaluate
// falls back to the rule kind's built-in threshold semantics for it.
func (e *Engine) LoadRules(rules []*domain.AlertRule) error {
	loaded := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		cr := &compiledRule{rule: rule}
		if rule.Conditions != "" {
			program, err := e.compile(rule)
			if err != nil {
				return err
			}
			cr.program = program
		}
		loaded[rule.ID] = cr
	}

	e.mu.Lock()
	e.compiledRules = loaded
	e.mu.Unlock()
	return nil
}

func (e *Engine) compile(rule *domain.AlertRule) (cel.Program, error) {
	ast, issues := e.env.Compile(rule.Conditions)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule %s: %w", rule.ID, issues.Err())
	}
	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: condition must return bool, int, or double, got %s", rule.ID, outputType)
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program for rule %s: %w", rule.ID, err)
	}
	return program, nil
}

// Input carries the state a loaded rule's condition (or built-in
// threshold fallback) is evaluated against.
type Input struct {
	Product             *domain.Product
	Event                *domain.SyncEvent
	Channel              *domain.Channel
	DriftPct             float64
	ConsecutiveFailures int
}

// Result is the outcome of evaluating one rule.
type Result struct {
	Rule      *domain.AlertRule
	Triggered bool
	Severity  domain.AlertSeverity
	Message   string
}

// EvaluateAll evaluates every loaded rule against input whose Kind matches
// the rule's Kind, skipping rules scoped to a different product or
// channel than the one in input.
func (e *Engine) EvaluateAll(kind domain.AlertKind, input *Input) ([]Result, error) {
	e.mu.RLock()
	rules := make([]*compiledRule, 0, len(e.compiledRules))
	for _, cr := range e.compiledRules {
		if cr.rule.Kind == kind {
			rules = append(rules, cr)
		}
	}
	e.mu.RUnlock()

	results := make([]Result, 0, len(rules))
	for _, cr := range rules {
		if !scopeMatches(cr.rule, input) {
			continue
		}
		res, err := e.evaluateOne(cr, input)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func scopeMatches(rule *domain.AlertRule, input *Input) bool {
	if rule.ProductID != "" && (input.Product == nil || input.Product.ID != rule.ProductID) {
		return false
	}
	if rule.ChannelID != "" && (input.Channel == nil || input.Channel.ID != rule.ChannelID) {
		return false
	}
	return true
}

func (e *Engine) evaluateOne(cr *compiledRule, input *Input) (Result, error) {
	if cr.program != nil {
		return e.evaluateCondition(cr, input)
	}
	return evaluateBuiltin(cr.rule, input), nil
}

func (e *Engine) evaluateCondition(cr *compiledRule, input *Input) (Result, error) {
	activation := activationFor(input)
	out, _, err := cr.program.Eval(activation)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate rule %s: %w", cr.rule.ID, err)
	}

	triggered := toBool(out)
	severity := domain.SeverityWarning
	if !triggered {
		severity = ""
	}
	return Result{
		Rule:      cr.rule,
		Triggered: triggered,
		Severity:  severity,
		Message:   conditionMessage(cr.rule),
	}, nil
}

func activationFor(input *Input) map[string]any {
	activation := map[string]any{
		"product":             map[string]any{},
		"event":               map[string]any{},
		"channel":             map[string]any{},
		"currentStock":        int64(0),
		"bufferStock":         int64(0),
		"driftPct":            input.DriftPct,
		"consecutiveFailures": int64(input.ConsecutiveFailures),
	}
	if input.Product != nil {
		activation["product"] = map[string]any{
			"id":           input.Product.ID,
			"sku":          input.Product.SKU,
			"name":         input.Product.Name,
			"currentStock": int64(input.Product.CurrentStock),
			"bufferStock":  int64(input.Product.BufferStock),
		}
		activation["currentStock"] = int64(input.Product.CurrentStock)
		activation["bufferStock"] = int64(input.Product.BufferStock)
	}
	if input.Event != nil {
		activation["event"] = map[string]any{
			"eventType": string(input.Event.EventType),
			"status":    string(input.Event.Status),
			"channelId": input.Event.ChannelID,
			"productId": input.Event.ProductID,
		}
	}
	if input.Channel != nil {
		activation["channel"] = map[string]any{
			"id":       input.Channel.ID,
			"kind":     string(input.Channel.Kind),
			"isActive": input.Channel.IsActive,
		}
	}
	return activation
}

func toBool(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) != 0
	case types.Int:
		return int64(v) != 0
	default:
		return false
	}
}

func conditionMessage(rule *domain.AlertRule) string {
	return fmt.Sprintf("rule %s condition matched", rule.ID)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}
