// Package rules runs architectural checks over the graph. Rules are
// registered with the engine; each detection pass replaces the rule's
// previous findings so stale violations disappear once fixed.
package rules

import (
	"context"
	"sort"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
	"ariadne/internal/logging"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Rule is one architectural check.
type Rule interface {
	ID() string
	Severity() string
	Description() string
	Detect(ctx context.Context, st *graph.Store) ([]graph.AntiPattern, error)
}

// Info describes a registered rule for listings.
type Info struct {
	ID          string `json:"id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Engine holds the rule registry.
type Engine struct {
	mgr   *graph.Manager
	rules map[string]Rule
	order []string
}

// NewEngine creates an engine with the built-in rules registered.
func NewEngine(mgr *graph.Manager) *Engine {
	e := &Engine{mgr: mgr, rules: map[string]Rule{}}
	e.Register(&controllerDAORule{})
	return e
}

// Register adds a rule. Re-registering an ID replaces the previous rule.
func (e *Engine) Register(r Rule) {
	if _, ok := e.rules[r.ID()]; !ok {
		e.order = append(e.order, r.ID())
	}
	e.rules[r.ID()] = r
}

// ListRules returns registered rules in registration order.
func (e *Engine) ListRules() []Info {
	out := make([]Info, 0, len(e.order))
	for _, id := range e.order {
		r := e.rules[id]
		out = append(out, Info{ID: r.ID(), Severity: r.Severity(), Description: r.Description()})
	}
	return out
}

// DetectAll runs every rule and persists the findings, replacing each rule's
// previous ones. Returns all findings, grouped in registration order.
func (e *Engine) DetectAll(ctx context.Context) ([]graph.AntiPattern, error) {
	var all []graph.AntiPattern
	for _, id := range e.order {
		found, err := e.DetectByRule(ctx, id)
		if err != nil {
			return all, err
		}
		all = append(all, found...)
	}
	return all, nil
}

// DetectByRule runs one rule by ID and persists its findings.
func (e *Engine) DetectByRule(ctx context.Context, ruleID string) ([]graph.AntiPattern, error) {
	r, ok := e.rules[ruleID]
	if !ok {
		return nil, apperr.New(apperr.KindInvalidArgument, "unknown rule %q", ruleID)
	}
	timer := logging.StartTimer(logging.CategoryRules, "DetectByRule")
	defer timer.Stop()

	st, release := e.mgr.Acquire()
	defer release()

	found, err := r.Detect(ctx, st)
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].FromFQN != found[j].FromFQN {
			return found[i].FromFQN < found[j].FromFQN
		}
		return found[i].ToFQN < found[j].ToFQN
	})
	if err := st.ReplaceAntiPatterns(ctx, ruleID, found); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryRules).Infow("rule evaluated", "rule", ruleID, "findings", len(found))
	return found, nil
}

// Findings returns persisted findings, optionally filtered.
func (e *Engine) Findings(ctx context.Context, ruleID, severity string) ([]graph.AntiPattern, error) {
	st, release := e.mgr.Acquire()
	defer release()
	return st.ListAntiPatterns(ctx, ruleID, severity)
}
