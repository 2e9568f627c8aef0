// Package impact answers "what breaks if this changes": reverse callers up
// to a depth, the entry points that reach the target, which of the impacted
// classes have tests, and a risk score aggregated from all three.
package impact

import (
	"context"
	"sort"
	"strings"

	"ariadne/internal/graph"
	"ariadne/internal/logging"
)

// Risk levels.
const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
	RiskLow      = "LOW"
)

// TestLocator resolves the tests exercising a class. The testmap package is
// the production implementation.
type TestLocator interface {
	TestsForClass(classFQN string) []string
}

// ImpactedSymbol is one reverse caller, resolved against the symbol table.
type ImpactedSymbol struct {
	FQN   string `json:"fqn"`
	Depth int    `json:"depth"`
	Kind  string `json:"kind,omitempty"`
	Name  string `json:"name,omitempty"`
	Layer string `json:"layer,omitempty"`
}

// Analysis is the full impact report for one target.
type Analysis struct {
	TargetFQN       string              `json:"target_fqn"`
	RiskScore       int                 `json:"risk_score"`
	RiskLevel       string              `json:"risk_level"`
	Confidence      float64             `json:"confidence"`
	Callers         []ImpactedSymbol    `json:"callers"`
	EntryPoints     []graph.EntryPoint  `json:"entry_points"`
	CoveredClasses  map[string][]string `json:"covered_classes"`
	MissingCoverage []string            `json:"missing_coverage"`
}

// Analyzer walks the graph backwards from a target.
type Analyzer struct {
	mgr   *graph.Manager
	tests TestLocator
}

// New creates an analyzer. tests may be nil, in which case coverage is
// reported as entirely missing.
func New(mgr *graph.Manager, tests TestLocator) *Analyzer {
	return &Analyzer{mgr: mgr, tests: tests}
}

// Analyze computes the impact of changing target. depth bounds the reverse
// walk; includeTransitive=false caps it at direct callers regardless.
// includeTests=false drops test classes from the caller list before scoring.
func (a *Analyzer) Analyze(ctx context.Context, target string, depth int, includeTests, includeTransitive bool) (Analysis, error) {
	timer := logging.StartTimer(logging.CategoryImpact, "Analyze")
	defer timer.Stop()

	if depth <= 0 {
		depth = 5
	}
	if !includeTransitive {
		depth = 1
	}

	st, release := a.mgr.Acquire()
	defer release()

	if _, err := st.GetSymbol(ctx, target); err != nil {
		return Analysis{}, err
	}
	result := Analysis{TargetFQN: target, CoveredClasses: map[string][]string{}}

	rows, err := st.ReverseCallers(ctx, target, depth)
	if err != nil {
		return result, err
	}

	// Nearest depth per caller FQN; the traversal already dedupes edges but
	// one FQN can appear at several depths through different paths.
	depthOf := map[string]int{}
	for _, row := range rows {
		if d, ok := depthOf[row.FromFQN]; !ok || row.Depth+1 < d {
			depthOf[row.FromFQN] = row.Depth + 1
		}
	}
	callerFQNs := make([]string, 0, len(depthOf))
	for fqn := range depthOf {
		callerFQNs = append(callerFQNs, fqn)
	}
	sort.Strings(callerFQNs)

	syms, err := st.GetSymbols(ctx, callerFQNs)
	if err != nil {
		return result, err
	}
	for _, fqn := range callerFQNs {
		imp := ImpactedSymbol{FQN: fqn, Depth: depthOf[fqn]}
		if sym, ok := syms[fqn]; ok {
			imp.Kind = sym.Kind
			imp.Name = sym.Name
			imp.Layer = graph.DeriveLayer(sym)
		}
		if !includeTests && isTestFQN(fqn) {
			continue
		}
		result.Callers = append(result.Callers, imp)
	}
	sort.Slice(result.Callers, func(i, j int) bool {
		if result.Callers[i].Depth != result.Callers[j].Depth {
			return result.Callers[i].Depth < result.Callers[j].Depth
		}
		return result.Callers[i].FQN < result.Callers[j].FQN
	})

	// Entry points reachable from the affected set, target included.
	entryCandidates := append([]string{target}, callerFQNs...)
	result.EntryPoints, err = st.EntryPointsFor(ctx, entryCandidates)
	if err != nil {
		return result, err
	}

	a.resolveCoverage(&result, syms, target)
	a.score(&result)

	logging.Get(logging.CategoryImpact).Infow("impact analyzed",
		"target", target, "callers", len(result.Callers),
		"entry_points", len(result.EntryPoints),
		"risk", result.RiskLevel, "score", result.RiskScore)
	return result, nil
}

// resolveCoverage maps each impacted class to its tests. The impacted
// classes are the enclosing classes of the callers plus the target's class.
func (a *Analyzer) resolveCoverage(result *Analysis, syms map[string]graph.Symbol, target string) {
	classes := map[string]struct{}{enclosingClass(syms, target): {}}
	for _, caller := range result.Callers {
		classes[enclosingClass(syms, caller.FQN)] = struct{}{}
	}
	delete(classes, "")

	for class := range classes {
		var tests []string
		if a.tests != nil {
			tests = a.tests.TestsForClass(class)
		}
		if len(tests) > 0 {
			result.CoveredClasses[class] = tests
		} else {
			result.MissingCoverage = append(result.MissingCoverage, class)
		}
	}
	sort.Strings(result.MissingCoverage)
}

// score aggregates fan-in, entry-point exposure and coverage gaps into a
// 0-100 score with banded levels.
func (a *Analyzer) score(result *Analysis) {
	score := 0

	switch n := len(result.Callers); {
	case n == 0:
	case n <= 5:
		score += 10
	case n <= 10:
		score += 20
	default:
		score += 30
	}

	switch n := len(result.EntryPoints); {
	case n == 0:
	case n == 1:
		score += 30
	case n == 2:
		score += 40
	default:
		score += 50
	}

	total := len(result.CoveredClasses) + len(result.MissingCoverage)
	if total > 0 {
		switch missing := len(result.MissingCoverage); {
		case missing == 0:
		case missing == total:
			score += 20
		case missing*2 >= total:
			score += 15
		default:
			score += 10
		}
	}

	result.RiskScore = score
	switch {
	case score >= 70:
		result.RiskLevel = RiskCritical
	case score >= 50:
		result.RiskLevel = RiskHigh
	case score >= 30:
		result.RiskLevel = RiskMedium
	default:
		result.RiskLevel = RiskLow
	}

	testCount := 0
	for _, tests := range result.CoveredClasses {
		testCount += len(tests)
	}
	confidence := 0.5 + min(0.05*float64(len(result.Callers)), 0.3) + min(0.1*float64(testCount), 0.2)
	if confidence > 1.0 {
		confidence = 1.0
	}
	result.Confidence = confidence
}

// enclosingClass resolves a method FQN to its class, preferring the symbol
// table over string surgery.
func enclosingClass(syms map[string]graph.Symbol, fqn string) string {
	if sym, ok := syms[fqn]; ok {
		if sym.Kind == graph.KindClass || sym.Kind == graph.KindInterface {
			return fqn
		}
		if sym.ParentFQN != "" {
			return sym.ParentFQN
		}
	}
	if i := strings.LastIndex(fqn, "."); i > 0 {
		return fqn[:i]
	}
	return fqn
}

func isTestFQN(fqn string) bool {
	class := fqn
	if i := strings.LastIndex(class, "."); i > 0 && !startsUpper(class[i+1:]) {
		class = class[:i] // strip the method segment
	}
	return strings.HasSuffix(class, "Test") || strings.HasSuffix(class, "Tests") || strings.HasSuffix(class, "IT")
}

func startsUpper(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}
