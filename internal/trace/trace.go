// Package trace follows a call chain forward from an entry point, annotating
// each hop with its architectural layer and the external infrastructure it
// touches.
package trace

import (
	"context"
	"sort"
	"strings"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
	"ariadne/internal/logging"
)

// Request selects the starting point: either an HTTP route or an FQN.
type Request struct {
	HTTPMethod string `json:"http_method,omitempty"`
	HTTPPath   string `json:"http_path,omitempty"`
	FQN        string `json:"fqn,omitempty"`
	MaxDepth   int    `json:"max_depth,omitempty"`
}

// Hop is one resolved step of the chain.
type Hop struct {
	Depth    int    `json:"depth"`
	FromFQN  string `json:"from_fqn"`
	ToFQN    string `json:"to_fqn"`
	ToLayer  string `json:"to_layer"`
	External bool   `json:"external"` // callee absent from the symbol table
}

// Chain is the full trace.
type Chain struct {
	EntryFQN     string                     `json:"entry_fqn"`
	EntryPoint   *graph.EntryPoint          `json:"entry_point,omitempty"`
	Hops         []Hop                      `json:"hops"`
	Dependencies []graph.ExternalDependency `json:"dependencies,omitempty"`
}

// Tracer resolves chains against the live graph.
type Tracer struct {
	mgr *graph.Manager
}

// New creates a tracer.
func New(mgr *graph.Manager) *Tracer {
	return &Tracer{mgr: mgr}
}

const defaultMaxDepth = 10

// Trace resolves the request to an entry symbol and walks its forward call
// chain. A request naming an HTTP route that no entry point matches, or an
// FQN absent from the graph, returns NotFound.
func (t *Tracer) Trace(ctx context.Context, req Request) (Chain, error) {
	timer := logging.StartTimer(logging.CategoryTrace, "Trace")
	defer timer.Stop()

	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	st, release := t.mgr.Acquire()
	defer release()

	var chain Chain
	switch {
	case req.HTTPPath != "":
		method := req.HTTPMethod
		if method == "" {
			method = "GET"
		}
		ep, err := st.FindEntryPointByHTTP(ctx, method, req.HTTPPath)
		if err != nil {
			return chain, err
		}
		chain.EntryFQN = ep.SymbolFQN
		chain.EntryPoint = &ep
	case req.FQN != "":
		if _, err := st.GetSymbol(ctx, req.FQN); err != nil {
			return chain, err
		}
		chain.EntryFQN = req.FQN
		if eps, err := st.EntryPointsFor(ctx, []string{req.FQN}); err == nil && len(eps) > 0 {
			chain.EntryPoint = &eps[0]
		}
	default:
		return chain, apperr.New(apperr.KindInvalidArgument, "trace request needs an http path or an fqn")
	}

	rows, err := st.CallChain(ctx, chain.EntryFQN, maxDepth)
	if err != nil {
		return chain, err
	}

	// Resolve every participant in one batch for layer annotation.
	seen := map[string]struct{}{chain.EntryFQN: {}}
	fqns := []string{chain.EntryFQN}
	for _, row := range rows {
		for _, fqn := range []string{row.FromFQN, row.ToFQN} {
			if _, ok := seen[fqn]; !ok {
				seen[fqn] = struct{}{}
				fqns = append(fqns, fqn)
			}
		}
	}
	syms, err := st.GetSymbols(ctx, fqns)
	if err != nil {
		return chain, err
	}

	for _, row := range rows {
		hop := Hop{Depth: row.Depth, FromFQN: row.FromFQN, ToFQN: row.ToFQN}
		if sym, ok := syms[row.ToFQN]; ok {
			hop.ToLayer = layerOf(syms, sym)
		} else {
			hop.External = true
			hop.ToLayer = graph.LayerUnknown
		}
		chain.Hops = append(chain.Hops, hop)
	}

	deps, err := st.DependenciesForCallers(ctx, fqns)
	if err != nil {
		return chain, err
	}
	chain.Dependencies = dedupeByTarget(deps)

	logging.Get(logging.CategoryTrace).Infow("chain traced",
		"entry", chain.EntryFQN, "hops", len(chain.Hops), "dependencies", len(chain.Dependencies))
	return chain, nil
}

// layerOf derives a method's layer from its enclosing class when the method
// itself carries no layer annotations.
func layerOf(syms map[string]graph.Symbol, sym graph.Symbol) string {
	if layer := graph.DeriveLayer(sym); layer != graph.LayerUnknown {
		return layer
	}
	if sym.ParentFQN != "" {
		if parent, ok := syms[sym.ParentFQN]; ok {
			return graph.DeriveLayer(parent)
		}
	}
	return graph.LayerUnknown
}

// dedupeByTarget keeps one dependency per (type, target), preferring strong
// over weak.
func dedupeByTarget(deps []graph.ExternalDependency) []graph.ExternalDependency {
	byKey := map[string]graph.ExternalDependency{}
	for _, d := range deps {
		key := d.Type + "\x00" + d.Target
		if prev, ok := byKey[key]; ok && !(prev.Strength == "weak" && d.Strength == "strong") {
			continue
		}
		byKey[key] = d
	}
	out := make([]graph.ExternalDependency, 0, len(byKey))
	for _, d := range byKey {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// DescribeChain renders a chain as text, one hop per line, for CLI output.
func DescribeChain(chain Chain) string {
	var b strings.Builder
	b.WriteString(chain.EntryFQN)
	if chain.EntryPoint != nil && chain.EntryPoint.HTTPPath != "" {
		b.WriteString(" [" + chain.EntryPoint.HTTPMethod + " " + chain.EntryPoint.HTTPPath + "]")
	}
	b.WriteString("\n")
	for _, hop := range chain.Hops {
		b.WriteString(strings.Repeat("  ", hop.Depth+1))
		b.WriteString("-> " + hop.ToFQN)
		if hop.External {
			b.WriteString(" (external)")
		} else if hop.ToLayer != graph.LayerUnknown {
			b.WriteString(" (" + hop.ToLayer + ")")
		}
		b.WriteString("\n")
	}
	for _, dep := range chain.Dependencies {
		b.WriteString("uses " + dep.Type + ": " + dep.Target + "\n")
	}
	return b.String()
}
