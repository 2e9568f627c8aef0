// Package tracker computes the blast radius of a change. Given the symbols
// that changed, it finds their direct callers and enclosing classes and
// invalidates the summaries of the whole affected set, so regeneration later
// covers everything the change could have shifted.
package tracker

import (
	"context"
	"sort"

	"ariadne/internal/graph"
	"ariadne/internal/logging"
)

// AffectedSymbols is the result of one dependency walk. TotalSet is the
// deduplicated union of Changed and Dependents; StaleMarked counts the
// summaries actually flipped, which on a second identical call is zero.
type AffectedSymbols struct {
	Changed     []string `json:"changed"`
	Dependents  []string `json:"dependents"`
	TotalSet    []string `json:"total_set"`
	StaleMarked int64    `json:"stale_marked"`
}

// Tracker walks call edges and containment to find dependents.
type Tracker struct {
	mgr *graph.Manager
}

// New creates a tracker over the live database.
func New(mgr *graph.Manager) *Tracker {
	return &Tracker{mgr: mgr}
}

// GetAffectedSymbols returns the changed symbols plus every direct caller
// and every enclosing class, and marks the whole set's summaries stale.
// Dependents one hop out is deliberate: transitive callers keep fresh
// summaries as long as their direct callees' contracts read the same.
func (t *Tracker) GetAffectedSymbols(ctx context.Context, changed []string) (AffectedSymbols, error) {
	timer := logging.StartTimer(logging.CategoryTracker, "GetAffectedSymbols")
	defer timer.Stop()

	result := AffectedSymbols{Changed: dedupe(changed)}
	if len(result.Changed) == 0 {
		return result, nil
	}

	st, release := t.mgr.Acquire()
	defer release()

	callers, err := st.DirectCallersOf(ctx, result.Changed)
	if err != nil {
		return result, err
	}
	parents, err := st.ParentsOf(ctx, result.Changed)
	if err != nil {
		return result, err
	}

	inChanged := map[string]struct{}{}
	for _, fqn := range result.Changed {
		inChanged[fqn] = struct{}{}
	}
	depSet := map[string]struct{}{}
	for _, fqn := range append(callers, parents...) {
		if _, ok := inChanged[fqn]; ok {
			continue
		}
		depSet[fqn] = struct{}{}
	}
	for fqn := range depSet {
		result.Dependents = append(result.Dependents, fqn)
	}
	sort.Strings(result.Dependents)

	result.TotalSet = append(append([]string{}, result.Changed...), result.Dependents...)
	sort.Strings(result.TotalSet)

	marked, err := st.MarkSummariesStale(ctx, result.TotalSet)
	if err != nil {
		return result, err
	}
	result.StaleMarked = marked

	logging.Get(logging.CategoryTracker).Infow("affected set computed",
		"changed", len(result.Changed),
		"dependents", len(result.Dependents),
		"stale_marked", marked)
	return result, nil
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
