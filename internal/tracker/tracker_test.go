package tracker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariadne/internal/graph"
)

func newTestTracker(t *testing.T) (*Tracker, *graph.Manager) {
	t.Helper()
	mgr, err := graph.NewManager(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return New(mgr), mgr
}

func seedGraph(t *testing.T, mgr *graph.Manager) {
	t.Helper()
	ctx := context.Background()
	st, release := mgr.Acquire()
	defer release()

	syms := []graph.Symbol{
		{FQN: "com.a.Svc", Kind: graph.KindClass, Name: "Svc"},
		{FQN: "com.a.Svc.changed", Kind: graph.KindMethod, Name: "changed", ParentFQN: "com.a.Svc"},
		{FQN: "com.a.Caller", Kind: graph.KindClass, Name: "Caller"},
		{FQN: "com.a.Caller.call", Kind: graph.KindMethod, Name: "call", ParentFQN: "com.a.Caller"},
		{FQN: "com.a.Far", Kind: graph.KindClass, Name: "Far"},
		{FQN: "com.a.Far.far", Kind: graph.KindMethod, Name: "far", ParentFQN: "com.a.Far"},
	}
	require.NoError(t, st.InsertSymbols(ctx, syms))
	require.NoError(t, st.InsertEdges(ctx, []graph.Edge{
		{FromFQN: "com.a.Caller.call", ToFQN: "com.a.Svc.changed", Relation: graph.RelationCalls},
		{FromFQN: "com.a.Far.far", ToFQN: "com.a.Caller.call", Relation: graph.RelationCalls},
	}))

	for _, fqn := range []string{"com.a.Svc", "com.a.Svc.changed", "com.a.Caller.call", "com.a.Far.far"} {
		_, err := st.DB().Exec(`
			INSERT INTO summaries (target_fqn, level, summary_text, is_stale, created_at, updated_at)
			VALUES (?,?,?,0,'2026-01-01T00:00:00Z','2026-01-01T00:00:00Z')`,
			fqn, graph.LevelMethod, "fresh")
		require.NoError(t, err)
	}
}

func TestAffectedSetIsCallersPlusParents(t *testing.T) {
	tr, mgr := newTestTracker(t)
	seedGraph(t, mgr)

	got, err := tr.GetAffectedSymbols(context.Background(), []string{"com.a.Svc.changed"})
	require.NoError(t, err)

	assert.Equal(t, []string{"com.a.Svc.changed"}, got.Changed)
	// One hop only: the enclosing class and the direct caller, not com.a.Far.far.
	assert.Equal(t, []string{"com.a.Caller.call", "com.a.Svc"}, got.Dependents)
	assert.Equal(t, []string{"com.a.Caller.call", "com.a.Svc", "com.a.Svc.changed"}, got.TotalSet)
	assert.Equal(t, int64(3), got.StaleMarked)
}

func TestSecondCallIsIdempotent(t *testing.T) {
	tr, mgr := newTestTracker(t)
	seedGraph(t, mgr)
	ctx := context.Background()

	first, err := tr.GetAffectedSymbols(ctx, []string{"com.a.Svc.changed"})
	require.NoError(t, err)
	second, err := tr.GetAffectedSymbols(ctx, []string{"com.a.Svc.changed"})
	require.NoError(t, err)

	assert.Equal(t, first.TotalSet, second.TotalSet)
	// Already stale, so nothing flips the second time.
	assert.Zero(t, second.StaleMarked)
}

func TestEmptyChangeSetIsNoop(t *testing.T) {
	tr, _ := newTestTracker(t)
	got, err := tr.GetAffectedSymbols(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got.TotalSet)
	assert.Zero(t, got.StaleMarked)
}

func TestChangedSymbolWithoutEdgesStandsAlone(t *testing.T) {
	tr, mgr := newTestTracker(t)
	ctx := context.Background()

	st, release := mgr.Acquire()
	require.NoError(t, st.InsertSymbols(ctx, []graph.Symbol{
		{FQN: "com.x.Lone", Kind: graph.KindClass, Name: "Lone"},
	}))
	release()

	got, err := tr.GetAffectedSymbols(ctx, []string{"com.x.Lone"})
	require.NoError(t, err)
	assert.Empty(t, got.Dependents)
	assert.Equal(t, []string{"com.x.Lone"}, got.TotalSet)
}
