package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mustInsertSymbols(t *testing.T, st *Store, syms ...Symbol) {
	t.Helper()
	require.NoError(t, st.InsertSymbols(context.Background(), syms))
}

func classSym(fqn string, annotations ...string) Symbol {
	name := fqn
	if i := lastDot(fqn); i >= 0 {
		name = fqn[i+1:]
	}
	return Symbol{FQN: fqn, Kind: KindClass, Name: name, Annotations: annotations}
}

func methodSym(fqn, parent string) Symbol {
	name := fqn
	if i := lastDot(fqn); i >= 0 {
		name = fqn[i+1:]
	}
	return Symbol{FQN: fqn, Kind: KindMethod, Name: name, ParentFQN: parent}
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func TestSymbolUpsertIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sym := Symbol{FQN: "com.a.B", Kind: KindClass, Name: "B", FilePath: "com/a/B.java"}
	mustInsertSymbols(t, st, sym)
	first, err := st.GetSymbol(ctx, "com.a.B")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	mustInsertSymbols(t, st, sym)

	n, err := st.SymbolCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	second, err := st.GetSymbol(ctx, "com.a.B")
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "updated_at must advance on re-upsert")
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "created_at must be preserved")
}

func TestCascadeDeleteSymbolRemovesEdges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustInsertSymbols(t, st, classSym("A"), methodSym("A.m", "A"))
	require.NoError(t, st.InsertEdges(ctx, []Edge{{FromFQN: "A.m", ToFQN: "A", Relation: RelationCalls}}))

	require.NoError(t, st.DeleteSymbol(ctx, "A.m"))

	edges, err := st.EdgeCount(ctx, "A.m", "")
	require.NoError(t, err)
	assert.Zero(t, edges)

	n, err := st.SymbolCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCascadeDeleteDependentTables(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustInsertSymbols(t, st, classSym("com.a.Svc"))
	require.NoError(t, st.UpsertEntryPoints(ctx, []EntryPoint{{SymbolFQN: "com.a.Svc", Type: EntryHTTPAPI, HTTPMethod: "GET", HTTPPath: "/v"}}))
	require.NoError(t, st.UpsertExternalDependencies(ctx, []ExternalDependency{{CallerFQN: "com.a.Svc", Type: "mysql", Target: "orders"}}))
	require.NoError(t, st.UpsertGlossaryEntry(ctx, GlossaryEntry{CodeTerm: "Svc", BusinessMeaning: "service", SourceFQN: "com.a.Svc"}))
	require.NoError(t, st.UpsertConstraint(ctx, Constraint{Name: "c1", Description: "d", Type: "invariant", SourceFQN: "com.a.Svc"}))

	require.NoError(t, st.DeleteSymbol(ctx, "com.a.Svc"))

	eps, err := st.EntryPointsFor(ctx, []string{"com.a.Svc"})
	require.NoError(t, err)
	assert.Empty(t, eps)

	deps, err := st.DependenciesForCallers(ctx, []string{"com.a.Svc"})
	require.NoError(t, err)
	assert.Empty(t, deps)

	// Glossary and constraint rows survive with source nulled.
	g, err := st.GetGlossaryEntry(ctx, "Svc")
	require.NoError(t, err)
	assert.Empty(t, g.SourceFQN)

	c, err := st.GetConstraint(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, c.SourceFQN)
}

func TestCleanByFileCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := classSym("com.f.A")
	a.FilePath = "com/f/A.java"
	b := classSym("com.f.B")
	b.FilePath = "com/f/B.java"
	mustInsertSymbols(t, st, a, b)
	require.NoError(t, st.InsertEdges(ctx, []Edge{
		{FromFQN: "com.f.A", ToFQN: "com.f.B", Relation: RelationCalls},
		{FromFQN: "com.f.B", ToFQN: "com.f.A", Relation: RelationCalls},
	}))

	n, err := st.CleanByFile(ctx, "com/f/A.java")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	edges, err := st.EdgeCount(ctx, "com.f.A", "")
	require.NoError(t, err)
	assert.Zero(t, edges, "no edge may keep a removed FQN on either side")
}

func TestForwardTraversalDepths(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustInsertSymbols(t, st, classSym("A"), classSym("B"), classSym("C"), classSym("D"))
	require.NoError(t, st.InsertEdges(ctx, []Edge{
		{FromFQN: "A", ToFQN: "B", Relation: RelationCalls},
		{FromFQN: "B", ToFQN: "C", Relation: RelationCalls},
		{FromFQN: "C", ToFQN: "D", Relation: RelationCalls},
	}))

	chain, err := st.CallChain(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i, want := range []ChainRow{
		{Depth: 0, FromFQN: "A", ToFQN: "B", Relation: RelationCalls},
		{Depth: 1, FromFQN: "B", ToFQN: "C", Relation: RelationCalls},
		{Depth: 2, FromFQN: "C", ToFQN: "D", Relation: RelationCalls},
	} {
		assert.Equal(t, want, chain[i])
	}
}

func TestTraversalDepthZeroIsEmpty(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustInsertSymbols(t, st, classSym("A"), classSym("B"))
	require.NoError(t, st.InsertEdges(ctx, []Edge{{FromFQN: "A", ToFQN: "B", Relation: RelationCalls}}))

	chain, err := st.CallChain(ctx, "A", 0)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestTraversalHandlesCycles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustInsertSymbols(t, st, classSym("A"), classSym("B"))
	require.NoError(t, st.InsertEdges(ctx, []Edge{
		{FromFQN: "A", ToFQN: "B", Relation: RelationCalls},
		{FromFQN: "B", ToFQN: "A", Relation: RelationCalls},
	}))

	chain, err := st.CallChain(ctx, "A", 50)
	require.NoError(t, err)
	// Dedup is over (from, to, relation): exactly the two edges.
	assert.Len(t, chain, 2)
}

func TestReverseCallers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustInsertSymbols(t, st, classSym("A"), classSym("B"), classSym("C"))
	require.NoError(t, st.InsertEdges(ctx, []Edge{
		{FromFQN: "A", ToFQN: "B", Relation: RelationCalls},
		{FromFQN: "B", ToFQN: "C", Relation: RelationCalls},
	}))

	rows, err := st.ReverseCallers(ctx, "C", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ChainRow{Depth: 0, FromFQN: "B", ToFQN: "C", Relation: RelationCalls}, rows[0])
	assert.Equal(t, ChainRow{Depth: 1, FromFQN: "A", ToFQN: "B", Relation: RelationCalls}, rows[1])
}

func TestEdgesMayReferenceExternalFQNs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustInsertSymbols(t, st, classSym("com.a.Internal"))
	// The store never rejects edges to unknown targets.
	require.NoError(t, st.InsertEdges(ctx, []Edge{
		{FromFQN: "com.a.Internal", ToFQN: "org.apache.commons.lang3.StringUtils.isBlank", Relation: RelationCalls},
	}))

	chain, err := st.CallChain(ctx, "com.a.Internal", 5)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestMarkSummariesStaleFlipsExactIntersection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustInsertSymbols(t, st, classSym("X"), classSym("Y"))
	seedSummary(t, st, "X", "does X things", false)
	seedSummary(t, st, "Y", "does Y things", false)

	flipped, err := st.MarkSummariesStale(ctx, []string{"X", "Y", "Z", "W"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), flipped)

	stale, err := st.SummaryStaleness(ctx, []string{"X", "Y"})
	require.NoError(t, err)
	assert.True(t, stale["X"])
	assert.True(t, stale["Y"])
}

func TestRelatedSymbolsDirections(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustInsertSymbols(t, st, classSym("A"), classSym("B"), classSym("C"))
	require.NoError(t, st.InsertEdges(ctx, []Edge{
		{FromFQN: "A", ToFQN: "B", Relation: RelationCalls},
		{FromFQN: "C", ToFQN: "A", Relation: RelationInherits},
	}))

	out, err := st.RelatedSymbols(ctx, "A", "", "outgoing")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Symbol.FQN)

	in, err := st.RelatedSymbols(ctx, "A", RelationInherits, "incoming")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "C", in[0].Symbol.FQN)

	both, err := st.RelatedSymbols(ctx, "A", "", "both")
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = st.RelatedSymbols(ctx, "A", "", "sideways")
	assert.Error(t, err)
}

func TestLargeBatchInsertAndStaleness(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const n = 1200 // forces several IN-clause chunks
	syms := make([]Symbol, 0, n)
	fqns := make([]string, 0, n)
	for i := 0; i < n; i++ {
		fqn := fmt.Sprintf("com.big.C%04d", i)
		syms = append(syms, classSym(fqn))
		fqns = append(fqns, fqn)
	}
	mustInsertSymbols(t, st, syms...)

	got, err := st.GetSymbols(ctx, fqns)
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestIntegrityAndFKChecksOnFreshDB(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.IntegrityCheck(ctx))
	n, err := st.ForeignKeyCheck(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeriveLayer(t *testing.T) {
	cases := []struct {
		sym  Symbol
		want string
	}{
		{classSym("a.UserController", "@RestController"), LayerController},
		{classSym("a.LegacyController", "@org.springframework.stereotype.Controller"), LayerController},
		{classSym("a.UserService", "@Service"), LayerService},
		{classSym("a.UserMapper", "@Repository"), LayerRepository},
		{classSym("a.Order"), LayerDomain},
		{methodSym("a.Order.total", "a.Order"), LayerUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveLayer(tc.sym), "fqn %s", tc.sym.FQN)
	}
}

// seedSummary inserts a summary row directly; the dual-write coordinator owns
// the production write path.
func seedSummary(t *testing.T, st *Store, fqn, text string, stale bool) {
	t.Helper()
	now := fmtTime(time.Now())
	_, err := st.DB().Exec(`
		INSERT INTO summaries (target_fqn, level, summary_text, is_stale, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (target_fqn) DO UPDATE SET summary_text = excluded.summary_text, is_stale = excluded.is_stale`,
		fqn, LevelClass, text, stale, now, now)
	require.NoError(t, err)
}
