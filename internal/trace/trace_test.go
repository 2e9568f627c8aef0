package trace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
)

func seedTraceGraph(t *testing.T) *graph.Manager {
	t.Helper()
	mgr, err := graph.NewManager(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	ctx := context.Background()
	st, release := mgr.Acquire()
	defer release()

	require.NoError(t, st.InsertSymbols(ctx, []graph.Symbol{
		{FQN: "com.a.Ctl", Kind: graph.KindClass, Name: "Ctl", Annotations: []string{"@RestController"}},
		{FQN: "com.a.Ctl.create", Kind: graph.KindMethod, Name: "create", ParentFQN: "com.a.Ctl"},
		{FQN: "com.a.Svc", Kind: graph.KindClass, Name: "Svc", Annotations: []string{"@Service"}},
		{FQN: "com.a.Svc.create", Kind: graph.KindMethod, Name: "create", ParentFQN: "com.a.Svc"},
		{FQN: "com.a.Repo", Kind: graph.KindClass, Name: "Repo", Annotations: []string{"@Repository"}},
		{FQN: "com.a.Repo.insert", Kind: graph.KindMethod, Name: "insert", ParentFQN: "com.a.Repo"},
	}))
	require.NoError(t, st.InsertEdges(ctx, []graph.Edge{
		{FromFQN: "com.a.Ctl.create", ToFQN: "com.a.Svc.create", Relation: graph.RelationCalls},
		{FromFQN: "com.a.Svc.create", ToFQN: "com.a.Repo.insert", Relation: graph.RelationCalls},
		{FromFQN: "com.a.Repo.insert", ToFQN: "org.apache.ibatis.session.SqlSession.insert", Relation: graph.RelationCalls},
	}))
	require.NoError(t, st.UpsertEntryPoints(ctx, []graph.EntryPoint{
		{SymbolFQN: "com.a.Ctl.create", Type: graph.EntryHTTPAPI, HTTPMethod: "POST", HTTPPath: "/orders"},
	}))
	require.NoError(t, st.UpsertExternalDependencies(ctx, []graph.ExternalDependency{
		{CallerFQN: "com.a.Repo.insert", Type: "mysql", Target: "orders", Strength: "strong"},
		{CallerFQN: "com.a.Svc.create", Type: "mysql", Target: "orders", Strength: "weak"},
		{CallerFQN: "com.a.Svc.create", Type: "redis", Target: "order-cache", Strength: "weak"},
	}))
	return mgr
}

func TestTraceByHTTPRoute(t *testing.T) {
	tr := New(seedTraceGraph(t))

	chain, err := tr.Trace(context.Background(), Request{HTTPMethod: "post", HTTPPath: "/orders"})
	require.NoError(t, err)

	assert.Equal(t, "com.a.Ctl.create", chain.EntryFQN)
	require.NotNil(t, chain.EntryPoint)
	assert.Equal(t, "/orders", chain.EntryPoint.HTTPPath)

	require.Len(t, chain.Hops, 3)
	assert.Equal(t, "com.a.Svc.create", chain.Hops[0].ToFQN)
	assert.Equal(t, graph.LayerService, chain.Hops[0].ToLayer)
	assert.Equal(t, "com.a.Repo.insert", chain.Hops[1].ToFQN)
	assert.Equal(t, graph.LayerRepository, chain.Hops[1].ToLayer)
	assert.True(t, chain.Hops[2].External)
}

func TestTraceDedupesDependenciesByTarget(t *testing.T) {
	tr := New(seedTraceGraph(t))

	chain, err := tr.Trace(context.Background(), Request{FQN: "com.a.Ctl.create"})
	require.NoError(t, err)

	require.Len(t, chain.Dependencies, 2)
	assert.Equal(t, "mysql", chain.Dependencies[0].Type)
	assert.Equal(t, "orders", chain.Dependencies[0].Target)
	assert.Equal(t, "strong", chain.Dependencies[0].Strength)
	assert.Equal(t, "redis", chain.Dependencies[1].Type)
}

func TestTraceByFQNWithoutEntryPoint(t *testing.T) {
	tr := New(seedTraceGraph(t))

	chain, err := tr.Trace(context.Background(), Request{FQN: "com.a.Svc.create"})
	require.NoError(t, err)
	assert.Nil(t, chain.EntryPoint)
	require.Len(t, chain.Hops, 2)
}

func TestTraceUnknownRouteIsNotFound(t *testing.T) {
	tr := New(seedTraceGraph(t))
	_, err := tr.Trace(context.Background(), Request{HTTPMethod: "GET", HTTPPath: "/nope"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestTraceUnknownFQNIsNotFound(t *testing.T) {
	tr := New(seedTraceGraph(t))
	_, err := tr.Trace(context.Background(), Request{FQN: "com.ghost.Gone"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestTraceEmptyRequestIsInvalid(t *testing.T) {
	tr := New(seedTraceGraph(t))
	_, err := tr.Trace(context.Background(), Request{})
	assert.True(t, apperr.IsInvalidArgument(err))
}

func TestDescribeChain(t *testing.T) {
	tr := New(seedTraceGraph(t))
	chain, err := tr.Trace(context.Background(), Request{HTTPMethod: "POST", HTTPPath: "/orders"})
	require.NoError(t, err)

	text := DescribeChain(chain)
	assert.Contains(t, text, "com.a.Ctl.create [POST /orders]")
	assert.Contains(t, text, "-> com.a.Svc.create (service)")
	assert.Contains(t, text, "(external)")
	assert.Contains(t, text, "uses mysql: orders")
}
