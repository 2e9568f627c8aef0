package ingestor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
)

func sampleResult() *AnalyzeResult {
	return &AnalyzeResult{Classes: []ClassInfo{
		{
			Name:        "com.a.OrderCtl",
			Kind:        "class",
			SourceFile:  "com/a/OrderCtl.java",
			Superclass:  "java.lang.Object",
			Annotations: []string{"@RestController"},
			Methods: []MethodInfo{
				{
					Name:           "create",
					Signature:      "(Lcom/a/Order;)V",
					IsRestEndpoint: true,
					HTTPMethod:     "post",
					APIPath:        "/orders",
					Calls: []CallInfo{
						{Owner: "com.a.OrderSvc", Name: "create"},
						{Owner: "org.slf4j.Logger", Name: "info"},
						{Owner: "java.util.Objects", Name: "requireNonNull"},
					},
				},
			},
		},
		{
			Name:       "com.a.OrderSvc",
			Kind:       "class",
			SourceFile: "com/a/OrderSvc.java",
			Methods: []MethodInfo{
				{
					Name:        "create",
					IsScheduled: false,
					Calls: []CallInfo{
						{
							Owner: "com.a.OrderMapper", Name: "insert",
							IsMybatisBaseMapperCall: true,
							DependencyType:          "mysql",
							DependencyTarget:        "orders",
						},
					},
				},
				{Name: "sweep", IsScheduled: true, ScheduledCron: "0 0 * * * *"},
			},
		},
		{
			Name:       "com.a.Payable",
			Kind:       "interface",
			Interfaces: nil,
		},
	}}
}

func TestConvertBuildsGraphRows(t *testing.T) {
	rows := Convert(sampleResult())

	// 3 classes + 3 methods.
	require.Len(t, rows.Symbols, 6)
	byFQN := map[string]graph.Symbol{}
	for _, s := range rows.Symbols {
		byFQN[s.FQN] = s
	}
	assert.Equal(t, graph.KindInterface, byFQN["com.a.Payable"].Kind)
	assert.Equal(t, "com.a.OrderCtl", byFQN["com.a.OrderCtl.create"].ParentFQN)
	assert.Equal(t, "create", byFQN["com.a.OrderCtl.create"].Name)

	// Framework callees are filtered; project calls survive.
	var calls []graph.Edge
	for _, e := range rows.Edges {
		if e.Relation == graph.RelationCalls {
			calls = append(calls, e)
		}
	}
	require.Len(t, calls, 2)
	assert.Equal(t, "com.a.OrderSvc.create", calls[0].ToFQN)
	assert.Equal(t, "com.a.OrderMapper.insert", calls[1].ToFQN)
	assert.Equal(t, "true", calls[1].Metadata["mybatis_base_mapper"])

	require.Len(t, rows.EntryPoints, 2)
	assert.Equal(t, graph.EntryHTTPAPI, rows.EntryPoints[0].Type)
	assert.Equal(t, "POST", rows.EntryPoints[0].HTTPMethod)
	assert.Equal(t, graph.EntryScheduled, rows.EntryPoints[1].Type)
	assert.Equal(t, "0 0 * * * *", rows.EntryPoints[1].Cron)

	require.Len(t, rows.Dependencies, 1)
	assert.Equal(t, "mysql", rows.Dependencies[0].Type)
	assert.Equal(t, "orders", rows.Dependencies[0].Target)
}

func TestConvertSkipsObjectSuperclass(t *testing.T) {
	rows := Convert(sampleResult())
	for _, e := range rows.Edges {
		assert.NotEqual(t, "java.lang.Object", e.ToFQN)
	}
}

func TestExtractPopulatesStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		var req AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/repo", req.ProjectRoot)
		json.NewEncoder(w).Encode(sampleResult())
	}))
	defer srv.Close()

	st, err := graph.Open(filepath.Join(t.TempDir(), "shadow.db"))
	require.NoError(t, err)
	defer st.Close()

	ex := NewExtractor(NewClient(srv.URL), "/repo")
	ctx := context.Background()
	require.NoError(t, ex.Extract(ctx, st, nil))

	n, err := st.SymbolCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	ep, err := st.FindEntryPointByHTTP(ctx, "POST", "/orders")
	require.NoError(t, err)
	assert.Equal(t, "com.a.OrderCtl.create", ep.SymbolFQN)
}

func TestAnalyzeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(&AnalyzeResult{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Analyze(context.Background(), AnalyzeRequest{ProjectRoot: "/repo", ClassFiles: []string{"A.class"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnalyzeClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Analyze(context.Background(), AnalyzeRequest{ClassFiles: []string{"A.class"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.NoError(t, c.Health(context.Background()))

	srv.Close()
	err := c.Health(context.Background())
	assert.True(t, apperr.IsUnavailable(err))
}

func TestFrameworkPrefixFilter(t *testing.T) {
	for _, fqn := range []string{
		"java.util.List", "javax.servlet.Filter", "jdk.internal.X", "sun.misc.Unsafe",
		"com.sun.proxy.X", "kotlin.collections.List", "org.springframework.web.X",
		"org.slf4j.Logger", "lombok.Data",
	} {
		assert.True(t, isFrameworkFQN(fqn), fqn)
	}
	assert.False(t, isFrameworkFQN("com.a.OrderSvc"))
	assert.False(t, isFrameworkFQN("org.apache.ibatis.session.SqlSession"))
}
