package incremental

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariadne/internal/dualwrite"
	"ariadne/internal/graph"
	"ariadne/internal/summarize"
	"ariadne/internal/tracker"
	"ariadne/internal/vector"
)

type stubModel struct {
	fail map[string]bool
}

func (m *stubModel) Summarize(ctx context.Context, code, symContext string) (string, error) {
	if m.fail[code] {
		return "", assert.AnError
	}
	return "summarized: " + code, nil
}

func (m *stubModel) Timeout() time.Duration { return time.Second }

type stubEngine struct{}

func (stubEngine) Embed(ctx context.Context, text string) ([]float32, error) { return []float32{1}, nil }
func (stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (stubEngine) Dimensions() int { return 2 }
func (stubEngine) Name() string    { return "stub" }

func newFixture(t *testing.T, model summarize.ChatModel, root string) (*Coordinator, *graph.Manager) {
	t.Helper()
	dir := t.TempDir()
	mgr, err := graph.NewManager(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	vs, err := vector.Open(filepath.Join(dir, "vectors"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })

	dual := dualwrite.New(mgr, vs)
	c := New(mgr, dual, tracker.New(mgr), summarize.New(model, 4), stubEngine{}, root)
	return c, mgr
}

func seed(t *testing.T, mgr *graph.Manager) {
	t.Helper()
	ctx := context.Background()
	st, release := mgr.Acquire()
	defer release()
	require.NoError(t, st.InsertSymbols(ctx, []graph.Symbol{
		{FQN: "com.a.Svc", Kind: graph.KindClass, Name: "Svc", FilePath: "com/a/Svc.java"},
		{FQN: "com.a.Svc.changed", Kind: graph.KindMethod, Name: "changed", ParentFQN: "com.a.Svc",
			FilePath: "com/a/Svc.java", Signature: "void changed()"},
		{FQN: "com.a.Caller.call", Kind: graph.KindMethod, Name: "call", Signature: "void call()"},
	}))
	require.NoError(t, st.InsertEdges(ctx, []graph.Edge{
		{FromFQN: "com.a.Caller.call", ToFQN: "com.a.Svc.changed", Relation: graph.RelationCalls},
	}))
}

func TestRunRegeneratesAffectedSet(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "com/a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "com/a/Svc.java"), []byte("class Svc {}"), 0o644))

	c, mgr := newFixture(t, &stubModel{}, root)
	seed(t, mgr)
	ctx := context.Background()

	result, err := c.Run(ctx, []string{"com.a.Svc.changed"})
	require.NoError(t, err)

	assert.Equal(t, []string{"com.a.Svc.changed"}, result.Changed)
	assert.ElementsMatch(t, []string{"com.a.Svc", "com.a.Caller.call"}, result.Dependents)
	assert.Equal(t, 3, result.Regenerated)
	assert.Zero(t, result.SkippedMissing)

	st, release := mgr.Acquire()
	defer release()
	got, err := st.GetSummary(ctx, "com.a.Svc.changed")
	require.NoError(t, err)
	assert.False(t, got.IsStale)
	assert.Equal(t, graph.LevelMethod, got.Level)
	assert.Equal(t, "com.a.Svc.changed", got.VectorID)

	cls, err := st.GetSummary(ctx, "com.a.Svc")
	require.NoError(t, err)
	assert.Equal(t, graph.LevelClass, cls.Level)
}

func TestFreshSummariesAreCacheHits(t *testing.T) {
	c, mgr := newFixture(t, &stubModel{}, "")
	seed(t, mgr)
	ctx := context.Background()

	_, err := c.Run(ctx, []string{"com.a.Svc.changed"})
	require.NoError(t, err)

	// Direct regeneration of the same set without new invalidation: all fresh.
	result, err := c.Regenerate(ctx, []string{"com.a.Svc", "com.a.Svc.changed", "com.a.Caller.call"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.SkippedCached)
	assert.Zero(t, result.Regenerated)
}

func TestMissingSymbolsAreSkipped(t *testing.T) {
	c, mgr := newFixture(t, &stubModel{}, "")
	seed(t, mgr)

	result, err := c.Regenerate(context.Background(), []string{"com.a.Svc", "com.ghost.Gone"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedMissing)
	assert.Equal(t, 1, result.Regenerated)
}

type hookModel struct {
	hook func()
}

func (m *hookModel) Summarize(ctx context.Context, code, symContext string) (string, error) {
	if m.hook != nil {
		m.hook()
	}
	return "slow run: " + code, nil
}

func (m *hookModel) Timeout() time.Duration { return time.Second }

func TestConcurrentlyFreshenedRowsAreNotOverwritten(t *testing.T) {
	model := &hookModel{}
	c, mgr := newFixture(t, model, "")
	seed(t, mgr)
	ctx := context.Background()

	// While the batch sits in the model phase, another run completes one of
	// the rows. The persist loop must leave that newer summary in place.
	var once sync.Once
	model.hook = func() {
		once.Do(func() {
			require.NoError(t, c.dual.CreateSummaryWithVector(ctx, graph.Summary{
				TargetFQN:   "com.a.Caller.call",
				Level:       graph.LevelMethod,
				SummaryText: "finished by concurrent run",
			}, nil))
		})
	}

	result, err := c.Run(ctx, []string{"com.a.Svc.changed"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Regenerated)
	assert.Equal(t, 1, result.SkippedCached)

	st, release := mgr.Acquire()
	defer release()
	got, err := st.GetSummary(ctx, "com.a.Caller.call")
	require.NoError(t, err)
	assert.Equal(t, "finished by concurrent run", got.SummaryText)
	assert.False(t, got.IsStale)
}

func TestModelFailureFallsBackButStillPersists(t *testing.T) {
	// No project root: the model receives signatures as code.
	c, mgr := newFixture(t, &stubModel{fail: map[string]bool{"void changed()": true}}, "")
	seed(t, mgr)
	ctx := context.Background()

	result, err := c.Run(ctx, []string{"com.a.Svc.changed"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Regenerated)
	assert.Equal(t, 1, result.Stats.Failed)

	st, release := mgr.Acquire()
	defer release()
	got, err := st.GetSummary(ctx, "com.a.Svc.changed")
	require.NoError(t, err)
	assert.Equal(t, "Method: changed", got.SummaryText)
}
