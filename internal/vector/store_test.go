package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAddSearchRanking(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, CollectionSummaries, "a", "order service", []float32{1, 0, 0}, map[string]string{"level": "class"}))
	require.NoError(t, st.Add(ctx, CollectionSummaries, "b", "payment service", []float32{0, 1, 0}, map[string]string{"level": "class"}))
	require.NoError(t, st.Add(ctx, CollectionSummaries, "c", "order method", []float32{0.9, 0.1, 0}, map[string]string{"level": "method"}))

	results, err := st.Search(ctx, CollectionSummaries, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestSearchMetadataFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, CollectionSummaries, "a", "x", []float32{1, 0}, map[string]string{"level": "class"}))
	require.NoError(t, st.Add(ctx, CollectionSummaries, "b", "y", []float32{1, 0}, map[string]string{"level": "method"}))

	results, err := st.Search(ctx, CollectionSummaries, []float32{1, 0}, 10, map[string]string{"level": "method"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestCollectionsAreIsolated(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, CollectionGlossary, "term", "meaning", []float32{1}, nil))

	n, err := st.Count(ctx, CollectionGlossary)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = st.Count(ctx, CollectionSummaries)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAndIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, CollectionConstraints, "c1", "rule", []float32{1}, nil))
	require.NoError(t, st.Add(ctx, CollectionConstraints, "c2", "rule", []float32{1}, nil))
	require.NoError(t, st.Delete(ctx, CollectionConstraints, []string{"c1", "missing"}))

	ids, err := st.IDs(ctx, CollectionConstraints)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"c2": {}}, ids)
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	st := newTestStore(t)
	err := st.Update(context.Background(), CollectionSummaries, "ghost", "x", nil, nil)
	assert.Error(t, err)
}

func TestUnknownCollectionRejected(t *testing.T) {
	st := newTestStore(t)
	err := st.Add(context.Background(), "nope", "id", "x", nil, nil)
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}
