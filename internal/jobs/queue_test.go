package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mgr, err := graph.NewManager(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return NewQueue(mgr)
}

func TestCreateAndGet(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Create(ctx, ModeIncremental, []string{"src/main/java/A.java"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	got, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, got.Mode)
	assert.Equal(t, []string{"src/main/java/A.java"}, got.TargetPaths)
	assert.Zero(t, got.Progress)
}

func TestCreateRejectsUnknownMode(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Create(context.Background(), "partial", nil)
	assert.True(t, apperr.IsInvalidArgument(err))
}

func TestGetMissingJobIsNotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Get(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
}

func TestAcquireLifecycle(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Create(ctx, ModeFull, nil)
	require.NoError(t, err)

	running, err := q.Acquire(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	got, err := q.GetRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)

	require.NoError(t, q.Progress(ctx, job.JobID, 40, 10, 4))
	got, err = q.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, 10, got.TotalFiles)

	require.NoError(t, q.Complete(ctx, job.JobID))
	got, err = q.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
}

func TestAcquireMissingJobIsNotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Acquire(context.Background(), "ghost")
	assert.True(t, apperr.IsNotFound(err))
}

func TestConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Create(ctx, ModeFull, nil)
	require.NoError(t, err)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Acquire(ctx, job.JobID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected acquire error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)

	require.NoError(t, q.Complete(ctx, job.JobID))
	got, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestSecondJobBlockedWhileOneRuns(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Create(ctx, ModeFull, nil)
	require.NoError(t, err)
	second, err := q.Create(ctx, ModeIncremental, nil)
	require.NoError(t, err)

	_, err = q.Acquire(ctx, first.JobID)
	require.NoError(t, err)

	_, err = q.Acquire(ctx, second.JobID)
	assert.True(t, apperr.IsConflict(err))

	require.NoError(t, q.Complete(ctx, first.JobID))
	_, err = q.Acquire(ctx, second.JobID)
	require.NoError(t, err)
}

func TestFailRecordsMessage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Create(ctx, ModeFull, nil)
	require.NoError(t, err)
	_, err = q.Acquire(ctx, job.JobID)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, job.JobID, errors.New("extractor unreachable")))
	got, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "extractor unreachable", got.ErrorMessage)
}

func TestCompleteOnTerminalJobIsConflict(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Create(ctx, ModeFull, nil)
	require.NoError(t, err)
	_, err = q.Acquire(ctx, job.JobID)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job.JobID))

	assert.True(t, apperr.IsConflict(q.Complete(ctx, job.JobID)))
	assert.True(t, apperr.IsConflict(q.Fail(ctx, job.JobID, errors.New("late"))))
}

func TestListFiltersByStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a, err := q.Create(ctx, ModeFull, nil)
	require.NoError(t, err)
	_, err = q.Create(ctx, ModeIncremental, nil)
	require.NoError(t, err)

	_, err = q.Acquire(ctx, a.JobID)
	require.NoError(t, err)

	pending, err := q.List(ctx, StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	all, err := q.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
