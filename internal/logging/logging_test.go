package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBeforeInitReturnsNop(t *testing.T) {
	// Must not panic even when Init was never called.
	l := Get(CategoryStore)
	require.NotNil(t, l)
	l.Infow("no-op", "k", "v")
}

func TestInitRejectsBadLevel(t *testing.T) {
	assert.Error(t, Init("verbose", "json"))
}

func TestInitAcceptsTextAndJSON(t *testing.T) {
	require.NoError(t, Init("debug", "text"))
	require.NoError(t, Init("warn", "json"))
	assert.NotNil(t, Get(CategoryJobs))
}

func TestTimerMeasures(t *testing.T) {
	timer := StartTimer(CategoryStore, "test-op")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
}
