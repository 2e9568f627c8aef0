package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	base := New(KindConflict, "job %s already acquired", "j1")
	wrapped := fmt.Errorf("acquire: %w", base)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(KindUnavailable, nil, "ignored"))
}

func TestErrorsIsMatchesOnKind(t *testing.T) {
	err := Wrap(KindNotFound, errors.New("no rows"), "symbol %q", "com.a.B")
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindConflict}))
}

func TestProblemStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindInvalidArgument, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindTransient, http.StatusServiceUnavailable},
		{KindIntegrity, http.StatusInternalServerError},
		{KindRebuildFailed, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		p := ProblemOf(New(tc.kind, "boom"))
		require.Equal(t, tc.want, p.Status, "kind %s", tc.kind)
		assert.Contains(t, p.Type, tc.kind.String())
	}
}
