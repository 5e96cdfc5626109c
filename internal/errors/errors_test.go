package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := E(KindBackendFailure, "cannot load index", cause)

	assert.Equal(t, "[BACKEND_FAILURE] cannot load index: disk on fire", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))

	bare := Ef(KindBadArgument, "top must be positive, got %d", -1)
	assert.Equal(t, "[BAD_ARGUMENT] top must be positive, got -1", bare.Error())
}

func TestError_KindMatching(t *testing.T) {
	err := Ef(KindIndexStale, "missing ANN index file for charge 4")

	assert.True(t, IsKind(err, KindIndexStale))
	assert.False(t, IsKind(err, KindNotFound))
	assert.Equal(t, KindIndexStale, KindOf(err))

	// Wrapped errors still match by kind.
	wrapped := fmt.Errorf("searching: %w", err)
	assert.True(t, IsKind(wrapped, KindIndexStale))
	assert.True(t, stderrors.Is(wrapped, &Error{Kind: KindIndexStale}))

	// Plain errors report KindInternal.
	require.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(Ef(KindTransientIO, "cannot read candidate 7")))
	assert.False(t, Transient(Ef(KindBackendFailure, "query failed")))
	assert.False(t, Transient(fmt.Errorf("plain")))
}
