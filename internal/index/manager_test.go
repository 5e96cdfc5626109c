package index

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianshu93/annsolo/internal/errors"
)

func testVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 0, 1, 0},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), "lib", "abc1234", 4, 16, 20)
}

func TestManager_Path(t *testing.T) {
	m := NewManager("/idx", "yeast", "deadbee", 4, 16, 20)
	assert.Equal(t, "/idx/yeast_deadbee_2.idxann", m.Path(2))
}

func TestManager_BuildAndQuery(t *testing.T) {
	// Given: a built index for charge 2
	m := newTestManager(t)
	require.NoError(t, m.Build(context.Background(), 2, testVectors()))
	assert.True(t, m.Exists(2))
	assert.False(t, m.Exists(3))

	// When: querying with the first vector
	neighbors, err := m.Query(2, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: the nearest neighbor is the vector itself, then its close twin
	require.Len(t, neighbors, 2)
	assert.Equal(t, 0, neighbors[0])
	assert.Equal(t, 2, neighbors[1])
}

func TestManager_QueryMissingIndexIsStale(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Query(5, []float32{1, 0, 0, 0}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIndexStale))
}

func TestManager_SingleSlotCache(t *testing.T) {
	// Given: indices for charges 2 and 3
	m := newTestManager(t)
	require.NoError(t, m.Build(context.Background(), 2, testVectors()))
	require.NoError(t, m.Build(context.Background(), 3, testVectors()))

	query := []float32{1, 0, 0, 0}

	// When: querying contiguous runs of identical charge
	for i := 0; i < 5; i++ {
		_, err := m.Query(2, query, 1)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := m.Query(3, query, 1)
		require.NoError(t, err)
	}

	// Then: each index is loaded exactly once
	assert.Equal(t, 2, m.Loads())

	// And: alternating charges reload on every transition
	_, err := m.Query(2, query, 1)
	require.NoError(t, err)
	_, err = m.Query(3, query, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Loads())
}

func TestManager_BuildIsDeterministic(t *testing.T) {
	// Given: two managers building the same vectors in separate dirs
	a := newTestManager(t)
	b := newTestManager(t)
	require.NoError(t, a.Build(context.Background(), 2, testVectors()))
	require.NoError(t, b.Build(context.Background(), 2, testVectors()))

	query := []float32{0.5, 0.5, 0, 0}
	gotA, err := a.Query(2, query, 3)
	require.NoError(t, err)
	gotB, err := b.Query(2, query, 3)
	require.NoError(t, err)

	// Then: query results are identical
	assert.Equal(t, gotA, gotB)
}

func TestManager_PersistAndReload(t *testing.T) {
	// Given: a built and queried index
	m := newTestManager(t)
	require.NoError(t, m.Build(context.Background(), 2, testVectors()))
	before, err := m.Query(2, []float32{0.9, 0.2, 0, 0}, 3)
	require.NoError(t, err)

	// When: the cache slot is dropped and the index reloaded from disk
	m.UnloadAll()
	after, err := m.Query(2, []float32{0.9, 0.2, 0, 0}, 3)
	require.NoError(t, err)

	// Then: reloading does not change query output
	assert.Equal(t, before, after)
}

func TestManager_BuildDimensionMismatch(t *testing.T) {
	m := newTestManager(t)
	err := m.Build(context.Background(), 2, [][]float32{{1, 0}})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBadArgument))
}

func TestManager_BuildAll(t *testing.T) {
	m := newTestManager(t)
	vectors := map[int][][]float32{
		2: testVectors(),
		3: testVectors(),
	}
	require.NoError(t, m.BuildAll(context.Background(), vectors, 2))
	assert.True(t, m.Exists(2))
	assert.True(t, m.Exists(3))

	// The build is atomic: no temp files remain.
	entries, err := os.ReadDir(m.dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp")
	}
}
