// Package index manages the per-charge ANN indices: building, persisting,
// loading, and querying, with a single-slot cache keyed by precursor
// charge. Each index can be hundreds of MB, so only one charge is resident
// at a time; the search driver's charge-sorted iteration keeps the cache
// hot across contiguous runs of identical charge.
package index

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/jianshu93/annsolo/internal/errors"
)

// rngSeed fixes the backend RNG so rebuilding an index with identical
// inputs yields identical query results.
const rngSeed = 0

// defaultEfSearch is the backend's query-time effort when the search_k
// sentinel asks for the default.
const defaultEfSearch = 20

// Manager owns the per-charge ANN index files of one library.
type Manager struct {
	dir      string
	stem     string
	fp       string
	dim      int
	numTrees int
	searchK  int
	log      *slog.Logger

	// Single-slot cache. Load/unload transitions and queries are
	// serialized: the backend graph is not documented as reentrant.
	mu        sync.Mutex
	curCharge int
	curGraph  *hnsw.Graph[int64]
	loads     int
}

// NewManager creates a manager persisting indices for the library stem
// under dir. fp is the short config fingerprint; dim the vector dimension;
// numTrees the graph degree; searchK the query-time effort (or the
// negative sentinel for the backend default).
func NewManager(dir, stem, fp string, dim, numTrees, searchK int) *Manager {
	return &Manager{
		dir:      dir,
		stem:     stem,
		fp:       fp,
		dim:      dim,
		numTrees: numTrees,
		searchK:  searchK,
		log:      slog.Default(),
	}
}

// Path returns the index filename for a charge:
// <dir>/<stem>_<fp7>_<charge>.idxann.
func (m *Manager) Path(charge int) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s_%s_%d.idxann", m.stem, m.fp, charge))
}

// Exists reports whether a persisted index file exists for the charge.
func (m *Manager) Exists(charge int) bool {
	_, err := os.Stat(m.Path(charge))
	return err == nil
}

// newGraph creates an empty graph with the configured build parameters and
// a seeded RNG.
func (m *Manager) newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.Distance = hnsw.CosineDistance
	g.M = m.numTrees
	g.Ml = 0.25
	g.EfSearch = m.efSearch()
	g.Rng = rand.New(rand.NewSource(rngSeed))
	return g
}

func (m *Manager) efSearch() int {
	if m.searchK > 0 {
		return m.searchK
	}
	return defaultEfSearch
}

// Build constructs the index for one charge from the per-charge vectors
// (local index order) and persists it atomically. An inter-process file
// lock serializes concurrent builds of the same charge; rebuilds are
// idempotent because the export is renamed into place.
func (m *Manager) Build(ctx context.Context, charge int, vectors [][]float32) error {
	path := m.Path(charge)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.E(errors.KindBackendFailure, "cannot lock index file", err)
	}
	defer func() {
		lock.Unlock()
		os.Remove(path + ".lock")
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.log.Debug("building ANN index", "charge", charge, "vectors", len(vectors))
	g := m.newGraph()
	for i, vec := range vectors {
		if len(vec) != m.dim {
			return errors.Ef(errors.KindBadArgument,
				"vector dimension mismatch for charge %d: want %d, got %d", charge, m.dim, len(vec))
		}
		g.Add(hnsw.MakeNode(int64(i), vec))
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return errors.E(errors.KindBackendFailure, "cannot create index file", err)
	}
	w := bufio.NewWriter(file)
	if err := g.Export(w); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return errors.E(errors.KindBackendFailure, "cannot export index", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return errors.E(errors.KindBackendFailure, "cannot flush index", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.E(errors.KindBackendFailure, "cannot close index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.E(errors.KindBackendFailure, "cannot move index into place", err)
	}
	m.log.Info("ANN index built", "charge", charge, "vectors", len(vectors), "path", path)
	return nil
}

// BuildAll builds the indices for all given charges with a worker
// pool bounded by numThreads. Builds are independent across charges;
// within one charge the build is single-threaded.
func (m *Manager) BuildAll(ctx context.Context, vectors map[int][][]float32, numThreads int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numThreads)
	for charge, vecs := range vectors {
		g.Go(func() error {
			return m.Build(ctx, charge, vecs)
		})
	}
	return g.Wait()
}

// Query returns the local per-charge indices of the k nearest neighbors of
// vec. The index for the charge is loaded on demand, replacing whatever
// charge was cached before.
func (m *Manager) Query(charge int, vec []float32, k int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(charge); err != nil {
		return nil, err
	}
	nodes := m.curGraph.Search(vec, k)
	neighbors := make([]int, len(nodes))
	for i, node := range nodes {
		neighbors[i] = int(node.Key)
	}
	return neighbors, nil
}

// loadLocked fills the single cache slot with the index for charge.
// Callers hold m.mu.
func (m *Manager) loadLocked(charge int) error {
	if m.curGraph != nil && m.curCharge == charge {
		return nil
	}
	// Unload the previous index before loading the new one.
	m.curGraph = nil

	path := m.Path(charge)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Ef(errors.KindIndexStale, "missing ANN index file for charge %d", charge)
		}
		return errors.E(errors.KindBackendFailure, "cannot open index file", err)
	}
	defer file.Close()

	m.log.Debug("loading ANN index", "charge", charge, "path", path)
	g := m.newGraph()
	// Import requires an io.ByteReader.
	if err := g.Import(bufio.NewReader(file)); err != nil {
		return errors.E(errors.KindBackendFailure, "cannot import index", err)
	}
	m.curCharge = charge
	m.curGraph = g
	m.loads++
	return nil
}

// UnloadAll drops the cached index.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.curGraph = nil
}

// Loads returns how many times an index was read from disk, used to verify
// the cache behavior under charge-sorted iteration.
func (m *Manager) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}
