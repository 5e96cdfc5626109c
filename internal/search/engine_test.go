package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianshu93/annsolo/internal/config"
	"github.com/jianshu93/annsolo/internal/errors"
)

// peakBlock renders 12 peaks starting at base, 30 Da apart, so spectra
// survive preprocessing and spectra with different bases share no peaks.
func peakBlock(base float64) string {
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "%g %g\n", base+float64(i)*30, 40+float64(i))
	}
	return sb.String()
}

func mgfBlock(title string, pepmass float64, charge string, peaks string) string {
	var sb strings.Builder
	sb.WriteString("BEGIN IONS\n")
	fmt.Fprintf(&sb, "TITLE=%s\n", title)
	fmt.Fprintf(&sb, "PEPMASS=%g\n", pepmass)
	if charge != "" {
		fmt.Fprintf(&sb, "CHARGE=%s\n", charge)
	}
	sb.WriteString(peaks)
	sb.WriteString("END IONS\n")
	return sb.String()
}

// writeSearchFixtures writes a library of three charge-2 and one charge-3
// spectra plus a query file, returning both paths.
func writeSearchFixtures(t *testing.T, dir string) (libPath, queryPath string) {
	t.Helper()
	library := mgfBlock("lib1", 500.1, "2+", peakBlock(100)) +
		mgfBlock("lib2", 500.0, "2+", peakBlock(107)) +
		mgfBlock("lib3", 508.0, "2+", peakBlock(115)) +
		mgfBlock("lib4", 612.5, "3+", peakBlock(120))
	libPath = filepath.Join(dir, "lib.mgf")
	require.NoError(t, os.WriteFile(libPath, []byte(library), 0o644))

	queries := mgfBlock("query1", 500.1, "2+", peakBlock(100)) +
		mgfBlock("query2", 612.5, "3+", peakBlock(120))
	queryPath = filepath.Join(dir, "queries.mgf")
	require.NoError(t, os.WriteFile(queryPath, []byte(queries), 0o644))
	return libPath, queryPath
}

func testConfig(libPath string) config.Config {
	cfg := config.Default()
	cfg.Library = libPath
	cfg.MinMZ = 50
	cfg.MaxMZ = 600
	cfg.BinSize = 1.0
	cfg.PrecursorToleranceMass = 1.0
	cfg.PrecursorToleranceMode = config.ToleranceDa
	cfg.NumCandidates = 10
	cfg.ANNCutoff = 0
	cfg.NumTrees = 16
	cfg.NumThreads = 2
	return cfg
}

func TestEngine_SearchIdentifiesQueries(t *testing.T) {
	dir := t.TempDir()
	libPath, queryPath := writeSearchFixtures(t, dir)

	engine, err := New(context.Background(), testConfig(libPath))
	require.NoError(t, err)
	defer engine.Close()

	identifications, err := engine.Search(context.Background(), queryPath)
	require.NoError(t, err)
	require.Len(t, identifications, 2)

	// Results follow the charge-sorted scan: charge 2 before charge 3.
	first, second := identifications[0], identifications[1]
	assert.Equal(t, "query1", first.QueryID)
	assert.Equal(t, 2, first.QueryCharge)
	assert.Equal(t, "lib1", first.LibraryIdentifier)
	assert.InDelta(t, 1.0, first.Score, 1e-6)
	assert.Greater(t, first.SSM.NumCandidates, 0)
	assert.Equal(t, first.Features.NumMatchedPeaks, len(first.SSM.PeakMatches))

	assert.Equal(t, "query2", second.QueryID)
	assert.Equal(t, 3, second.QueryCharge)
	assert.Equal(t, "lib4", second.LibraryIdentifier)
}

func TestEngine_SearchIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	libPath, queryPath := writeSearchFixtures(t, dir)

	engine, err := New(context.Background(), testConfig(libPath))
	require.NoError(t, err)
	defer engine.Close()

	a, err := engine.Search(context.Background(), queryPath)
	require.NoError(t, err)
	b, err := engine.Search(context.Background(), queryPath)
	require.NoError(t, err)

	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].QueryID, b[i].QueryID)
		assert.Equal(t, a[i].LibraryID, b[i].LibraryID)
		assert.Equal(t, a[i].Score, b[i].Score)
	}
}

func TestEngine_UnknownChargeDedup(t *testing.T) {
	dir := t.TempDir()
	libPath, _ := writeSearchFixtures(t, dir)

	// A query without a charge is tried at charges 2 and 3 but yields a
	// single identification under its query id.
	queryPath := filepath.Join(dir, "unknown.mgf")
	query := mgfBlock("mystery", 500.1, "", peakBlock(100))
	require.NoError(t, os.WriteFile(queryPath, []byte(query), 0o644))

	engine, err := New(context.Background(), testConfig(libPath))
	require.NoError(t, err)
	defer engine.Close()

	identifications, err := engine.Search(context.Background(), queryPath)
	require.NoError(t, err)
	require.Len(t, identifications, 1)
	assert.Equal(t, "mystery", identifications[0].QueryID)
	assert.Equal(t, 2, identifications[0].QueryCharge)
	assert.Equal(t, "lib1", identifications[0].LibraryIdentifier)
}

func TestEngine_ChargeSortedCacheLoads(t *testing.T) {
	dir := t.TempDir()
	libPath, _ := writeSearchFixtures(t, dir)

	// Queries across both charges, interleaved in the file.
	queryPath := filepath.Join(dir, "mixed.mgf")
	queries := mgfBlock("qa", 500.1, "2+", peakBlock(100)) +
		mgfBlock("qb", 612.5, "3+", peakBlock(120)) +
		mgfBlock("qc", 500.0, "2+", peakBlock(107)) +
		mgfBlock("qd", 612.5, "3+", peakBlock(120))
	require.NoError(t, os.WriteFile(queryPath, []byte(queries), 0o644))

	engine, err := New(context.Background(), testConfig(libPath))
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Search(context.Background(), queryPath)
	require.NoError(t, err)

	// The charge-sorted scan loads each per-charge index exactly once.
	assert.Equal(t, 2, engine.ann.Loads())
}

func TestEngine_ANNCutoffInactive(t *testing.T) {
	dir := t.TempDir()
	libPath, queryPath := writeSearchFixtures(t, dir)

	// With a cutoff far above the library size no ANN index is built or
	// queried; the result equals the pure mass filter.
	cfg := testConfig(libPath)
	cfg.ANNCutoff = 1000
	engine, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer engine.Close()

	identifications, err := engine.Search(context.Background(), queryPath)
	require.NoError(t, err)
	require.Len(t, identifications, 2)
	assert.Equal(t, 0, engine.ann.Loads())
	assert.Equal(t, "lib1", identifications[0].LibraryIdentifier)
}

func TestEngine_BruteForceMode(t *testing.T) {
	dir := t.TempDir()
	libPath, queryPath := writeSearchFixtures(t, dir)

	cfg := testConfig(libPath)
	cfg.BruteForce = true
	engine, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer engine.Close()

	// No ANN manager exists in brute-force mode.
	assert.Nil(t, engine.ann)

	identifications, err := engine.Search(context.Background(), queryPath)
	require.NoError(t, err)
	require.Len(t, identifications, 2)
	assert.Equal(t, "lib1", identifications[0].LibraryIdentifier)
}

func TestEngine_MissingLibraryIsFatal(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing.mgf"))
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestEngine_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	libPath, queryPath := writeSearchFixtures(t, dir)

	engine, err := New(context.Background(), testConfig(libPath))
	require.NoError(t, err)
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Search(ctx, queryPath)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngine_IndexFilesCarryFingerprint(t *testing.T) {
	dir := t.TempDir()
	libPath, _ := writeSearchFixtures(t, dir)

	cfg := testConfig(libPath)
	engine, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer engine.Close()

	fp := cfg.ShortFingerprint()
	for _, charge := range []int{2, 3} {
		path := filepath.Join(dir, fmt.Sprintf("lib_%s_%d.idxann", fp, charge))
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, "expected index file %s", path)
	}
}
