// Package search implements the spectral library search driver: it orders
// query spectra so the per-charge ANN cache stays hot, retrieves candidate
// sets through the mass and ANN filters, scores them with the peak
// aligner, and keeps the best identification per query.
package search

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/jianshu93/annsolo/internal/config"
	"github.com/jianshu93/annsolo/internal/index"
	"github.com/jianshu93/annsolo/internal/library"
	"github.com/jianshu93/annsolo/internal/mgf"
	"github.com/jianshu93/annsolo/internal/similarity"
	"github.com/jianshu93/annsolo/internal/spectrum"
)

// trialCharges are the precursor charges tried for query spectra whose
// charge is unknown.
var trialCharges = []int{2, 3}

// Identification is one query spectrum's best library match.
type Identification struct {
	QueryID           string
	QueryCharge       int
	LibraryID         int64
	LibraryIdentifier string
	Score             float64
	SSM               *spectrum.SSM
	Features          similarity.Features
}

// Engine runs searches against one spectral library.
type Engine struct {
	cfg        config.Config
	store      *library.Store
	ann        *index.Manager
	filter     *Filter
	vectorizer *spectrum.Vectorizer
	log        *slog.Logger
}

// New opens the library and prepares the ANN indices. Missing or stale
// per-charge index files are rebuilt before the engine is returned.
func New(ctx context.Context, cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	vectorizer, err := spectrum.NewVectorizer(cfg.MinMZ, cfg.MaxMZ, cfg.BinSize)
	if err != nil {
		return nil, err
	}

	preprocess := func(s *spectrum.Spectrum) *spectrum.Spectrum {
		return s.Process(cfg.MinMZ, cfg.MaxMZ)
	}
	store, err := library.Open(cfg.Library, cfg.ShortFingerprint(), library.WithPreprocess(preprocess))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		vectorizer: vectorizer,
		log:        slog.Default(),
	}
	if !cfg.BruteForce {
		indexDir := cfg.IndexDir
		if indexDir == "" {
			indexDir = filepath.Dir(cfg.Library)
		}
		stem := filepath.Base(library.Stem(cfg.Library))
		e.ann = index.NewManager(indexDir, stem, cfg.ShortFingerprint(),
			vectorizer.Dim(), cfg.NumTrees, cfg.SearchK)
		if err := e.ensureIndices(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	e.filter = NewFilter(cfg, store, e.ann, vectorizer)
	return e, nil
}

// annCharges returns the charges populous enough to warrant an ANN index.
func (e *Engine) annCharges() []int {
	var charges []int
	for _, charge := range e.store.Charges() {
		if len(e.store.SpecInfo(charge).IDs) > e.cfg.ANNCutoff {
			charges = append(charges, charge)
		}
	}
	return charges
}

// ensureIndices builds the per-charge ANN indices that are missing, or all
// of them when the library sidecar was recreated under a new fingerprint.
func (e *Engine) ensureIndices(ctx context.Context) error {
	rebuild := map[int]bool{}
	for _, charge := range e.annCharges() {
		if e.store.IsRecreated() || !e.ann.Exists(charge) {
			if !e.store.IsRecreated() {
				e.log.Warn("missing ANN index file", "charge", charge)
			}
			rebuild[charge] = true
		}
	}
	if len(rebuild) == 0 {
		return nil
	}

	// One streaming pass over the library collects the vectors of every
	// charge that needs building. Local ANN indices correspond to
	// positions in the per-charge candidate table, so every spectrum of
	// the charge is added in id order.
	e.log.Info("building ANN indices", "charges", len(rebuild))
	vectors := make(map[int][][]float32, len(rebuild))
	err := e.store.AllSpectra(func(id int64, spec *spectrum.Spectrum) error {
		charge := spec.PrecursorCharge()
		if rebuild[charge] {
			vectors[charge] = append(vectors[charge], e.vectorizer.Vector(spec))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.ann.BuildAll(ctx, vectors, e.cfg.NumThreads)
}

// Search identifies all query spectra in the MGF file at queryPath and
// returns the best identification per query id, ordered by the
// charge-sorted scan.
func (e *Engine) Search(ctx context.Context, queryPath string) ([]Identification, error) {
	e.log.Info("identifying query file", "path", queryPath)

	queries, err := mgf.ReadFile(queryPath)
	if err != nil {
		return nil, err
	}
	trials := makeTrials(queries, e.cfg.MinMZ, e.cfg.MaxMZ)
	e.log.Info("query spectra read", "raw", len(queries), "valid_trials", len(trials))

	// Sorting by charge keeps the single-slot ANN cache hot; sorting by
	// m/z within a charge makes candidate reads touch neighboring
	// library regions.
	sort.SliceStable(trials, func(a, b int) bool {
		if trials[a].PrecursorCharge() != trials[b].PrecursorCharge() {
			return trials[a].PrecursorCharge() < trials[b].PrecursorCharge()
		}
		if trials[a].PrecursorMZ() != trials[b].PrecursorMZ() {
			return trials[a].PrecursorMZ() < trials[b].PrecursorMZ()
		}
		return trials[a].Identifier() < trials[b].Identifier()
	})

	best := map[string]int{}
	var identifications []Identification
	for _, trial := range trials {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ident, ok, err := e.findMatch(trial)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		// Charge trials of one query share its id; retain the highest
		// scoring identification.
		if pos, seen := best[ident.QueryID]; seen {
			if ident.Score > identifications[pos].Score {
				identifications[pos] = ident
			}
			continue
		}
		best[ident.QueryID] = len(identifications)
		identifications = append(identifications, ident)
	}

	e.log.Info("finished identifying query file", "path", queryPath, "identified", len(identifications))
	return identifications, nil
}

// findMatch runs the candidate filter and the aligner for one trial.
func (e *Engine) findMatch(query *spectrum.Spectrum) (Identification, bool, error) {
	startTotal := time.Now()

	candidates, err := e.filter.Candidates(query)
	if err != nil {
		return Identification{}, false, err
	}
	timeCandidates := time.Since(startTotal)

	startMatch := time.Now()
	cand, score, matches, ok := bestMatch(query, candidates, e.cfg.FragmentMZTolerance)
	if !ok {
		return Identification{}, false, nil
	}

	ssm := &spectrum.SSM{
		Query:          query,
		Library:        cand.Spec,
		PeakMatches:    matches,
		Score:          score,
		NumCandidates:  len(candidates),
		TimeCandidates: timeCandidates,
		TimeMatch:      time.Since(startMatch),
	}
	ssm.TimeTotal = time.Since(startTotal)

	var opts []similarity.Option
	if e.cfg.Top > 0 {
		opts = append(opts, similarity.WithTop(e.cfg.Top))
	}
	scorer, err := similarity.New(ssm, opts...)
	if err != nil {
		return Identification{}, false, err
	}
	return Identification{
		QueryID:           query.Identifier(),
		QueryCharge:       query.PrecursorCharge(),
		LibraryID:         cand.ID,
		LibraryIdentifier: cand.Spec.Identifier(),
		Score:             score,
		SSM:               ssm,
		Features:          similarity.ComputeFeatures(scorer, e.cfg.MinMZ, e.cfg.MaxMZ, e.cfg.BinSize),
	}, true, nil
}

// makeTrials preprocesses the raw queries and expands unknown charges into
// charge trial views. Invalid spectra are discarded.
func makeTrials(queries []*spectrum.Spectrum, minMZ, maxMZ float64) []*spectrum.Spectrum {
	var trials []*spectrum.Spectrum
	for _, query := range queries {
		processed := query.Process(minMZ, maxMZ)
		if !processed.IsValid() {
			continue
		}
		if processed.PrecursorCharge() != spectrum.ChargeUnknown {
			trials = append(trials, processed)
			continue
		}
		for _, charge := range trialCharges {
			trials = append(trials, processed.WithCharge(charge))
		}
	}
	return trials
}

// RebuildIndices drops nothing on disk but forces a fresh build of every
// populous charge, used by the index CLI command.
func (e *Engine) RebuildIndices(ctx context.Context) error {
	if e.ann == nil {
		return nil
	}
	vectors := map[int][][]float32{}
	err := e.store.AllSpectra(func(id int64, spec *spectrum.Spectrum) error {
		charge := spec.PrecursorCharge()
		if len(e.store.SpecInfo(charge).IDs) > e.cfg.ANNCutoff {
			vectors[charge] = append(vectors[charge], e.vectorizer.Vector(spec))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.ann.BuildAll(ctx, vectors, e.cfg.NumThreads)
}

// Close releases the library reader and the ANN cache slot.
func (e *Engine) Close() error {
	if e.ann != nil {
		e.ann.UnloadAll()
	}
	return e.store.Close()
}
