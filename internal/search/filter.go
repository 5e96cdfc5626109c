package search

import (
	"log/slog"
	"math"

	"github.com/jianshu93/annsolo/internal/config"
	"github.com/jianshu93/annsolo/internal/errors"
	"github.com/jianshu93/annsolo/internal/index"
	"github.com/jianshu93/annsolo/internal/library"
	"github.com/jianshu93/annsolo/internal/spectrum"
)

// Candidate is a library spectrum selected for scoring against a query.
type Candidate struct {
	ID   int64
	Spec *spectrum.Spectrum
}

// Filter computes the candidate set for a query spectrum: a precursor mass
// window over the per-charge candidate table, refined through the ANN
// index when the window is too populous. A nil ann manager degrades to the
// pure mass filter (brute-force mode).
type Filter struct {
	cfg        config.Config
	store      *library.Store
	ann        *index.Manager
	vectorizer *spectrum.Vectorizer
	log        *slog.Logger
}

// NewFilter creates a candidate filter.
func NewFilter(cfg config.Config, store *library.Store, ann *index.Manager, vectorizer *spectrum.Vectorizer) *Filter {
	return &Filter{
		cfg:        cfg,
		store:      store,
		ann:        ann,
		vectorizer: vectorizer,
		log:        slog.Default(),
	}
}

// Candidates returns the candidate library spectra for the query, in
// library id order. Individual candidate read failures are logged and
// skipped; the remaining candidates are still returned.
func (f *Filter) Candidates(query *spectrum.Spectrum) ([]Candidate, error) {
	charge := query.PrecursorCharge()
	info := f.store.SpecInfo(charge)
	if info == nil {
		return nil, nil
	}

	massIdx := massFilterIdx(info, query.PrecursorMZ(), charge,
		f.cfg.PrecursorToleranceMass, f.cfg.PrecursorToleranceMode)
	if len(massIdx) == 0 {
		return nil, nil
	}

	candidateIdx := massIdx
	if f.ann != nil && len(massIdx) > f.cfg.ANNCutoff && f.ann.Exists(charge) {
		neighbors, err := f.ann.Query(charge, f.vectorizer.Vector(query), f.cfg.NumCandidates)
		if err != nil {
			return nil, err
		}
		annSet := make(map[int]bool, len(neighbors))
		for _, local := range neighbors {
			annSet[local] = true
		}
		// Intersect, preserving the mass filter's order for determinism.
		refined := massIdx[:0:0]
		for _, pos := range massIdx {
			if annSet[pos] {
				refined = append(refined, pos)
			}
		}
		candidateIdx = refined
	}

	candidates := make([]Candidate, 0, len(candidateIdx))
	for _, pos := range candidateIdx {
		id := info.IDs[pos]
		spec, err := f.store.GetSpectrum(id, true)
		if err != nil {
			if errors.Transient(err) {
				f.log.Warn("skipping unreadable candidate", "id", id, "error", err)
				continue
			}
			return nil, err
		}
		if !spec.IsValid() {
			continue
		}
		candidates = append(candidates, Candidate{ID: id, Spec: spec})
	}
	return candidates, nil
}

// massFilterIdx returns the positions (into the per-charge candidate
// table) whose precursor mass falls within the tolerance window. An
// unrecognized mode passes every position.
func massFilterIdx(info *library.SpecInfo, precursorMZ float64, charge int, tolMass float64, tolMode string) []int {
	idx := make([]int, 0, 64)
	switch tolMode {
	case config.ToleranceDa:
		for k, m := range info.PrecursorMass {
			if math.Abs(precursorMZ-m)*float64(charge) <= tolMass {
				idx = append(idx, k)
			}
		}
	case config.TolerancePpm:
		for k, m := range info.PrecursorMass {
			if math.Abs(precursorMZ-m)/m*1e6 <= tolMass {
				idx = append(idx, k)
			}
		}
	default:
		for k := range info.PrecursorMass {
			idx = append(idx, k)
		}
	}
	return idx
}
