package search

import (
	"math"

	"github.com/jianshu93/annsolo/internal/spectrum"
)

// alignPeaks pairs query and library peaks within the fragment m/z
// tolerance. Each peak is used at most once; every query peak is paired
// with the closest unused library peak inside the window, ties breaking on
// the lower library index. Matches are emitted in query-peak order, which
// downstream consumers rely on for determinism.
func alignPeaks(query, lib *spectrum.Spectrum, fragTol float64) []spectrum.PeakMatch {
	qmz, lmz := query.MZ(), lib.MZ()
	matches := make([]spectrum.PeakMatch, 0, min(len(qmz), len(lmz)))
	used := make([]bool, len(lmz))

	lo := 0
	for qi := range qmz {
		for lo < len(lmz) && lmz[lo] < qmz[qi]-fragTol {
			lo++
		}
		best := -1
		bestDelta := math.Inf(1)
		for lj := lo; lj < len(lmz) && lmz[lj] <= qmz[qi]+fragTol; lj++ {
			if used[lj] {
				continue
			}
			if delta := math.Abs(lmz[lj] - qmz[qi]); delta < bestDelta {
				best = lj
				bestDelta = delta
			}
		}
		if best >= 0 {
			used[best] = true
			matches = append(matches, spectrum.PeakMatch{Query: qi, Library: best})
		}
	}
	return matches
}

// matchScore is the spectral dot product over aligned peaks. With
// L2-normalized intensities this is the cosine score.
func matchScore(query, lib *spectrum.Spectrum, matches []spectrum.PeakMatch) float64 {
	qint, lint := query.Intensity(), lib.Intensity()
	var score float64
	for _, m := range matches {
		score += qint[m.Query] * lint[m.Library]
	}
	return score
}

// bestMatch aligns the query against every candidate and returns the
// highest-scoring one. Ties keep the earlier candidate (library id order).
func bestMatch(query *spectrum.Spectrum, candidates []Candidate, fragTol float64) (Candidate, float64, []spectrum.PeakMatch, bool) {
	var (
		found       bool
		best        Candidate
		bestScore   = math.Inf(-1)
		bestMatches []spectrum.PeakMatch
	)
	for _, cand := range candidates {
		matches := alignPeaks(query, cand.Spec, fragTol)
		if len(matches) == 0 {
			continue
		}
		if score := matchScore(query, cand.Spec, matches); score > bestScore {
			found = true
			best = cand
			bestScore = score
			bestMatches = matches
		}
	}
	if !found {
		return Candidate{}, 0, nil, false
	}
	return best, bestScore, bestMatches, true
}
