// Package similarity computes distance and similarity features over a
// spectrum-spectrum match. A Scorer materializes the matched peak arrays
// once and exposes the full metric catalog as pure methods; it never
// mutates the underlying SSM.
package similarity

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/jianshu93/annsolo/internal/errors"
	"github.com/jianshu93/annsolo/internal/spectrum"
)

// eps is the machine epsilon used to guard vanishing denominators.
var eps = math.Nextafter(1, 2) - 1

// Scorer precomputes the matched and unmatched peak arrays of an SSM.
type Scorer struct {
	ssm     *spectrum.SSM
	matches []spectrum.PeakMatch

	// Matched query/library m/z and intensity, in peak-match order,
	// optionally restricted to the top most-intense library peaks.
	mq, iq, ml, il []float64

	// Unmatched intensities on either side.
	uq, ul []float64
}

// Option configures a Scorer.
type Option func(*scorerOptions)

type scorerOptions struct {
	top    int
	topSet bool
}

// WithTop restricts the matched arrays to matches involving the n
// most-intense library peaks. n must be positive.
func WithTop(n int) Option {
	return func(o *scorerOptions) { o.top = n; o.topSet = true }
}

// New creates a Scorer for the given SSM.
func New(ssm *spectrum.SSM, opts ...Option) (*Scorer, error) {
	var o scorerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.topSet && o.top <= 0 {
		return nil, errors.Ef(errors.KindBadArgument, "top must be positive, got %d", o.top)
	}

	matches := ssm.PeakMatches
	if o.top > 0 && o.top < ssm.Library.NumPeaks() {
		keep := topLibraryPeaks(ssm.Library.Intensity(), o.top)
		restricted := make([]spectrum.PeakMatch, 0, len(matches))
		for _, m := range matches {
			if keep[m.Library] {
				restricted = append(restricted, m)
			}
		}
		matches = restricted
	}

	s := &Scorer{ssm: ssm, matches: matches}
	qmz, qint := ssm.Query.MZ(), ssm.Query.Intensity()
	lmz, lint := ssm.Library.MZ(), ssm.Library.Intensity()

	s.mq = make([]float64, len(matches))
	s.iq = make([]float64, len(matches))
	s.ml = make([]float64, len(matches))
	s.il = make([]float64, len(matches))
	qUsed := make([]bool, len(qint))
	lUsed := make([]bool, len(lint))
	for i, m := range matches {
		s.mq[i] = qmz[m.Query]
		s.iq[i] = qint[m.Query]
		s.ml[i] = lmz[m.Library]
		s.il[i] = lint[m.Library]
		qUsed[m.Query] = true
		lUsed[m.Library] = true
	}

	for i, used := range qUsed {
		if !used {
			s.uq = append(s.uq, qint[i])
		}
	}
	for i, used := range lUsed {
		if !used {
			s.ul = append(s.ul, lint[i])
		}
	}
	return s, nil
}

// topLibraryPeaks selects the indices of the n most-intense peaks, ties
// breaking on the lower index for determinism.
func topLibraryPeaks(intensity []float64, n int) map[int]bool {
	order := make([]int, len(intensity))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return intensity[order[a]] > intensity[order[b]]
	})
	keep := make(map[int]bool, n)
	for _, idx := range order[:n] {
		keep[idx] = true
	}
	return keep
}

// NumMatchedPeaks returns the number of peak matches in this view.
func (s *Scorer) NumMatchedPeaks() int { return len(s.iq) }

func sum(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Sum(xs)
}

func sumSquares(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x * x
	}
	return t
}

func sumAbsDiff(a, b []float64) float64 {
	var t float64
	for i := range a {
		t += math.Abs(a[i] - b[i])
	}
	return t
}
