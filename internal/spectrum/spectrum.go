// Package spectrum holds the tandem mass spectrum model: peak arrays,
// precursor metadata, peak preprocessing, binned vectors for ANN lookup,
// and the spectrum-spectrum match record.
package spectrum

import (
	"math"
	"sort"

	"github.com/jianshu93/annsolo/internal/errors"
)

// ChargeUnknown marks a query spectrum whose precursor charge could not be
// determined; the search driver tries multiple charge states for it.
const ChargeUnknown = 0

// Peak quality thresholds, following ANN-SoLo's preprocessing defaults.
const (
	minPeaksValid   = 10
	minMZRangeValid = 250.0

	maxPeaksUsed     = 50
	noiseFraction    = 0.05
	precursorWindow  = 1.5
	intensityScaling = 0.5 // sqrt scaling tames dominant peaks
)

// Spectrum is an immutable tandem mass spectrum. The peak arrays are
// parallel, sorted by ascending m/z. Callers must not mutate the slices
// returned by accessors.
type Spectrum struct {
	identifier      string
	precursorMZ     float64
	precursorCharge int

	mz        []float64
	intensity []float64

	processed bool
	valid     bool

	vector []float32
}

// New creates a spectrum from parallel peak arrays. The arrays must have
// equal length and mz must be strictly increasing.
func New(identifier string, precursorMZ float64, precursorCharge int, mz, intensity []float64) (*Spectrum, error) {
	if len(mz) != len(intensity) {
		return nil, errors.Ef(errors.KindBadArgument,
			"peak array length mismatch: %d m/z values, %d intensities", len(mz), len(intensity))
	}
	for i := 1; i < len(mz); i++ {
		if mz[i] <= mz[i-1] {
			return nil, errors.Ef(errors.KindBadArgument,
				"m/z values must be strictly increasing (index %d: %g after %g)", i, mz[i], mz[i-1])
		}
	}
	return &Spectrum{
		identifier:      identifier,
		precursorMZ:     precursorMZ,
		precursorCharge: precursorCharge,
		mz:              mz,
		intensity:       intensity,
	}, nil
}

// Identifier returns the stable spectrum identifier.
func (s *Spectrum) Identifier() string { return s.identifier }

// PrecursorMZ returns the precursor mass-to-charge ratio.
func (s *Spectrum) PrecursorMZ() float64 { return s.precursorMZ }

// PrecursorCharge returns the precursor charge, or ChargeUnknown.
func (s *Spectrum) PrecursorCharge() int { return s.precursorCharge }

// NumPeaks returns the number of peaks.
func (s *Spectrum) NumPeaks() int { return len(s.mz) }

// MZ returns the peak m/z array.
func (s *Spectrum) MZ() []float64 { return s.mz }

// Intensity returns the peak intensity array.
func (s *Spectrum) Intensity() []float64 { return s.intensity }

// WithCharge returns a trial view of the spectrum with the given precursor
// charge. The view shares the underlying peak buffers.
func (s *Spectrum) WithCharge(charge int) *Spectrum {
	trial := *s
	trial.precursorCharge = charge
	return &trial
}

// IsValid reports whether the spectrum is of sufficient quality to take
// part in a search. Only meaningful after Process.
func (s *Spectrum) IsValid() bool {
	return s.processed && s.valid
}

// IsProcessed reports whether peak preprocessing has run.
func (s *Spectrum) IsProcessed() bool { return s.processed }

// Process returns a preprocessed copy of the spectrum: peaks restricted to
// [minMZ, maxMZ], the precursor peak region removed, low-intensity noise
// discarded, at most maxPeaksUsed most-intense peaks retained, intensities
// sqrt-scaled and L2-normalized. Processing an already processed spectrum
// returns it unchanged.
func (s *Spectrum) Process(minMZ, maxMZ float64) *Spectrum {
	if s.processed {
		return s
	}

	mz := make([]float64, 0, len(s.mz))
	intensity := make([]float64, 0, len(s.intensity))
	var base float64
	for i := range s.mz {
		if s.mz[i] < minMZ || s.mz[i] > maxMZ {
			continue
		}
		if math.Abs(s.mz[i]-s.precursorMZ) <= precursorWindow {
			continue
		}
		mz = append(mz, s.mz[i])
		intensity = append(intensity, s.intensity[i])
		if s.intensity[i] > base {
			base = s.intensity[i]
		}
	}

	// Noise removal relative to the base peak.
	kept := 0
	for i := range mz {
		if intensity[i] >= noiseFraction*base {
			mz[kept] = mz[i]
			intensity[kept] = intensity[i]
			kept++
		}
	}
	mz, intensity = mz[:kept], intensity[:kept]

	// Keep only the most intense peaks, restoring m/z order afterwards.
	if len(mz) > maxPeaksUsed {
		order := make([]int, len(mz))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return intensity[order[a]] > intensity[order[b]]
		})
		order = order[:maxPeaksUsed]
		sort.Ints(order)
		topMZ := make([]float64, maxPeaksUsed)
		topIntensity := make([]float64, maxPeaksUsed)
		for i, idx := range order {
			topMZ[i] = mz[idx]
			topIntensity[i] = intensity[idx]
		}
		mz, intensity = topMZ, topIntensity
	}

	var norm float64
	for i := range intensity {
		intensity[i] = math.Pow(intensity[i], intensityScaling)
		norm += intensity[i] * intensity[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range intensity {
			intensity[i] /= norm
		}
	}

	processed := &Spectrum{
		identifier:      s.identifier,
		precursorMZ:     s.precursorMZ,
		precursorCharge: s.precursorCharge,
		mz:              mz,
		intensity:       intensity,
		processed:       true,
	}
	processed.valid = len(mz) >= minPeaksValid && mz[len(mz)-1]-mz[0] >= minMZRangeValid
	return processed
}
