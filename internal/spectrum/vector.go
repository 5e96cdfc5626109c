package spectrum

import (
	"math"

	"github.com/jianshu93/annsolo/internal/errors"
)

// Vectorizer bins spectra into fixed-dimension vectors for ANN lookup.
// Intensities are summed per bin and the result is L2-normalized so cosine
// distance on vectors approximates the spectral dot product.
type Vectorizer struct {
	minMZ   float64
	maxMZ   float64
	binSize float64
	dim     int
}

// NewVectorizer creates a vectorizer over [minMZ, maxMZ] at binSize.
func NewVectorizer(minMZ, maxMZ, binSize float64) (*Vectorizer, error) {
	if minMZ <= 0 || maxMZ <= minMZ {
		return nil, errors.Ef(errors.KindBadArgument, "invalid m/z range [%g, %g]", minMZ, maxMZ)
	}
	if binSize <= 0 {
		return nil, errors.Ef(errors.KindBadArgument, "bin size must be positive, got %g", binSize)
	}
	return &Vectorizer{
		minMZ:   minMZ,
		maxMZ:   maxMZ,
		binSize: binSize,
		dim:     NumBins(minMZ, maxMZ, binSize),
	}, nil
}

// NumBins returns the number of bins spanning [minMZ, maxMZ] at binSize.
func NumBins(minMZ, maxMZ, binSize float64) int {
	return int(math.Ceil((maxMZ - minMZ) / binSize))
}

// Dim returns the vector dimension.
func (v *Vectorizer) Dim() int { return v.dim }

// Vector returns the binned vector for the spectrum. The result is cached
// on the spectrum; a trial view made after the vector was computed reuses
// it, while a view made before computes and caches its own.
func (v *Vectorizer) Vector(s *Spectrum) []float32 {
	if s.vector != nil {
		return s.vector
	}
	vec := make([]float32, v.dim)
	for i := range s.mz {
		bin := int((s.mz[i] - v.minMZ) / v.binSize)
		if bin < 0 || bin >= v.dim {
			continue
		}
		vec[bin] += float32(s.intensity[i])
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	s.vector = vec
	return vec
}
