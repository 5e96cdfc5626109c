package similarity

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/jianshu93/annsolo/internal/errors"
	"github.com/jianshu93/annsolo/internal/spectrum"
)

// Axis selects which peak attribute a metric operates on.
type Axis string

const (
	AxisMZ        Axis = "mz"
	AxisIntensity Axis = "intensity"
)

// Cosine returns the dot product of the matched intensities. Both spectra
// carry L2-normalized intensities after preprocessing, so this is the
// normalized dot product score.
func (s *Scorer) Cosine() float64 {
	var dot float64
	for i := range s.iq {
		dot += s.iq[i] * s.il[i]
	}
	return dot
}

// FracNPeaksQuery returns the number of shared peaks as a fraction of the
// number of query peaks.
func (s *Scorer) FracNPeaksQuery() float64 {
	if s.ssm.Query.NumPeaks() == 0 {
		return 0
	}
	return float64(len(s.iq)) / float64(s.ssm.Query.NumPeaks())
}

// FracNPeaksLibrary returns the number of shared peaks as a fraction of the
// number of library peaks.
func (s *Scorer) FracNPeaksLibrary() float64 {
	if s.ssm.Library.NumPeaks() == 0 {
		return 0
	}
	return float64(len(s.iq)) / float64(s.ssm.Library.NumPeaks())
}

// FracIntensityQuery returns the fraction of explained intensity in the
// query spectrum. An empty match set explains no intensity.
func (s *Scorer) FracIntensityQuery() float64 {
	total := sum(s.ssm.Query.Intensity())
	if total == 0 {
		return 0
	}
	return sum(s.iq) / total
}

// FracIntensityLibrary returns the fraction of explained intensity in the
// library spectrum.
func (s *Scorer) FracIntensityLibrary() float64 {
	total := sum(s.ssm.Library.Intensity())
	if total == 0 {
		return 0
	}
	return sum(s.il) / total
}

// MeanSquaredError returns the MSE between the matched m/z or intensity
// values. An empty match set yields +Inf.
func (s *Scorer) MeanSquaredError(axis Axis) (float64, error) {
	var a, b []float64
	switch axis {
	case AxisMZ:
		a, b = s.mq, s.ml
	case AxisIntensity:
		a, b = s.iq, s.il
	default:
		return 0, errors.Ef(errors.KindBadArgument, "unknown axis %q", axis)
	}
	if len(a) == 0 {
		return math.Inf(1), nil
	}
	var sq float64
	for i := range a {
		d := a[i] - b[i]
		sq += d * d
	}
	return sq / float64(len(a)), nil
}

// SpectralContrastAngle maps the cosine score onto [−1, 1], reaching 1 only
// for identical normalized spectra.
func (s *Scorer) SpectralContrastAngle() float64 {
	cos := math.Max(-1, math.Min(1, s.Cosine()))
	return 1 - 2*math.Acos(cos)/math.Pi
}

// choose returns C(n, k), or 0 outside the valid range.
func choose(n, k int) float64 {
	if k < 0 || k > n || n < 0 {
		return 0
	}
	return combin.GeneralizedBinomial(float64(n), float64(k))
}

// HypergeometricScore sums the hypergeometric probabilities, for a random
// draw of the library peaks over the spectrum bins, of observing k+1 up to
// min(L, B)-1 matches, where k is the actual number of matches, L the
// number of library peaks and B the number of bins. The term for all L
// library peaks matching is not included.
func (s *Scorer) HypergeometricScore(minMZ, maxMZ, binSize float64) float64 {
	nMatched := len(s.iq)
	if nMatched == 0 {
		return 0
	}
	nLibraryPeaks := s.ssm.Library.NumPeaks()
	nBins := spectrum.NumBins(minMZ, maxMZ, binSize)

	upper := nLibraryPeaks
	if nBins < upper {
		upper = nBins
	}
	total := choose(nBins, nLibraryPeaks)
	if total == 0 {
		return 0
	}
	var score float64
	for i := nMatched + 1; i < upper; i++ {
		score += choose(nLibraryPeaks, i) *
			choose(nBins-nLibraryPeaks, nLibraryPeaks-i) / total
	}
	return score
}

// KendallTau returns Kendall's tau rank correlation over the matched
// intensity pairs, or −1 when nothing matches.
func (s *Scorer) KendallTau() float64 {
	if len(s.iq) == 0 {
		return -1
	}
	tau := stat.Kendall(s.iq, s.il, nil)
	if math.IsNaN(tau) {
		return 0
	}
	return tau
}

// MSForIDV1 returns the MSforID (v1) similarity.
func (s *Scorer) MSForIDV1() float64 {
	k := len(s.iq)
	nq, nl := s.ssm.Query.NumPeaks(), s.ssm.Library.NumPeaks()
	if k == 0 || nq == 0 || nl == 0 {
		return 0
	}
	denom := float64(nq) * float64(nl) * math.Pow(math.Max(sumAbsDiff(s.iq, s.il), eps), 0.25)
	return math.Pow(float64(k), 4) / denom
}

// MSForIDV2 returns the MSforID (v2) similarity.
func (s *Scorer) MSForIDV2() float64 {
	k := len(s.iq)
	if k == 0 {
		return 0
	}
	nq, nl := s.ssm.Query.NumPeaks(), s.ssm.Library.NumPeaks()
	num := math.Pow(float64(k), 4) *
		math.Pow(sum(s.ssm.Query.Intensity())+2*sum(s.ssm.Library.Intensity()), 1.25)
	denom := math.Pow(float64(nq)+2*float64(nl), 2) +
		sumAbsDiff(s.iq, s.il) + sumAbsDiff(s.mq, s.ml)
	return num / denom
}

// Manhattan returns the Manhattan distance, counting unmatched peaks on
// both sides at full weight.
func (s *Scorer) Manhattan() float64 {
	return sumAbsDiff(s.iq, s.il) + sum(s.uq) + sum(s.ul)
}

// Euclidean returns the Euclidean distance including unmatched peaks.
func (s *Scorer) Euclidean() float64 {
	var sq float64
	for i := range s.iq {
		d := s.iq[i] - s.il[i]
		sq += d * d
	}
	return math.Sqrt(sq + sumSquares(s.uq) + sumSquares(s.ul))
}

// Chebyshev returns the maximum per-peak deviation including unmatched
// peaks, or 0 when both spectra are empty.
func (s *Scorer) Chebyshev() float64 {
	var max float64
	for i := range s.iq {
		if d := math.Abs(s.iq[i] - s.il[i]); d > max {
			max = d
		}
	}
	for _, x := range s.uq {
		if x > max {
			max = x
		}
	}
	for _, x := range s.ul {
		if x > max {
			max = x
		}
	}
	return max
}

// PearsonR returns the Pearson correlation over the matched intensity
// pairs, or 0 with fewer than two pairs.
func (s *Scorer) PearsonR() float64 {
	if len(s.iq) < 2 {
		return 0
	}
	r := stat.Correlation(s.iq, s.il, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// SpearmanR returns the Spearman rank correlation over the matched
// intensity pairs, or 0 with fewer than two pairs.
func (s *Scorer) SpearmanR() float64 {
	if len(s.iq) < 2 {
		return 0
	}
	r := stat.Correlation(ranks(s.iq), ranks(s.il), nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// ranks assigns fractional ranks with ties averaged.
func ranks(xs []float64) []float64 {
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	// Stable sort keeps equal values in index order before tie averaging.
	sort.SliceStable(order, func(a, b int) bool { return xs[order[a]] < xs[order[b]] })
	r := make([]float64, len(xs))
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && xs[order[j+1]] == xs[order[i]] {
			j++
		}
		// Average rank over the tie run [i, j].
		avg := float64(i+j)/2 + 1
		for t := i; t <= j; t++ {
			r[order[t]] = avg
		}
		i = j + 1
	}
	return r
}

// BrayCurtis returns the Bray-Curtis dissimilarity including unmatched
// peaks, or 0 when the denominator vanishes.
func (s *Scorer) BrayCurtis() float64 {
	unique := sum(s.uq) + sum(s.ul)
	num := sumAbsDiff(s.iq, s.il) + unique
	var denom float64
	for i := range s.iq {
		denom += s.iq[i] + s.il[i]
	}
	denom += unique
	if denom == 0 {
		return 0
	}
	return num / denom
}

// Canberra returns the Canberra distance over the matched pairs plus a
// unit penalty per unmatched peak on either side.
func (s *Scorer) Canberra() float64 {
	var dist float64
	for i := range s.iq {
		denom := math.Abs(s.iq[i]) + math.Abs(s.il[i])
		if denom == 0 {
			continue
		}
		dist += math.Abs(s.iq[i]-s.il[i]) / denom
	}
	k := len(s.iq)
	dist += float64(s.ssm.Query.NumPeaks()-k) + float64(s.ssm.Library.NumPeaks()-k)
	return dist
}

// Ruzicka returns the Ruzicka similarity including unmatched peaks in the
// denominator, or 0 when it vanishes.
func (s *Scorer) Ruzicka() float64 {
	var num, denom float64
	for i := range s.iq {
		num += math.Min(s.iq[i], s.il[i])
		denom += math.Max(s.iq[i], s.il[i])
	}
	denom += sum(s.uq) + sum(s.ul)
	if denom == 0 {
		return 0
	}
	return num / denom
}

// ScribeFragmentAcc returns the Scribe fragmentation accuracy: the log of
// the inverse squared difference between the matched intensity
// distributions. The squared-difference sum is clamped below at 0.001 so
// identical distributions yield a finite maximum.
func (s *Scorer) ScribeFragmentAcc() float64 {
	if len(s.iq) == 0 {
		return 0
	}
	sq, sl := sum(s.iq), sum(s.il)
	if sq == 0 || sl == 0 {
		return 0
	}
	var diff float64
	for i := range s.iq {
		d := s.iq[i]/sq - s.il[i]/sl
		diff += d * d
	}
	return math.Log(1 / math.Max(1e-3, diff))
}
