package spectrum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	// Mismatched array lengths are rejected.
	_, err := New("q", 500, 2, []float64{100, 200}, []float64{1})
	require.Error(t, err)

	// Non-increasing m/z values are rejected.
	_, err = New("q", 500, 2, []float64{100, 100}, []float64{1, 1})
	require.Error(t, err)
	_, err = New("q", 500, 2, []float64{200, 100}, []float64{1, 1})
	require.Error(t, err)

	s, err := New("q", 500, 2, []float64{100, 200}, []float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, "q", s.Identifier())
	assert.Equal(t, 500.0, s.PrecursorMZ())
	assert.Equal(t, 2, s.PrecursorCharge())
	assert.Equal(t, 2, s.NumPeaks())
	assert.False(t, s.IsValid())
}

func TestWithCharge_SharesPeaks(t *testing.T) {
	s, err := New("q", 500, ChargeUnknown, []float64{100, 200}, []float64{1, 1})
	require.NoError(t, err)

	trial := s.WithCharge(3)
	assert.Equal(t, 3, trial.PrecursorCharge())
	assert.Equal(t, ChargeUnknown, s.PrecursorCharge())
	// The views share the underlying peak buffers.
	assert.Equal(t, &s.MZ()[0], &trial.MZ()[0])
}

// validPeaks builds a peak list that survives preprocessing: enough peaks
// spanning a wide m/z range with comparable intensities.
func validPeaks() ([]float64, []float64) {
	mz := make([]float64, 12)
	intensity := make([]float64, 12)
	for i := range mz {
		mz[i] = 100 + float64(i)*30
		intensity[i] = 50 + float64(i)
	}
	return mz, intensity
}

func TestProcess_ValidSpectrum(t *testing.T) {
	mz, intensity := validPeaks()
	s, err := New("q", 900, 2, mz, intensity)
	require.NoError(t, err)

	processed := s.Process(11, 2010)
	assert.True(t, processed.IsProcessed())
	assert.True(t, processed.IsValid())
	assert.Equal(t, len(mz), processed.NumPeaks())

	// Intensities are L2-normalized.
	var norm float64
	for _, x := range processed.Intensity() {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-9)

	// Processing is idempotent.
	assert.Same(t, processed, processed.Process(11, 2010))
}

func TestProcess_FiltersNoiseAndRange(t *testing.T) {
	// Given: strong peaks plus one below the noise threshold and one
	// outside the m/z range
	mz, intensity := validPeaks()
	mz = append(mz, 480, 2500)
	intensity = append(intensity, 0.01, 100)
	s, err := New("q", 900, 2, mz, intensity)
	require.NoError(t, err)

	processed := s.Process(11, 2010)

	// Then: both extra peaks are dropped
	assert.Equal(t, 12, processed.NumPeaks())
	for _, m := range processed.MZ() {
		assert.LessOrEqual(t, m, 2010.0)
	}
}

func TestProcess_RemovesPrecursorPeak(t *testing.T) {
	mz, intensity := validPeaks()
	// Put the precursor m/z right on the last peak (430).
	s, err := New("q", 430, 2, mz, intensity)
	require.NoError(t, err)

	processed := s.Process(11, 2010)
	for _, m := range processed.MZ() {
		assert.Greater(t, mathAbs(m-430), 1.5)
	}
}

func mathAbs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestProcess_TooFewPeaksInvalid(t *testing.T) {
	s, err := New("q", 500, 2, []float64{100, 400}, []float64{1, 1})
	require.NoError(t, err)
	assert.False(t, s.Process(11, 2010).IsValid())
}

func TestProcess_NarrowRangeInvalid(t *testing.T) {
	// 12 peaks packed into a 110 Da window fail the m/z span check.
	mz := make([]float64, 12)
	intensity := make([]float64, 12)
	for i := range mz {
		mz[i] = 300 + float64(i)*10
		intensity[i] = 10
	}
	s, err := New("q", 800, 2, mz, intensity)
	require.NoError(t, err)
	assert.False(t, s.Process(11, 2010).IsValid())
}

func TestProcess_KeepsMostIntensePeaks(t *testing.T) {
	// Given: more peaks than the per-spectrum cap
	n := 80
	mz := make([]float64, n)
	intensity := make([]float64, n)
	for i := range mz {
		mz[i] = 100 + float64(i)*10
		intensity[i] = float64(i + 1)
	}
	s, err := New("q", 2000, 2, mz, intensity)
	require.NoError(t, err)

	processed := s.Process(11, 2010)

	// Then: only the cap survives, still ordered by m/z
	assert.Equal(t, 50, processed.NumPeaks())
	for i := 1; i < processed.NumPeaks(); i++ {
		assert.Greater(t, processed.MZ()[i], processed.MZ()[i-1])
	}
}

func TestVectorizer(t *testing.T) {
	v, err := NewVectorizer(100, 200, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 100, v.Dim())

	_, err = NewVectorizer(200, 100, 1.0)
	require.Error(t, err)
	_, err = NewVectorizer(100, 200, 0)
	require.Error(t, err)
}

func TestVectorizer_BinsAndNormalizes(t *testing.T) {
	v, err := NewVectorizer(100, 200, 10)
	require.NoError(t, err)

	// Peaks at 105 and 107 share bin 0; 195 lands in bin 9. Bin 0 sums
	// 3+1, matching the 4 in bin 9.
	s, err := New("q", 500, 2, []float64{105, 107, 195}, []float64{3, 1, 4})
	require.NoError(t, err)

	vec := v.Vector(s)
	require.Len(t, vec, 10)
	assert.Equal(t, vec[0], vec[9])

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)

	// The vector is cached on the spectrum.
	assert.Equal(t, &vec[0], &v.Vector(s)[0])
}

func TestNumBins(t *testing.T) {
	assert.Equal(t, 100, NumBins(100, 200, 1.0))
	assert.Equal(t, 10, NumBins(100, 200, 10))
	// A fractional remainder rounds up.
	assert.Equal(t, 34, NumBins(0, 100, 3))
}
