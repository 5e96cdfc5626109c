package similarity

// Features is the battery of similarity scores computed for a confirmed
// spectrum-spectrum match, used downstream for rescoring.
type Features struct {
	Cosine                float64
	NumMatchedPeaks       int
	FracNPeaksQuery       float64
	FracNPeaksLibrary     float64
	FracIntensityQuery    float64
	FracIntensityLibrary  float64
	MSEMZ                 float64
	MSEIntensity          float64
	SpectralContrastAngle float64
	HypergeometricScore   float64
	KendallTau            float64
	MSForIDV1             float64
	MSForIDV2             float64
	Manhattan             float64
	Euclidean             float64
	Chebyshev             float64
	PearsonR              float64
	SpearmanR             float64
	BrayCurtis            float64
	Canberra              float64
	Ruzicka               float64
	ScribeFragmentAcc     float64
	Entropy               float64
	EntropyWeighted       float64
}

// ComputeFeatures evaluates the full catalog on one Scorer. The bin range
// parameterizes the hypergeometric score.
func ComputeFeatures(s *Scorer, minMZ, maxMZ, binSize float64) Features {
	mseMZ, _ := s.MeanSquaredError(AxisMZ)
	mseIntensity, _ := s.MeanSquaredError(AxisIntensity)
	return Features{
		Cosine:                s.Cosine(),
		NumMatchedPeaks:       s.NumMatchedPeaks(),
		FracNPeaksQuery:       s.FracNPeaksQuery(),
		FracNPeaksLibrary:     s.FracNPeaksLibrary(),
		FracIntensityQuery:    s.FracIntensityQuery(),
		FracIntensityLibrary:  s.FracIntensityLibrary(),
		MSEMZ:                 mseMZ,
		MSEIntensity:          mseIntensity,
		SpectralContrastAngle: s.SpectralContrastAngle(),
		HypergeometricScore:   s.HypergeometricScore(minMZ, maxMZ, binSize),
		KendallTau:            s.KendallTau(),
		MSForIDV1:             s.MSForIDV1(),
		MSForIDV2:             s.MSForIDV2(),
		Manhattan:             s.Manhattan(),
		Euclidean:             s.Euclidean(),
		Chebyshev:             s.Chebyshev(),
		PearsonR:              s.PearsonR(),
		SpearmanR:             s.SpearmanR(),
		BrayCurtis:            s.BrayCurtis(),
		Canberra:              s.Canberra(),
		Ruzicka:               s.Ruzicka(),
		ScribeFragmentAcc:     s.ScribeFragmentAcc(),
		Entropy:               s.Entropy(false),
		EntropyWeighted:       s.Entropy(true),
	}
}
