package library

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// peakData is the msgpack wire form of a spectrum's peak arrays.
type peakData struct {
	MZ        []float64 `msgpack:"mz"`
	Intensity []float64 `msgpack:"intensity"`
}

func encodePeaks(mz, intensity []float64) ([]byte, error) {
	blob, err := msgpack.Marshal(peakData{MZ: mz, Intensity: intensity})
	if err != nil {
		return nil, fmt.Errorf("encode peaks: %w", err)
	}
	return blob, nil
}

func decodePeaks(blob []byte) ([]float64, []float64, error) {
	var data peakData
	if err := msgpack.Unmarshal(blob, &data); err != nil {
		return nil, nil, fmt.Errorf("decode peaks: %w", err)
	}
	if len(data.MZ) != len(data.Intensity) {
		return nil, nil, fmt.Errorf("decode peaks: length mismatch %d vs %d", len(data.MZ), len(data.Intensity))
	}
	return data.MZ, data.Intensity, nil
}
