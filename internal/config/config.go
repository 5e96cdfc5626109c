// Package config loads and validates the annsolo configuration.
//
// Configuration is layered: programmatic defaults, then an optional YAML
// file, then CLI flag overrides applied by the cmd package.
package config

import (
	"crypto/sha1"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jianshu93/annsolo/internal/errors"
)

// ToleranceDa and TolerancePpm are the recognized precursor tolerance modes.
const (
	ToleranceDa  = "Da"
	TolerancePpm = "ppm"
)

// SearchKDefault is the sentinel asking the ANN backend to use its own
// query-time effort default.
const SearchKDefault = -1

// Config holds all recognized options.
type Config struct {
	// Library is the path to the spectral library file.
	Library string `yaml:"library"`
	// IndexDir is where per-charge ANN index files are persisted.
	// Empty means next to the library file.
	IndexDir string `yaml:"index_dir"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// MinMZ and MaxMZ bound the spectrum bin range in Da.
	MinMZ float64 `yaml:"min_mz"`
	MaxMZ float64 `yaml:"max_mz"`
	// BinSize is the bin width in Da; with the range it fixes the ANN
	// vector dimension.
	BinSize float64 `yaml:"bin_size"`

	// PrecursorToleranceMass is the precursor mass window size.
	PrecursorToleranceMass float64 `yaml:"precursor_tolerance_mass"`
	// PrecursorToleranceMode is the window unit: "Da" or "ppm".
	PrecursorToleranceMode string `yaml:"precursor_tolerance_mode"`
	// FragmentMZTolerance is the peak alignment window in Da.
	FragmentMZTolerance float64 `yaml:"fragment_mz_tolerance"`

	// NumCandidates is how many ANN neighbors to retrieve.
	NumCandidates int `yaml:"num_candidates"`
	// ANNCutoff is the mass-filter candidate count above which ANN
	// refinement kicks in.
	ANNCutoff int `yaml:"ann_cutoff"`
	// NumTrees is the ANN build parameter (graph degree).
	NumTrees int `yaml:"num_trees"`
	// SearchK is the ANN query-time effort parameter; SearchKDefault lets
	// the backend choose.
	SearchK int `yaml:"search_k"`
	// NumThreads bounds the index-build worker pool.
	NumThreads int `yaml:"num_threads"`
	// Top restricts similarity-metric variants to the top most-intense
	// library peaks; 0 uses all peaks.
	Top int `yaml:"top"`
	// BruteForce disables ANN refinement and uses the pure mass filter.
	BruteForce bool `yaml:"brute_force"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		LogLevel:               "info",
		MinMZ:                  11,
		MaxMZ:                  2010,
		BinSize:                1.0005079,
		PrecursorToleranceMass: 20,
		PrecursorToleranceMode: TolerancePpm,
		FragmentMZTolerance:    0.5,
		NumCandidates:          1000,
		ANNCutoff:              15000,
		NumTrees:               200,
		SearchK:                SearchKDefault,
		NumThreads:             runtime.NumCPU(),
		Top:                    0,
		BruteForce:             false,
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errors.E(errors.KindNotFound, "config file not found: "+path, err)
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.E(errors.KindBadArgument, "invalid config file: "+path, err)
	}
	return cfg, nil
}

// Validate checks option ranges. It fails fast with BadArgument so invalid
// tolerances never reach the filter pipeline.
func (c Config) Validate() error {
	switch {
	case c.MinMZ <= 0 || c.MaxMZ <= c.MinMZ:
		return errors.Ef(errors.KindBadArgument, "invalid m/z range [%g, %g]", c.MinMZ, c.MaxMZ)
	case c.BinSize <= 0:
		return errors.Ef(errors.KindBadArgument, "bin_size must be positive, got %g", c.BinSize)
	case c.PrecursorToleranceMass < 0:
		return errors.Ef(errors.KindBadArgument, "precursor_tolerance_mass must be non-negative, got %g", c.PrecursorToleranceMass)
	case c.PrecursorToleranceMode != ToleranceDa && c.PrecursorToleranceMode != TolerancePpm:
		return errors.Ef(errors.KindBadArgument, "precursor_tolerance_mode must be %q or %q, got %q", ToleranceDa, TolerancePpm, c.PrecursorToleranceMode)
	case c.FragmentMZTolerance <= 0:
		return errors.Ef(errors.KindBadArgument, "fragment_mz_tolerance must be positive, got %g", c.FragmentMZTolerance)
	case c.NumCandidates <= 0:
		return errors.Ef(errors.KindBadArgument, "num_candidates must be positive, got %d", c.NumCandidates)
	case c.ANNCutoff < 0:
		return errors.Ef(errors.KindBadArgument, "ann_cutoff must be non-negative, got %d", c.ANNCutoff)
	case c.NumTrees <= 0:
		return errors.Ef(errors.KindBadArgument, "num_trees must be positive, got %d", c.NumTrees)
	case c.SearchK <= 0 && c.SearchK != SearchKDefault:
		return errors.Ef(errors.KindBadArgument, "search_k must be positive or %d, got %d", SearchKDefault, c.SearchK)
	case c.NumThreads <= 0:
		return errors.Ef(errors.KindBadArgument, "num_threads must be positive, got %d", c.NumThreads)
	case c.Top < 0:
		return errors.Ef(errors.KindBadArgument, "top must be non-negative, got %d", c.Top)
	}
	return nil
}

// VectorDim returns the binned vector dimension for the configured range.
func (c Config) VectorDim() int {
	return int(math.Ceil((c.MaxMZ - c.MinMZ) / c.BinSize))
}

// indexKeys are the options that shape persisted ANN indices. Changing any
// of them invalidates every index file built under the old values.
func (c Config) indexKeys() map[string]string {
	return map[string]string{
		"min_mz":    fmt.Sprintf("%g", c.MinMZ),
		"max_mz":    fmt.Sprintf("%g", c.MaxMZ),
		"bin_size":  fmt.Sprintf("%g", c.BinSize),
		"num_trees": fmt.Sprintf("%d", c.NumTrees),
	}
}

// Fingerprint returns the SHA-1 hash of the canonical representation of the
// index-affecting options.
func (c Config) Fingerprint() string {
	keys := c.indexKeys()
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(keys[name])
	}
	return fmt.Sprintf("%x", sha1.Sum([]byte(sb.String())))
}

// ShortFingerprint returns the first 7 hex characters of Fingerprint, the
// form embedded in persisted index filenames.
func (c Config) ShortFingerprint() string {
	return c.Fingerprint()[:7]
}
