// Package library provides the spectral library store. Opening a library
// text file (MGF or MSP) parses it once into a SQLite sidecar database
// keyed by a configuration fingerprint; later opens reuse the sidecar and
// serve per-charge precursor tables and individual spectra from it.
package library

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/jianshu93/annsolo/internal/errors"
	"github.com/jianshu93/annsolo/internal/mgf"
	"github.com/jianshu93/annsolo/internal/spectrum"
)

const defaultCacheSize = 4096

// SpecInfo holds the per-charge candidate table: library identifiers and
// the precursor m/z values they were observed at, sorted by identifier.
type SpecInfo struct {
	IDs           []int64
	PrecursorMass []float64
}

// Store is a spectral library backed by a SQLite sidecar.
type Store struct {
	db     *sql.DB
	path   string
	dbPath string
	log    *slog.Logger

	isRecreated bool
	charges     []int
	info        map[int]*SpecInfo

	preprocess func(*spectrum.Spectrum) *spectrum.Spectrum
	cache      *lru.Cache[int64, *spectrum.Spectrum]
}

// Option configures a Store.
type Option func(*Store)

// WithPreprocess applies the given peak preprocessing to every spectrum
// returned with peaks loaded. Cached entries hold the processed form.
func WithPreprocess(fn func(*spectrum.Spectrum) *spectrum.Spectrum) Option {
	return func(s *Store) { s.preprocess = fn }
}

// WithCacheSize overrides the decoded-spectrum LRU capacity.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			cache, _ := lru.New[int64, *spectrum.Spectrum](n)
			s.cache = cache
		}
	}
}

// Open opens the library at path. fingerprint is the short configuration
// fingerprint; if the sidecar was built under a different fingerprint the
// library is re-parsed and IsRecreated reports true, which forces ANN index
// rebuilds upstream.
func Open(path, fingerprint string, opts ...Option) (*Store, error) {
	srcInfo, err := os.Stat(path)
	if err != nil {
		return nil, errors.E(errors.KindNotFound, "spectral library not found: "+path, err)
	}

	s := &Store{
		path:   path,
		dbPath: Stem(path) + ".splib.db",
		log:    slog.Default(),
		info:   map[int]*SpecInfo{},
	}
	s.cache, _ = lru.New[int64, *spectrum.Spectrum](defaultCacheSize)
	for _, opt := range opts {
		opt(s)
	}

	rebuild, err := s.needsRebuild(fingerprint, srcInfo.ModTime().UnixNano())
	if err != nil {
		return nil, err
	}
	if rebuild {
		s.log.Info("parsing spectral library", "library", path)
		if err := s.build(fingerprint, srcInfo.ModTime().UnixNano()); err != nil {
			return nil, err
		}
		s.isRecreated = true
	}

	s.db, err = sql.Open("sqlite", s.dbPath+"?mode=ro")
	if err != nil {
		return nil, errors.E(errors.KindBackendFailure, "cannot open library database", err)
	}
	if err := s.loadSpecInfo(); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// Stem returns the library path without its extension, the base for
// sidecar and index filenames.
func Stem(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// IsRecreated reports whether this open re-parsed the library, meaning any
// persisted ANN indices predate the current sidecar.
func (s *Store) IsRecreated() bool { return s.isRecreated }

// Path returns the library source path.
func (s *Store) Path() string { return s.path }

// Charges returns the precursor charges present in the library, ascending.
func (s *Store) Charges() []int { return s.charges }

// SpecInfo returns the candidate table for the given charge, or nil when
// the library holds no spectra at that charge.
func (s *Store) SpecInfo(charge int) *SpecInfo { return s.info[charge] }

// needsRebuild decides whether the sidecar must be re-parsed.
func (s *Store) needsRebuild(fingerprint string, srcMtime int64) (bool, error) {
	if _, err := os.Stat(s.dbPath); os.IsNotExist(err) {
		return true, nil
	}
	db, err := sql.Open("sqlite", s.dbPath+"?mode=ro")
	if err != nil {
		return true, nil
	}
	defer db.Close()

	var storedFP string
	var storedMtime int64
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'fingerprint'`).Scan(&storedFP); err != nil {
		return true, nil
	}
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'source_mtime'`).Scan(&storedMtime); err != nil {
		return true, nil
	}
	if storedFP != fingerprint {
		s.log.Warn("library sidecar was created with incompatible settings", "have", storedFP, "want", fingerprint)
		return true, nil
	}
	return storedMtime != srcMtime, nil
}

// build parses the source file into a fresh sidecar, written to a
// temporary path and renamed into place.
func (s *Store) build(fingerprint string, srcMtime int64) error {
	tmpPath := s.dbPath + ".tmp"
	os.Remove(tmpPath)
	db, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return errors.E(errors.KindBackendFailure, "cannot create library database", err)
	}
	defer db.Close()

	schema := `
		CREATE TABLE spectra (
			id            INTEGER PRIMARY KEY,
			identifier    TEXT NOT NULL,
			charge        INTEGER NOT NULL,
			precursor_mz  REAL NOT NULL,
			peaks         BLOB NOT NULL
		);
		CREATE INDEX idx_spectra_charge ON spectra(charge, id);
		CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`
	if _, err := db.Exec(schema); err != nil {
		return errors.E(errors.KindBackendFailure, "cannot create library schema", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.E(errors.KindBackendFailure, "cannot start library transaction", err)
	}
	defer tx.Rollback()
	insert, err := tx.Prepare(`INSERT INTO spectra (id, identifier, charge, precursor_mz, peaks) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.E(errors.KindBackendFailure, "cannot prepare library insert", err)
	}
	defer insert.Close()

	var nextID int64
	var skipped int
	err = s.parseSource(func(spec *spectrum.Spectrum) error {
		if spec.PrecursorCharge() <= 0 {
			skipped++
			return nil
		}
		blob, err := encodePeaks(spec.MZ(), spec.Intensity())
		if err != nil {
			return err
		}
		_, err = insert.Exec(nextID, spec.Identifier(), spec.PrecursorCharge(), spec.PrecursorMZ(), blob)
		if err != nil {
			return errors.E(errors.KindBackendFailure, "cannot insert library spectrum", err)
		}
		nextID++
		return nil
	})
	if err != nil {
		return err
	}
	if nextID == 0 {
		return errors.Ef(errors.KindBadArgument, "library %s contains no usable spectra", s.path)
	}
	if skipped > 0 {
		s.log.Warn("skipped library spectra without a known charge", "count", skipped)
	}

	for key, value := range map[string]string{
		"fingerprint":  fingerprint,
		"source_mtime": fmt.Sprintf("%d", srcMtime),
	} {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return errors.E(errors.KindBackendFailure, "cannot store library metadata", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.E(errors.KindBackendFailure, "cannot commit library build", err)
	}
	if err := db.Close(); err != nil {
		return errors.E(errors.KindBackendFailure, "cannot close library database", err)
	}
	if err := os.Rename(tmpPath, s.dbPath); err != nil {
		os.Remove(tmpPath)
		return errors.E(errors.KindBackendFailure, "cannot move library database into place", err)
	}
	s.log.Info("library sidecar built", "spectra", nextID, "path", s.dbPath)
	return nil
}

// parseSource streams raw spectra from the MGF or MSP source file.
func (s *Store) parseSource(fn func(*spectrum.Spectrum) error) error {
	ext := strings.ToLower(filepath.Ext(s.path))
	switch ext {
	case ".mgf":
		spectra, err := mgf.ReadFile(s.path)
		if err != nil {
			return err
		}
		for _, spec := range spectra {
			if err := fn(spec); err != nil {
				return err
			}
		}
		return nil
	case ".msp", ".sptxt":
		spectra, err := mgf.ReadMSPFile(s.path)
		if err != nil {
			return err
		}
		for _, spec := range spectra {
			if err := fn(spec); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Ef(errors.KindNotFound, "unsupported library format %q", ext)
	}
}

// loadSpecInfo materializes the per-charge candidate tables, ordered by id.
func (s *Store) loadSpecInfo() error {
	rows, err := s.db.Query(`SELECT id, charge, precursor_mz FROM spectra ORDER BY id`)
	if err != nil {
		return errors.E(errors.KindBackendFailure, "cannot load library candidate tables", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var charge int
		var precursorMZ float64
		if err := rows.Scan(&id, &charge, &precursorMZ); err != nil {
			return errors.E(errors.KindBackendFailure, "cannot scan library row", err)
		}
		info := s.info[charge]
		if info == nil {
			info = &SpecInfo{}
			s.info[charge] = info
		}
		info.IDs = append(info.IDs, id)
		info.PrecursorMass = append(info.PrecursorMass, precursorMZ)
	}
	if err := rows.Err(); err != nil {
		return errors.E(errors.KindBackendFailure, "cannot read library rows", err)
	}

	s.charges = s.charges[:0]
	for charge := range s.info {
		s.charges = append(s.charges, charge)
	}
	sort.Ints(s.charges)
	return nil
}

// GetSpectrum reads one library spectrum by identifier. With loadPeaks the
// peak arrays are decoded (and preprocessed when configured); otherwise
// only the precursor metadata is populated.
func (s *Store) GetSpectrum(id int64, loadPeaks bool) (*spectrum.Spectrum, error) {
	if loadPeaks {
		if cached, ok := s.cache.Get(id); ok {
			return cached, nil
		}
	}

	var identifier string
	var charge int
	var precursorMZ float64
	var blob []byte
	row := s.db.QueryRow(`SELECT identifier, charge, precursor_mz, peaks FROM spectra WHERE id = ?`, id)
	if err := row.Scan(&identifier, &charge, &precursorMZ, &blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Ef(errors.KindNotFound, "no library spectrum with id %d", id)
		}
		return nil, errors.E(errors.KindTransientIO, fmt.Sprintf("cannot read library spectrum %d", id), err)
	}

	if !loadPeaks {
		return spectrum.New(identifier, precursorMZ, charge, nil, nil)
	}
	mzs, intensities, err := decodePeaks(blob)
	if err != nil {
		return nil, errors.E(errors.KindTransientIO, fmt.Sprintf("cannot decode library spectrum %d", id), err)
	}
	spec, err := spectrum.New(identifier, precursorMZ, charge, mzs, intensities)
	if err != nil {
		return nil, errors.E(errors.KindTransientIO, fmt.Sprintf("corrupt library spectrum %d", id), err)
	}
	if s.preprocess != nil {
		spec = s.preprocess(spec)
	}
	s.cache.Add(id, spec)
	return spec, nil
}

// AllSpectra streams every library spectrum (with peaks, preprocessed when
// configured) through fn in id order.
func (s *Store) AllSpectra(fn func(id int64, spec *spectrum.Spectrum) error) error {
	rows, err := s.db.Query(`SELECT id, identifier, charge, precursor_mz, peaks FROM spectra ORDER BY id`)
	if err != nil {
		return errors.E(errors.KindBackendFailure, "cannot iterate library spectra", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var identifier string
		var charge int
		var precursorMZ float64
		var blob []byte
		if err := rows.Scan(&id, &identifier, &charge, &precursorMZ, &blob); err != nil {
			return errors.E(errors.KindBackendFailure, "cannot scan library spectrum", err)
		}
		mzs, intensities, err := decodePeaks(blob)
		if err != nil {
			return errors.E(errors.KindBackendFailure, fmt.Sprintf("cannot decode library spectrum %d", id), err)
		}
		spec, err := spectrum.New(identifier, precursorMZ, charge, mzs, intensities)
		if err != nil {
			return errors.E(errors.KindBackendFailure, fmt.Sprintf("corrupt library spectrum %d", id), err)
		}
		if s.preprocess != nil {
			spec = s.preprocess(spec)
		}
		if err := fn(id, spec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
