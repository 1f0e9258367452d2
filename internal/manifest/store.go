package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/rs/zerolog/log"
)

// StoreOptions configures a Store
type StoreOptions struct {
	// Debug re-reads the mapping file on every Snapshot
	Debug   bool
	Metrics *observability.Metrics
}

// WriteOptions configures Store.Write
type WriteOptions struct {
	// Merge keeps keys from the file on disk that the new mapping does not set
	Merge bool
}

// Store holds the persisted mapping. Readers never observe a partial write:
// the file is replaced with a rename and the in-memory copy is swapped
// atomically.
type Store struct {
	path    string
	debug   bool
	metrics *observability.Metrics

	current atomic.Pointer[Mapping]
	loaded  atomic.Bool
	writeMu sync.Mutex
}

// NewStore creates a store backed by the mapping file at path. Nothing is
// read until the first Load or Snapshot.
func NewStore(path string, opts StoreOptions) *Store {
	return &Store{path: path, debug: opts.Debug, metrics: opts.Metrics}
}

// Path returns the mapping file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the mapping file and swaps it in. A missing file yields an
// empty mapping. On a read or decode error the current mapping, empty if
// none was loaded yet, is kept and counts as loaded.
func (s *Store) Load() (Mapping, error) {
	m, err := s.read()
	if err != nil {
		s.loaded.Store(true)
		s.metrics.RecordMappingReload(0, err)
		return s.Current(), err
	}
	s.swap(m)
	s.metrics.RecordMappingReload(len(m), nil)
	return m, nil
}

func (s *Store) read() (Mapping, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	return DecodeMapping(s.path, data)
}

// Current returns the in-memory mapping without touching the file
func (s *Store) Current() Mapping {
	if m := s.current.Load(); m != nil {
		return *m
	}
	return Mapping{}
}

// Snapshot returns the mapping to use for one render. In debug mode the file
// is re-read every time; otherwise it is read once and then served from
// memory. The returned mapping must not be modified.
func (s *Store) Snapshot() Mapping {
	if !s.debug && s.loaded.Load() {
		return s.Current()
	}
	m, err := s.Load()
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Failed to reload asset mapping, keeping previous")
	}
	return m
}

// Set swaps the in-memory mapping without writing the file
func (s *Store) Set(m Mapping) {
	s.swap(m)
}

func (s *Store) swap(m Mapping) {
	if m == nil {
		m = Mapping{}
	}
	s.current.Store(&m)
	s.loaded.Store(true)
}

// Write persists m and swaps it in. The file is written to a temporary file
// in the same directory and renamed over the target.
func (s *Store) Write(m Mapping, opts WriteOptions) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if opts.Merge {
		existing, err := s.read()
		if err != nil {
			return fmt.Errorf("failed to merge mapping: %w", err)
		}
		m = existing.Merge(m)
	}

	data, err := EncodeMapping(m)
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	if err := WriteFileAtomic(s.path, data, 0o644); err != nil {
		s.metrics.RecordMappingReload(0, err)
		return err
	}

	s.swap(m)
	s.metrics.RecordMappingReload(len(m), nil)
	log.Debug().Str("path", s.path).Int("entries", len(m)).Msg("Asset mapping written")
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
