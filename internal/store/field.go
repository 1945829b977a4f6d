package store

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/i474232898/wind-field-cache/internal/field"
	"github.com/i474232898/wind-field-cache/internal/processor"
)

const (
	// CacheFileName is the canonical cache file inside the cache directory.
	CacheFileName = "wind_cache.png"

	tempSuffix = ".tmp"
)

// FieldStore owns the canonical cache file and the in-memory current field.
//
// Two locks are used. writeMu serializes publishers around the staging file
// so concurrent attempts never interleave writes. mu guards only the pointer
// swap and is shared with readers; no file or network I/O happens under it.
type FieldStore struct {
	dir      string
	fallback []byte

	writeMu sync.Mutex

	mu      sync.Mutex
	current *field.CachedField

	version atomic.Int64
}

// NewFieldStore creates a store rooted at dir. fallback is the bundled
// default image used when no valid cache file exists.
func NewFieldStore(dir string, fallback []byte) (*FieldStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure cache dir: %w", err)
	}
	return &FieldStore{dir: dir, fallback: fallback}, nil
}

// Path returns the canonical cache file path.
func (s *FieldStore) Path() string {
	return filepath.Join(s.dir, CacheFileName)
}

func (s *FieldStore) tempPath() string {
	return s.Path() + tempSuffix
}

// CurrentVersion returns the number of successful publishes so far. Zero
// means the field came from disk at startup or from the bundled default.
func (s *FieldStore) CurrentVersion() int64 {
	return s.version.Load()
}

// Read returns the current field, lazily loading the canonical file (or the
// bundled default if that is missing or invalid) on first use. The result is
// memoized until the next Publish.
func (s *FieldStore) Read() (*field.CachedField, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		return cur, nil
	}

	loaded, err := s.load()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		// A publish cannot have happened in between, otherwise current would
		// be set, so the loaded field still belongs to this version.
		loaded.Version = s.version.Load()
		s.current = loaded
	}
	return s.current, nil
}

func (s *FieldStore) load() (*field.CachedField, error) {
	b, err := os.ReadFile(s.Path())
	if err == nil {
		raster, derr := processor.Decode(b)
		if derr == nil {
			log.Printf("store: loaded cached wind field from %s", s.Path())
			return &field.CachedField{Raster: raster, Encoded: b}, nil
		}
		log.Printf("store: cached wind field %s is invalid, using bundled default: %v", s.Path(), derr)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("store: failed to read cached wind field, using bundled default: %v", err)
	}

	raster, err := processor.Decode(s.fallback)
	if err != nil {
		return nil, fmt.Errorf("store: bundled default field: %w", err)
	}
	log.Printf("store: loaded bundled default wind field")
	return &field.CachedField{Raster: raster, Encoded: s.fallback}, nil
}

// Publish writes encoded to the staging file, renames it over the canonical
// path, then installs raster as the current field and bumps the version.
// On error the previous file and in-memory field are left untouched.
func (s *FieldStore) Publish(encoded []byte, raster *image.RGBA) (int64, error) {
	if len(encoded) == 0 || raster == nil {
		return 0, fmt.Errorf("%w: nothing to publish", field.ErrPublish)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := writeFileSync(s.tempPath(), encoded); err != nil {
		_ = os.Remove(s.tempPath())
		return 0, fmt.Errorf("%w: write %s: %v", field.ErrPublish, s.tempPath(), err)
	}
	if err := os.Rename(s.tempPath(), s.Path()); err != nil {
		_ = os.Remove(s.tempPath())
		return 0, fmt.Errorf("%w: rename to %s: %v", field.ErrPublish, s.Path(), err)
	}

	s.mu.Lock()
	v := s.version.Add(1)
	s.current = &field.CachedField{Version: v, Raster: raster, Encoded: encoded}
	s.mu.Unlock()

	log.Printf("store: published wind field version %d (%dx%d, %d bytes)",
		v, raster.Bounds().Dx(), raster.Bounds().Dy(), len(encoded))
	return v, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
