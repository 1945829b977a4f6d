package store

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/wind-field-cache/internal/assets"
	"github.com/i474232898/wind-field-cache/internal/field"
)

func testImage(t *testing.T, w, h int, c color.RGBA) ([]byte, *image.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes(), img
}

func TestReadFallsBackToBundledDefault(t *testing.T) {
	s, err := NewFieldStore(t.TempDir(), assets.DefaultField)
	require.NoError(t, err)

	f, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Version)
	assert.Equal(t, int64(0), s.CurrentVersion())
	assert.Equal(t, 360, f.Width())
	assert.Equal(t, 180, f.Height())
	assert.Equal(t, assets.DefaultField, f.Encoded)

	again, err := s.Read()
	require.NoError(t, err)
	assert.Same(t, f, again, "read result is memoized")
}

func TestReadFallsBackWhenCacheFileIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFileName), []byte("truncated"), 0o644))

	s, err := NewFieldStore(dir, assets.DefaultField)
	require.NoError(t, err)
	f, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, assets.DefaultField, f.Encoded)
}

func TestReadFailsWithoutUsableDefault(t *testing.T) {
	s, err := NewFieldStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = s.Read()
	require.ErrorIs(t, err, field.ErrDecode)
}

func TestReadLoadsExistingCacheFile(t *testing.T) {
	dir := t.TempDir()
	encoded, _ := testImage(t, 6, 3, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFileName), encoded, 0o644))

	s, err := NewFieldStore(dir, assets.DefaultField)
	require.NoError(t, err)
	f, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, 6, f.Width())
	assert.Equal(t, 3, f.Height())
	assert.Equal(t, int64(0), f.Version)
}

func TestPublishReplacesFileAndBumpsVersion(t *testing.T) {
	s, err := NewFieldStore(t.TempDir(), assets.DefaultField)
	require.NoError(t, err)

	_, err = s.Read()
	require.NoError(t, err)

	encoded, raster := testImage(t, 5, 5, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	v, err := s.Publish(encoded, raster)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, int64(1), s.CurrentVersion())

	onDisk, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, encoded, onDisk)
	assert.NoFileExists(t, s.tempPath())

	f, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Version)
	assert.Same(t, raster, f.Raster)
}

func TestPublishRejectsEmptyInput(t *testing.T) {
	s, err := NewFieldStore(t.TempDir(), assets.DefaultField)
	require.NoError(t, err)

	_, err = s.Publish(nil, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	require.ErrorIs(t, err, field.ErrPublish)
	_, err = s.Publish([]byte{1}, nil)
	require.ErrorIs(t, err, field.ErrPublish)
	assert.Equal(t, int64(0), s.CurrentVersion())
}

func TestPublishSurvivesInterruptedWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFieldStore(dir, assets.DefaultField)
	require.NoError(t, err)

	first, raster := testImage(t, 4, 4, color.RGBA{R: 50, A: 255})
	_, err = s.Publish(first, raster)
	require.NoError(t, err)

	// Crash between writing the staging file and renaming it: a partial
	// staging file is left behind and the canonical file is untouched.
	second, _ := testImage(t, 8, 8, color.RGBA{G: 90, A: 255})
	require.NoError(t, os.WriteFile(s.tempPath(), second[:len(second)/2], 0o644))

	restarted, err := NewFieldStore(dir, assets.DefaultField)
	require.NoError(t, err)
	f, err := restarted.Read()
	require.NoError(t, err)
	assert.Equal(t, first, f.Encoded)
	assert.Equal(t, 4, f.Width())

	// The next publish overwrites the stale staging file.
	third, raster3 := testImage(t, 2, 2, color.RGBA{B: 70, A: 255})
	v, err := restarted.Publish(third, raster3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	onDisk, err := os.ReadFile(restarted.Path())
	require.NoError(t, err)
	assert.Equal(t, third, onDisk)
}

func TestPublishRenameFailureLeavesStateUnchanged(t *testing.T) {
	s, err := NewFieldStore(t.TempDir(), assets.DefaultField)
	require.NoError(t, err)
	before, err := s.Read()
	require.NoError(t, err)

	// A non-empty directory at the canonical path makes the rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Path(), "blocker"), 0o755))

	encoded, raster := testImage(t, 3, 3, color.RGBA{R: 9, A: 255})
	_, err = s.Publish(encoded, raster)
	require.ErrorIs(t, err, field.ErrPublish)

	assert.Equal(t, int64(0), s.CurrentVersion())
	after, err := s.Read()
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.NoFileExists(t, s.tempPath())
}

func TestConcurrentPublishVersionsAreMonotonic(t *testing.T) {
	s, err := NewFieldStore(t.TempDir(), assets.DefaultField)
	require.NoError(t, err)

	const n = 16
	encoded, raster := testImage(t, 2, 2, color.RGBA{R: 1, A: 255})

	stop := make(chan struct{})
	var readerErr error
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		var last int64
		for {
			select {
			case <-stop:
				return
			default:
			}
			v := s.CurrentVersion()
			if v < last {
				readerErr = assert.AnError
				return
			}
			last = v
			if _, err := s.Read(); err != nil {
				readerErr = err
				return
			}
		}
	}()

	versions := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Publish(encoded, raster)
			if err == nil {
				versions <- v
			}
		}()
	}
	wg.Wait()
	close(stop)
	readerWG.Wait()
	close(versions)

	require.NoError(t, readerErr)
	seen := map[int64]bool{}
	for v := range versions {
		assert.False(t, seen[v], "version %d returned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, int64(n), s.CurrentVersion())

	f, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(n), f.Version)
}
