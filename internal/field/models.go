package field

import (
	"image"
	"time"
)

// CachedField is the current wind field: an RGBA raster where R/G hold the
// encoded wind direction unit vector, B the encoded speed magnitude and A is
// opaque. Values returned by the cache store are shared and must not be
// modified.
type CachedField struct {
	Version int64
	Raster  *image.RGBA
	Encoded []byte // PNG bytes backing Raster
}

// Width returns the raster width in pixels.
func (f *CachedField) Width() int {
	if f == nil || f.Raster == nil {
		return 0
	}
	return f.Raster.Bounds().Dx()
}

// Height returns the raster height in pixels.
func (f *CachedField) Height() int {
	if f == nil || f.Raster == nil {
		return 0
	}
	return f.Raster.Bounds().Dy()
}

// ProcessedImage is the output of the convolution processor.
type ProcessedImage struct {
	Encoded []byte
	Raster  *image.RGBA
}

// OutcomeStatus is the final result of a single fetch attempt.
type OutcomeStatus string

const (
	OutcomeUpdated   OutcomeStatus = "updated"
	OutcomeUnchanged OutcomeStatus = "unchanged"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is reported back to the scheduler after each attempt.
// Err is only set when Status is OutcomeFailed.
type Outcome struct {
	Status  OutcomeStatus
	Version int64 // new cache version when Status is OutcomeUpdated
	Err     error
}

// Failed reports whether the scheduler should apply its backoff policy.
func (o Outcome) Failed() bool {
	return o.Status == OutcomeFailed
}

// JobKind identifies which scheduling semantics triggered a fetch. Both kinds
// run the same fetch job.
type JobKind string

const (
	JobStartup  JobKind = "startup"
	JobPeriodic JobKind = "periodic"
)

// JobRecord is the scheduling state tracked per job kind.
type JobRecord struct {
	Kind          JobKind
	LastTriggered time.Time
	Failures      int // consecutive failed attempts, drives exponential backoff
}
