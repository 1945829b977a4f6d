package common

import (
	"log"
	"sync"
	"time"
)

// RateLimitedLogger drops lines logged within interval of the previous one.
type RateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	now      func() time.Time
}

// NewRateLimitedLogger creates a logger emitting at most one line per interval.
func NewRateLimitedLogger(interval time.Duration) *RateLimitedLogger {
	return &RateLimitedLogger{interval: interval, now: time.Now}
}

// Printf logs like log.Printf and reports whether the line was emitted.
func (l *RateLimitedLogger) Printf(format string, args ...any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		return false
	}
	l.lastAt = now
	log.Printf(format, args...)
	return true
}
