package server

import (
	"errors"
	"sync"
)

var errTooManyStreams = errors.New("too many concurrent streams")

// streamLimiter caps the number of concurrent generations.
// If max == 0, unlimited streams are allowed.
type streamLimiter struct {
	max    int
	active int
	mu     sync.Mutex
}

func newStreamLimiter(max int) *streamLimiter {
	return &streamLimiter{max: max}
}

// acquire reserves a slot and returns errTooManyStreams when none is left.
func (l *streamLimiter) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.active >= l.max {
		return errTooManyStreams
	}
	l.active++
	return nil
}

func (l *streamLimiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active > 0 {
		l.active--
	}
}

// Active returns the number of streams in progress.
func (l *streamLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.active
}

// Remaining returns how many streams can still start, or -1 when unlimited.
func (l *streamLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1
	}
	return l.max - l.active
}
