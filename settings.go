package gigs

import (
	"errors"
	"fmt"
	"time"
)

// Settings tunes a Runner.
type Settings struct {
	// MaxDispatchesPerFrame caps non-critical submission attempts per
	// frame. Zero means unlimited. Critical jobs are never capped.
	MaxDispatchesPerFrame int

	// InterpolationWindow is how long View.Blend takes to go from 0 to 1
	// after a swap. Zero makes new results visible at once.
	InterpolationWindow time.Duration

	// SettleBeforeRedispatch holds an instance's next dispatch until its
	// interpolation window has elapsed, so a consumer never sees the
	// previous result change mid-blend. With it off, a redispatch that
	// starts mid-blend makes View jump to Old == New with Blend 1.
	SettleBeforeRedispatch bool

	// StallWarnFrames logs a warning once for work in flight this many
	// frames. Zero disables the warning.
	StallWarnFrames uint64

	// PipelineCacheSize bounds the number of compiled compute pipelines
	// kept alive.
	PipelineCacheSize int
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		MaxDispatchesPerFrame:  16,
		InterpolationWindow:    500 * time.Millisecond,
		SettleBeforeRedispatch: true,
		StallWarnFrames:        120,
		PipelineCacheSize:      64,
	}
}

// ErrInvalidSettings is returned by Validate.
var ErrInvalidSettings = errors.New("gigs: invalid settings")

// Validate reports the first out-of-range field.
func (s Settings) Validate() error {
	switch {
	case s.MaxDispatchesPerFrame < 0:
		return fmt.Errorf("%w: MaxDispatchesPerFrame %d < 0", ErrInvalidSettings, s.MaxDispatchesPerFrame)
	case s.InterpolationWindow < 0:
		return fmt.Errorf("%w: InterpolationWindow %v < 0", ErrInvalidSettings, s.InterpolationWindow)
	case s.PipelineCacheSize <= 0:
		return fmt.Errorf("%w: PipelineCacheSize %d <= 0", ErrInvalidSettings, s.PipelineCacheSize)
	}
	return nil
}
