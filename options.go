package gigs

import (
	"time"
)

// Clock returns the time elapsed since an arbitrary fixed origin. The
// runner reads it once per frame.
type Clock func() time.Duration

// RunnerOption configures a Runner during creation.
//
// Example:
//
//	runner, err := gigs.NewRunner(device, world,
//	    gigs.WithMaxDispatchesPerFrame(4),
//	    gigs.WithInterpolationWindow(250*time.Millisecond),
//	)
type RunnerOption func(*runnerOptions)

// runnerOptions holds optional configuration for Runner creation.
type runnerOptions struct {
	settings Settings
	clock    Clock
}

// defaultOptions returns the default runner options.
func defaultOptions() runnerOptions {
	return runnerOptions{
		settings: DefaultSettings(),
		clock:    nil, // Will be a monotonic wall clock if nil
	}
}

// WithSettings replaces all settings at once.
func WithSettings(s Settings) RunnerOption {
	return func(o *runnerOptions) {
		o.settings = s
	}
}

// WithClock sets the frame clock. Tests use it to step time explicitly.
func WithClock(c Clock) RunnerOption {
	return func(o *runnerOptions) {
		o.clock = c
	}
}

// WithMaxDispatchesPerFrame sets Settings.MaxDispatchesPerFrame.
func WithMaxDispatchesPerFrame(n int) RunnerOption {
	return func(o *runnerOptions) {
		o.settings.MaxDispatchesPerFrame = n
	}
}

// WithInterpolationWindow sets Settings.InterpolationWindow.
func WithInterpolationWindow(d time.Duration) RunnerOption {
	return func(o *runnerOptions) {
		o.settings.InterpolationWindow = d
	}
}

// WithSettle sets Settings.SettleBeforeRedispatch.
func WithSettle(on bool) RunnerOption {
	return func(o *runnerOptions) {
		o.settings.SettleBeforeRedispatch = on
	}
}

// WithStallWarnFrames sets Settings.StallWarnFrames.
func WithStallWarnFrames(n uint64) RunnerOption {
	return func(o *runnerOptions) {
		o.settings.StallWarnFrames = n
	}
}

func wallClock() Clock {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}
