// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gigs

import (
	"log/slog"

	"github.com/gogpu/gigs/internal/logging"
)

// SetLogger configures the logger for gigs and all its sub-packages.
// By default, gigs produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gigs:
//   - [slog.LevelDebug]: per-job diagnostics (submissions, reallocations)
//   - [slog.LevelInfo]: lifecycle events (adapter selected, inputs failed)
//   - [slog.LevelWarn]: non-fatal issues (dispatch or completion failures,
//     jobs in flight for many frames)
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	gigs.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by gigs.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.L()
}
