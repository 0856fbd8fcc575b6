package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/gigs"
)

// Config is the demo configuration. Durations are Go duration strings.
type Config struct {
	Backend       string `toml:"backend"`
	Frames        int    `toml:"frames"`
	FrameInterval string `toml:"frame_interval"`
	Output        string `toml:"output"`
	PreviewSize   int    `toml:"preview_size"`
	Verbose       bool   `toml:"verbose"`

	Runner  RunnerConfig  `toml:"runner"`
	Terrain TerrainConfig `toml:"terrain"`
}

// RunnerConfig mirrors gigs.Settings.
type RunnerConfig struct {
	MaxDispatchesPerFrame  int    `toml:"max_dispatches_per_frame"`
	InterpolationWindow    string `toml:"interpolation_window"`
	SettleBeforeRedispatch bool   `toml:"settle_before_redispatch"`
	StallWarnFrames        uint64 `toml:"stall_warn_frames"`
	PipelineCacheSize      int    `toml:"pipeline_cache_size"`
}

// TerrainConfig describes the tiles the demo generates.
type TerrainConfig struct {
	Tiles      int     `toml:"tiles"`
	Resolution uint32  `toml:"resolution"`
	Size       float32 `toml:"size"`
	Scale      float32 `toml:"scale"`
	Seed       float32 `toml:"seed"`

	// ReseedEvery changes the seed of one tile every this many frames.
	ReseedEvery int `toml:"reseed_every"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	s := gigs.DefaultSettings()
	return Config{
		Backend:       "",
		Frames:        240,
		FrameInterval: "16ms",
		Output:        "terrain.png",
		PreviewSize:   512,
		Runner: RunnerConfig{
			MaxDispatchesPerFrame:  s.MaxDispatchesPerFrame,
			InterpolationWindow:    s.InterpolationWindow.String(),
			SettleBeforeRedispatch: s.SettleBeforeRedispatch,
			StallWarnFrames:        s.StallWarnFrames,
			PipelineCacheSize:      s.PipelineCacheSize,
		},
		Terrain: TerrainConfig{
			Tiles:       4,
			Resolution:  128,
			Size:        8,
			Scale:       1,
			Seed:        1,
			ReseedEvery: 60,
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges that gigs.Settings does not cover.
func (c Config) Validate() error {
	switch {
	case c.Frames <= 0:
		return fmt.Errorf("frames must be positive, got %d", c.Frames)
	case c.Terrain.Tiles <= 0:
		return fmt.Errorf("terrain.tiles must be positive, got %d", c.Terrain.Tiles)
	case c.Terrain.Resolution == 0:
		return fmt.Errorf("terrain.resolution must be positive")
	case c.PreviewSize <= 0:
		return fmt.Errorf("preview_size must be positive, got %d", c.PreviewSize)
	}
	if _, err := c.Interval(); err != nil {
		return err
	}
	_, err := c.Settings()
	return err
}

// Interval parses FrameInterval.
func (c Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.FrameInterval)
	if err != nil {
		return 0, fmt.Errorf("frame_interval: %w", err)
	}
	return d, nil
}

// Settings converts the runner section.
func (c Config) Settings() (gigs.Settings, error) {
	w, err := time.ParseDuration(c.Runner.InterpolationWindow)
	if err != nil {
		return gigs.Settings{}, fmt.Errorf("runner.interpolation_window: %w", err)
	}
	s := gigs.Settings{
		MaxDispatchesPerFrame:  c.Runner.MaxDispatchesPerFrame,
		InterpolationWindow:    w,
		SettleBeforeRedispatch: c.Runner.SettleBeforeRedispatch,
		StallWarnFrames:        c.Runner.StallWarnFrames,
		PipelineCacheSize:      c.Runner.PipelineCacheSize,
	}
	return s, s.Validate()
}

// Marshal renders c as TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
