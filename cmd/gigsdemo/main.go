// Command gigsdemo generates terrain heightmap tiles as on-demand GPU
// compute jobs and writes a preview of the first tile.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gigs"
	"github.com/gogpu/gigs/backend"
	"github.com/gogpu/gigs/gpucore"

	_ "github.com/gogpu/gigs/backend/halgpu"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file")
		backendArg = flag.String("backend", "", "backend name (default: best available)")
		frames     = flag.Int("frames", 0, "frames to run (overrides config)")
		output     = flag.String("output", "", "preview PNG (overrides config)")
		verbose    = flag.Bool("v", false, "debug logging")
		dump       = flag.Bool("dump-config", false, "print the effective config and exit")
	)
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *backendArg != "" {
		cfg.Backend = *backendArg
	}
	if *frames > 0 {
		cfg.Frames = *frames
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *dump {
		out, err := cfg.Marshal()
		if err != nil {
			log.Fatalf("Failed to encode config: %v", err)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	gigs.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dev, err := openDevice(cfg.Backend)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer dev.Destroy()

	sum, err := run(ctx, dev, cfg)
	if err != nil {
		log.Fatalf("Demo failed: %v", err)
	}
	sum.Print(os.Stdout, dev.Capabilities().Name)
}

func openDevice(name string) (gpucore.Device, error) {
	if name == "" {
		return backend.Default()
	}
	return backend.Open(name)
}

// summary accumulates frame reports.
type summary struct {
	Frames     int
	Dispatched int
	Completed  int
	Deferred   int
	Failed     int
	PoolBytes  uint64
	Elapsed    time.Duration
	Preview    string
}

func (s *summary) add(rep gigs.FrameReport) {
	s.Frames++
	s.Dispatched += rep.Dispatched
	s.Completed += len(rep.Completed)
	s.Deferred += rep.Deferred
	s.Failed += rep.Failed
}

// Print writes the summary with locale-aware number formatting.
func (s *summary) Print(w io.Writer, backendName string) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "backend:    %s\n", backendName)
	p.Fprintf(w, "frames:     %d in %v\n", s.Frames, s.Elapsed.Round(time.Millisecond))
	p.Fprintf(w, "dispatched: %d (deferred %d)\n", s.Dispatched, s.Deferred)
	p.Fprintf(w, "completed:  %d (failed %d)\n", s.Completed, s.Failed)
	p.Fprintf(w, "pool bytes: %d\n", s.PoolBytes)
	if s.Preview != "" {
		p.Fprintf(w, "preview:    %s\n", s.Preview)
	}
}

// run drives cfg.Frames frames, reseeding one tile every ReseedEvery
// frames, then drains and renders the first tile.
func run(ctx context.Context, dev gpucore.Device, cfg Config) (*summary, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	interval, err := cfg.Interval()
	if err != nil {
		return nil, err
	}

	world := gigs.NewWorld()
	runner, err := gigs.NewRunner(dev, world, gigs.WithSettings(settings))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			slog.Warn("gigsdemo: close runner", "err", err)
		}
	}()
	if err := gigs.Register(runner, terrainCapability()); err != nil {
		return nil, err
	}

	tiles := make([]gigs.EntityID, cfg.Terrain.Tiles)
	reseeds := make([]int, cfg.Terrain.Tiles)
	for i := range tiles {
		tiles[i] = world.Spawn()
		prio := gigs.NonCritical(uint32(cfg.Terrain.Tiles - i))
		if i == 0 {
			prio = gigs.Critical()
		}
		world.Attach(tiles[i], gigs.Request{
			Type:     TerrainType,
			Params:   tileParams(cfg.Terrain, i, 0),
			Priority: prio,
		})
	}

	sum := &summary{}
	start := time.Now()
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for f := 1; f <= cfg.Frames; f++ {
		if every := cfg.Terrain.ReseedEvery; every > 0 && f%every == 0 {
			i := (f / every) % len(tiles)
			reseeds[i]++
			if err := world.Update(tiles[i], tileParams(cfg.Terrain, i, reseeds[i])); err != nil {
				return nil, err
			}
		}
		rep, err := runner.Frame(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range rep.Errors {
			slog.Warn("gigsdemo: job error", "frame", rep.Frame, "err", e)
		}
		sum.add(rep)
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tick:
			}
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := runner.Drain(drainCtx); err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}
	sum.Elapsed = time.Since(start)
	sum.PoolBytes = runner.Stats().PoolBytes

	v, ok := runner.View(tiles[0])
	if !ok || !v.HasResult || len(v.Data) == 0 {
		slog.Info("gigsdemo: no result to preview", "state", v.State)
		return sum, nil
	}
	if err := writePreview(cfg.Output, v.Data, cfg.Terrain.Resolution, cfg.PreviewSize); err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	sum.Preview = cfg.Output
	return sum, nil
}
