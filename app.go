package gekkofx

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
)

// App runs a sample headless on the soft device: tick, update, render, and
// optionally dump frames as PNG.
type App struct {
	cfg    Config
	logger core.Logger

	dev     *gpu.SoftDevice
	sample  Sample
	target  *gpu.ImageTarget
	clock   *FrameClock
	updates <-chan Config
}

func NewApp(cfg Config, logger core.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend != BackendSoft {
		return nil, fmt.Errorf("%w: headless runs need the %s backend", ErrInvalidConfig, BackendSoft)
	}
	logger = core.OrNop(logger)
	dev := gpu.NewSoftDevice(logger)
	sample, err := NewSample(dev, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		dev:    dev,
		sample: sample,
		target: gpu.NewImageTarget(cfg.Window.Width, cfg.Window.Height),
		clock:  NewFrameClock(time.Duration(float64(cfg.FixedStep) * float64(time.Second))),
	}, nil
}

// WatchConfig makes Run apply configs received on updates between frames.
func (a *App) WatchConfig(updates <-chan Config) { a.updates = updates }

func (a *App) Target() *gpu.ImageTarget { return a.target }
func (a *App) Clock() *FrameClock       { return a.clock }

// Run renders until the frame budget is spent or ctx is cancelled. The last
// rendered frame is written to OutputDir, if set.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.OutputDir != "" {
		if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("output dir: %w", err)
		}
	}
	a.logger.Infof("app: %s sample, %dx%d, frames=%d", a.cfg.Sample, a.cfg.Window.Width, a.cfg.Window.Height, a.cfg.Frames)

	var frame int
	for a.cfg.Frames == 0 || frame < a.cfg.Frames {
		if ctx.Err() != nil {
			break
		}
		a.applyUpdates()
		a.Step()
		frame++
		if a.cfg.DumpEvery > 0 && frame%a.cfg.DumpEvery == 0 {
			if err := a.dump(frame); err != nil {
				return err
			}
		}
	}
	if frame > 0 && (a.cfg.DumpEvery == 0 || frame%a.cfg.DumpEvery != 0) {
		if err := a.dump(frame); err != nil {
			return err
		}
	}
	dispatches, draws := a.dev.Stats()
	a.logger.Infof("app: %d frames in %v simulated, %d dispatches, %d draws", frame, a.clock.Elapsed(), dispatches, draws)
	return nil
}

// Step advances and renders a single frame.
func (a *App) Step() {
	dt := a.clock.Tick()
	a.sample.Update(dt)
	a.sample.Render(a.target)
}

func (a *App) applyUpdates() {
	if a.updates == nil {
		return
	}
	select {
	case cfg, ok := <-a.updates:
		if !ok {
			a.updates = nil
			return
		}
		if cfg.Sample != a.cfg.Sample || cfg.Particles.System != a.cfg.Particles.System {
			a.logger.Warnf("app: sample or particle system changed, restart to apply")
		}
		a.sample.Reconfigure(cfg)
		a.cfg.Particles.Emitter = cfg.Particles.Emitter
		a.cfg.Raytrace.DebugView = cfg.Raytrace.DebugView
	default:
	}
}

func (a *App) dump(frame int) error {
	if a.cfg.OutputDir == "" {
		return nil
	}
	path := filepath.Join(a.cfg.OutputDir, fmt.Sprintf("%s_%05d.png", a.cfg.Sample, frame))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dump frame %d: %w", frame, err)
	}
	if err := png.Encode(f, a.target.Image); err != nil {
		f.Close()
		return fmt.Errorf("dump frame %d: %w", frame, err)
	}
	a.logger.Debugf("app: wrote %s", path)
	return f.Close()
}

func (a *App) Release() {
	a.sample.Release()
	a.dev.Release()
}
