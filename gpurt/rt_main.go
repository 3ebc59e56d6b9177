package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/gekkofx"
	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/gekko3d/gekkofx/gpurt/rt/shaders"
	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "TOML config file")
	sample := flag.String("sample", "", "Sample to run: particles or raydiff")
	backend := flag.String("backend", "", "GPU backend: soft (headless) or wgpu (window)")
	frames := flag.Int("frames", 0, "Stop after this many frames (0 = config value)")
	out := flag.String("out", "", "Directory for PNG frame dumps (soft backend)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	watch := flag.Bool("watch", false, "Reload the config file when it changes")
	flag.Parse()

	cfg := gekkofx.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = gekkofx.LoadConfig(*configPath); err != nil {
			panic(err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sample":
			cfg.Sample = gekkofx.SampleKind(*sample)
		case "backend":
			cfg.Backend = gekkofx.Backend(*backend)
		case "frames":
			cfg.Frames = *frames
		case "out":
			cfg.OutputDir = *out
		case "debug":
			cfg.Debug = *debug
		}
	})
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := core.NewDefaultLogger("gekkofx", cfg.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var updates <-chan gekkofx.Config
	if *watch && *configPath != "" {
		watcher, err := gekkofx.NewConfigWatcher(*configPath, logger)
		if err != nil {
			panic(err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Errorf("config watcher: %v", err)
			}
		}()
		updates = watcher.Updates()
	}

	if cfg.Backend == gekkofx.BackendWgpu {
		runWindow(ctx, cfg, *frames, updates, logger)
		return
	}

	app, err := gekkofx.NewApp(cfg, logger)
	if err != nil {
		panic(err)
	}
	defer app.Release()
	app.WatchConfig(updates)
	if err := app.Run(ctx); err != nil {
		logger.Errorf("run: %v", err)
	}
}

// runWindow drives the particle sample on webgpu until the window closes, or
// after maxFrames frames when positive. The config frame budget is for headless runs.
func runWindow(ctx context.Context, cfg gekkofx.Config, maxFrames int, updates <-chan gekkofx.Config, logger core.Logger) {
	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))
	defer surface.Release()

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	defer adapter.Release()
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		panic(err)
	}
	defer device.Release()

	width, height := window.GetFramebufferSize()
	caps := surface.GetCapabilities(adapter)
	surfaceCfg := &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	surface.Configure(adapter, device, surfaceCfg)

	dev := gpu.NewWgpuDevice(device, surfaceCfg.Format, shaders.Library(), logger)
	defer dev.Release()
	sample, err := gekkofx.NewParticleSample(dev, cfg, logger)
	if err != nil {
		panic(err)
	}
	defer sample.Release()

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		if width > 0 && height > 0 {
			surfaceCfg.Width, surfaceCfg.Height = uint32(width), uint32(height)
			surface.Configure(adapter, device, surfaceCfg)
			sample.Camera.Aspect = float32(width) / float32(height)
		}
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	clock := gekkofx.NewFrameClock(0)
	for !window.ShouldClose() && ctx.Err() == nil {
		glfw.PollEvents()
		select {
		case next, ok := <-updates:
			if ok {
				sample.Reconfigure(next)
			}
		default:
		}
		sample.Update(clock.Tick())

		texture, err := surface.GetCurrentTexture()
		if err != nil {
			logger.Errorf("GetCurrentTexture failed: %v", err)
			continue
		}
		view, err := texture.CreateView(nil)
		if err != nil {
			logger.Errorf("CreateView failed: %v", err)
			texture.Release()
			continue
		}
		target := &gpu.SurfaceTarget{View: view, Width: int(surfaceCfg.Width), Height: int(surfaceCfg.Height)}
		dev.ClearTarget(target, wgpu.Color{R: 0.04, G: 0.04, B: 0.06, A: 1})
		sample.Engine.Render(target, sample.Camera.GetViewMatrix(), sample.Camera.GetProjMatrix())
		surface.Present()
		view.Release()
		texture.Release()

		if maxFrames > 0 && clock.Frame >= uint64(maxFrames) {
			break
		}
	}
}
