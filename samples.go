package gekkofx

import (
	"fmt"
	"image/color"

	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/gekko3d/gekkofx/gpurt/rt/particles"
	"github.com/gekko3d/gekkofx/gpurt/rt/raytrace"
	"github.com/go-gl/mathgl/mgl32"
)

// Sample is one demo the App drives frame by frame on the soft device.
type Sample interface {
	Update(dt float32)
	Render(target *gpu.ImageTarget)
	// Reconfigure applies the live-editable parts of cfg.
	Reconfigure(cfg Config)
	Release()
}

var particleBackground = color.RGBA{R: 10, G: 10, B: 16, A: 255}

// ParticleSample renders a single particle engine through a fixed camera.
type ParticleSample struct {
	Engine particles.Engine
	Camera *core.CameraState
}

func NewParticleSample(dev gpu.Device, cfg Config, logger core.Logger) (*ParticleSample, error) {
	opts := []particles.Option{
		particles.WithLogger(logger),
		particles.WithEmitter(cfg.Particles.Emitter),
	}
	if cfg.Particles.Seed != 0 {
		opts = append(opts, particles.WithSeed(cfg.Particles.Seed))
	}
	eng, err := particles.New(dev, cfg.Particles.System, opts...)
	if err != nil {
		return nil, err
	}
	return &ParticleSample{Engine: eng, Camera: cameraFromConfig(cfg)}, nil
}

func cameraFromConfig(cfg Config) *core.CameraState {
	cam := core.NewCameraState()
	cam.Position = cfg.Camera.Position
	cam.LookAt(cfg.Camera.Target)
	cam.FovY = mgl32.DegToRad(cfg.Camera.FovY)
	cam.Aspect = float32(cfg.Window.Width) / float32(cfg.Window.Height)
	return cam
}

func (s *ParticleSample) Update(dt float32) {
	s.Engine.Update(dt, s.Camera.GetViewMatrix())
}

func (s *ParticleSample) Render(target *gpu.ImageTarget) {
	target.Clear(particleBackground)
	s.Engine.Render(target, s.Camera.GetViewMatrix(), s.Camera.GetProjMatrix())
}

func (s *ParticleSample) Reconfigure(cfg Config) {
	s.Engine.SetEmitter(cfg.Particles.Emitter)
	// The aspect follows the framebuffer, not the configured window size.
	aspect := s.Camera.Aspect
	s.Camera = cameraFromConfig(cfg)
	s.Camera.Aspect = aspect
}

func (s *ParticleSample) Release() { s.Engine.Release() }

// RaySample adapts raytrace.Sample to the App.
type RaySample struct {
	*raytrace.Sample
}

func NewRaySample(dev *gpu.SoftDevice, cfg Config, logger core.Logger) (*RaySample, error) {
	s := raytrace.NewSample(dev, raytrace.WithLogger(logger), raytrace.WithOrbit(cfg.Raytrace.OrbitSpeed))
	var err error
	if cfg.Raytrace.Scene != "" {
		err = s.LoadFile(cfg.Raytrace.Scene)
	} else {
		err = s.Load(nil)
	}
	if err == nil {
		err = s.Resize(uint32(cfg.Window.Width), uint32(cfg.Window.Height))
	}
	if err != nil {
		s.Release()
		return nil, err
	}
	rs := &RaySample{Sample: s}
	rs.Reconfigure(cfg)
	return rs, nil
}

func (s *RaySample) Render(target *gpu.ImageTarget) {
	s.Sample.Render(target.Image)
}

func (s *RaySample) Reconfigure(cfg Config) {
	if v, err := cfg.Raytrace.View(); err == nil {
		s.SetDebugView(v)
	}
}

// NewSample builds the sample cfg selects on a soft device.
func NewSample(dev *gpu.SoftDevice, cfg Config, logger core.Logger) (Sample, error) {
	switch cfg.Sample {
	case SampleParticles:
		particles.InstallSoftShaders(dev)
		return NewParticleSample(dev, cfg, logger)
	case SampleRayDiff:
		return NewRaySample(dev, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown sample %q", ErrInvalidConfig, cfg.Sample)
	}
}
