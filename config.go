package gekkofx

import (
	"errors"
	"fmt"
	"os"

	"github.com/gekko3d/gekkofx/gpurt/rt/particles"
	"github.com/gekko3d/gekkofx/gpurt/rt/raytrace"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid config")

type Backend string

const (
	BackendSoft Backend = "soft"
	BackendWgpu Backend = "wgpu"
)

type SampleKind string

const (
	SampleParticles SampleKind = "particles"
	SampleRayDiff   SampleKind = "raydiff"
)

type WindowConfig struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
}

type CameraConfig struct {
	Position mgl32.Vec3 `toml:"position"`
	Target   mgl32.Vec3 `toml:"target"`
	// FovY in degrees.
	FovY float32 `toml:"fov_y"`
}

type ParticlesConfig struct {
	System  particles.Desc          `toml:"system"`
	Emitter particles.EmitterConfig `toml:"emitter"`
	// Seed fixes emitter sampling; 0 seeds from the clock.
	Seed int64 `toml:"seed"`
}

type RaytraceConfig struct {
	// Scene is a TOML scene file; empty uses the built-in scene.
	Scene      string  `toml:"scene"`
	DebugView  string  `toml:"debug_view"`
	OrbitSpeed float32 `toml:"orbit_speed"`
}

type Config struct {
	Backend Backend    `toml:"backend"`
	Sample  SampleKind `toml:"sample"`
	Debug   bool       `toml:"debug"`

	// Frames stops the run after that many frames; 0 runs until cancelled.
	Frames int `toml:"frames"`
	// FixedStep, in seconds, replaces wall clock deltas when positive.
	FixedStep float32 `toml:"fixed_step"`
	OutputDir string  `toml:"output_dir"`
	// DumpEvery writes every n-th frame to OutputDir; 0 only writes the last one.
	DumpEvery int `toml:"dump_every"`

	Window    WindowConfig    `toml:"window"`
	Camera    CameraConfig    `toml:"camera"`
	Particles ParticlesConfig `toml:"particles"`
	Raytrace  RaytraceConfig  `toml:"raytrace"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendSoft,
		Sample:  SampleParticles,
		Frames:  120,
		Window: WindowConfig{
			Width:  640,
			Height: 360,
			Title:  "gekkofx",
		},
		Camera: CameraConfig{
			Position: mgl32.Vec3{0, 2, 10},
			Target:   mgl32.Vec3{0, 2, 0},
			FovY:     60,
		},
		Particles: ParticlesConfig{
			System:  particles.DefaultDesc(),
			Emitter: particles.DefaultEmitterConfig(),
		},
		Raytrace: RaytraceConfig{DebugView: raytrace.ViewShaded.String()},
	}
}

// LoadConfig reads path over DefaultConfig, so a file only needs the keys it changes.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendSoft, BackendWgpu:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	switch c.Sample {
	case SampleParticles:
	case SampleRayDiff:
		if c.Backend != BackendSoft {
			return fmt.Errorf("%w: the %s sample only runs on the %s backend", ErrInvalidConfig, SampleRayDiff, BackendSoft)
		}
	default:
		return fmt.Errorf("%w: unknown sample %q", ErrInvalidConfig, c.Sample)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("%w: window size %dx%d", ErrInvalidConfig, c.Window.Width, c.Window.Height)
	}
	if c.Frames < 0 || c.DumpEvery < 0 || c.FixedStep < 0 {
		return fmt.Errorf("%w: negative frames/dump_every/fixed_step", ErrInvalidConfig)
	}
	if c.Camera.FovY <= 0 || c.Camera.FovY >= 180 {
		return fmt.Errorf("%w: camera fov %.1f out of (0, 180)", ErrInvalidConfig, c.Camera.FovY)
	}
	if err := c.Particles.System.Validate(); err != nil {
		return fmt.Errorf("%w: particles: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Raytrace.View(); err != nil {
		return err
	}
	return nil
}

// View parses DebugView; empty means shaded.
func (r RaytraceConfig) View() (raytrace.DebugView, error) {
	switch r.DebugView {
	case "", raytrace.ViewShaded.String():
		return raytrace.ViewShaded, nil
	case raytrace.ViewRayCone.String():
		return raytrace.ViewRayCone, nil
	default:
		return 0, fmt.Errorf("%w: unknown debug view %q", ErrInvalidConfig, r.DebugView)
	}
}
