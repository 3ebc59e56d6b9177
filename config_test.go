package gekkofx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gekko3d/gekkofx/gpurt/rt/raytrace"
	"github.com/gekko3d/gekkofx/gpurt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configTOML = `
sample = "particles"
frames = 10
fixed_step = 0.016

[window]
width = 128
height = 64

[particles.system]
max_particles = 1000
sorted = true
draw_shader = "particle_constant"

[particles.emitter]
duration = 2.5
emit_count = 16
spawn_pos = [0, 1, 0]
`

func TestParseConfig_OverDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(configTOML))
	require.NoError(t, err)

	assert.Equal(t, BackendSoft, cfg.Backend)
	assert.Equal(t, 10, cfg.Frames)
	assert.Equal(t, float32(0.016), cfg.FixedStep)
	assert.Equal(t, 128, cfg.Window.Width)
	assert.Equal(t, "gekkofx", cfg.Window.Title, "untouched keys keep defaults")

	sys := cfg.Particles.System
	assert.Equal(t, uint32(1000), sys.MaxParticles)
	assert.True(t, sys.Sorted)
	assert.Equal(t, shaders.ParticleConstant, sys.DrawShader)
	assert.Equal(t, shaders.ParticleSimulate, sys.SimulateShader)

	em := cfg.Particles.Emitter
	assert.Equal(t, float32(2.5), em.Duration)
	assert.Equal(t, uint32(16), em.EmitCount)
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, em.SpawnPos)
	assert.Equal(t, float32(0.1), em.EmitFrequency)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"backend":     func(c *Config) { c.Backend = "vulkan" },
		"sample":      func(c *Config) { c.Sample = "smoke" },
		"raydiff gpu": func(c *Config) { c.Sample, c.Backend = SampleRayDiff, BackendWgpu },
		"window":      func(c *Config) { c.Window.Height = 0 },
		"frames":      func(c *Config) { c.Frames = -1 },
		"fov":         func(c *Config) { c.Camera.FovY = 0 },
		"particles":   func(c *Config) { c.Particles.System.MaxEmitPerFrame = 0 },
		"debug view":  func(c *Config) { c.Raytrace.DebugView = "normals" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, name)
	}
}

func TestRaytraceConfig_View(t *testing.T) {
	v, err := RaytraceConfig{}.View()
	require.NoError(t, err)
	assert.Equal(t, raytrace.ViewShaded, v)

	v, err = RaytraceConfig{DebugView: "raycone"}.View()
	require.NoError(t, err)
	assert.Equal(t, raytrace.ViewRayCone, v)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fx.toml")
	require.NoError(t, os.WriteFile(path, []byte(configTOML), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Frames)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(path, []byte("frames = -3\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
