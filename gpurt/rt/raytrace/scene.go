package raytrace

import (
	"errors"
	"fmt"
	"os"

	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidScene = errors.New("invalid scene")

type Sphere struct {
	Center mgl32.Vec3 `toml:"center"`
	Radius float32    `toml:"radius"`
	Albedo mgl32.Vec3 `toml:"albedo"`
}

// Box is axis aligned.
type Box struct {
	Min    mgl32.Vec3 `toml:"min"`
	Max    mgl32.Vec3 `toml:"max"`
	Albedo mgl32.Vec3 `toml:"albedo"`
}

type PointLight struct {
	Position  mgl32.Vec3 `toml:"position"`
	Color     mgl32.Vec3 `toml:"color"`
	Intensity float32    `toml:"intensity"`
}

type CameraDesc struct {
	Position mgl32.Vec3 `toml:"position"`
	Target   mgl32.Vec3 `toml:"target"`
	// FovY in degrees.
	FovY float32 `toml:"fov_y"`
}

// Scene is what the ray differential sample traces: analytic primitives lit by
// point lights, seen from a single camera.
type Scene struct {
	Name    string       `toml:"name"`
	Camera  CameraDesc   `toml:"camera"`
	Ambient float32      `toml:"ambient"`
	Spheres []Sphere     `toml:"sphere"`
	Boxes   []Box        `toml:"box"`
	Lights  []PointLight `toml:"light"`
}

// DefaultScene is used when no scene file is given: a few spheres on a
// floor slab under two lights.
func DefaultScene() *Scene {
	return &Scene{
		Name: "default",
		Camera: CameraDesc{
			Position: mgl32.Vec3{0, 3, 9},
			Target:   mgl32.Vec3{0, 0.5, 0},
			FovY:     50,
		},
		Ambient: 0.08,
		Spheres: []Sphere{
			{Center: mgl32.Vec3{0, 1, 0}, Radius: 1, Albedo: mgl32.Vec3{0.9, 0.3, 0.2}},
			{Center: mgl32.Vec3{-2.5, 0.6, 1}, Radius: 0.6, Albedo: mgl32.Vec3{0.2, 0.5, 0.9}},
			{Center: mgl32.Vec3{2.2, 0.75, -1}, Radius: 0.75, Albedo: mgl32.Vec3{0.9, 0.85, 0.3}},
		},
		Boxes: []Box{
			{Min: mgl32.Vec3{-8, -0.2, -8}, Max: mgl32.Vec3{8, 0, 8}, Albedo: mgl32.Vec3{0.7, 0.7, 0.7}},
			{Min: mgl32.Vec3{0.8, 0, 1.2}, Max: mgl32.Vec3{1.6, 0.8, 2}, Albedo: mgl32.Vec3{0.3, 0.8, 0.4}},
		},
		Lights: []PointLight{
			{Position: mgl32.Vec3{4, 6, 4}, Color: mgl32.Vec3{1, 0.95, 0.9}, Intensity: 60},
			{Position: mgl32.Vec3{-5, 4, -2}, Color: mgl32.Vec3{0.5, 0.6, 1}, Intensity: 25},
		},
	}
}

func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}
	s, err := ParseScene(data)
	if err != nil {
		return nil, fmt.Errorf("load scene %s: %w", path, err)
	}
	return s, nil
}

// ParseScene decodes a TOML scene. Missing camera fields keep the defaults.
func ParseScene(data []byte) (*Scene, error) {
	s := &Scene{Camera: DefaultScene().Camera}
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scene) Validate() error {
	if s.Camera.FovY <= 0 || s.Camera.FovY >= 180 {
		return fmt.Errorf("%w: camera fov %.1f out of (0, 180)", ErrInvalidScene, s.Camera.FovY)
	}
	if s.Camera.Position == s.Camera.Target {
		return fmt.Errorf("%w: camera position equals target", ErrInvalidScene)
	}
	if s.Ambient < 0 {
		return fmt.Errorf("%w: negative ambient", ErrInvalidScene)
	}
	for i, sp := range s.Spheres {
		if sp.Radius <= 0 {
			return fmt.Errorf("%w: sphere %d radius %f", ErrInvalidScene, i, sp.Radius)
		}
	}
	for i, b := range s.Boxes {
		for a := 0; a < 3; a++ {
			if b.Min[a] > b.Max[a] {
				return fmt.Errorf("%w: box %d min > max on axis %d", ErrInvalidScene, i, a)
			}
		}
	}
	for i, l := range s.Lights {
		if l.Intensity < 0 {
			return fmt.Errorf("%w: light %d intensity %f", ErrInvalidScene, i, l.Intensity)
		}
	}
	return nil
}

// Bounds returns the box enclosing every primitive, or ok=false for an empty scene.
func (s *Scene) Bounds() (minB, maxB mgl32.Vec3, ok bool) {
	first := true
	grow := func(lo, hi mgl32.Vec3) {
		if first {
			minB, maxB, first = lo, hi, false
			return
		}
		for a := 0; a < 3; a++ {
			minB[a] = min(minB[a], lo[a])
			maxB[a] = max(maxB[a], hi[a])
		}
	}
	for _, sp := range s.Spheres {
		r := mgl32.Vec3{sp.Radius, sp.Radius, sp.Radius}
		grow(sp.Center.Sub(r), sp.Center.Add(r))
	}
	for _, b := range s.Boxes {
		grow(b.Min, b.Max)
	}
	return minB, maxB, !first
}

// Radius is half the diagonal of Bounds, 1 for an empty scene.
func (s *Scene) Radius() float32 {
	lo, hi, ok := s.Bounds()
	if !ok {
		return 1
	}
	return max(hi.Sub(lo).Len()*0.5, 1e-3)
}

// ApplyCamera points cam at the scene and fits the depth range and speed to its size.
func (s *Scene) ApplyCamera(cam *core.CameraState) {
	r := s.Radius()
	cam.Position = s.Camera.Position
	cam.LookAt(s.Camera.Target)
	cam.FovY = mgl32.DegToRad(s.Camera.FovY)
	cam.Near = max(0.1, r/750)
	cam.Far = r * 10
	cam.Speed = r * 0.25
}
