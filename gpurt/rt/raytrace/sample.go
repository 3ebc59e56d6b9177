package raytrace

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
)

// ClearColor fills pixels no ray hits.
var ClearColor = mgl32.Vec4{0.38, 0.52, 0.10, 1}

// ClearRGBA is ClearColor as stored in the output.
func ClearRGBA() color.RGBA {
	c := packColor(ClearColor)
	return color.RGBA{R: uint8(c), G: uint8(c >> 8), B: uint8(c >> 16), A: uint8(c >> 24)}
}

// Sample renders a Scene with primary and shadow rays on a soft device, then
// scales the result onto the caller's image.
type Sample struct {
	dev    *gpu.SoftDevice
	logger core.Logger

	scene  *Scene
	geom   *geometry
	camera *core.CameraState
	prog   gpu.ComputeProgram

	output gpu.Buffer
	vars   *gpu.Vars
	frame  *image.RGBA
	width  uint32
	height uint32

	view       DebugView
	orbitSpeed float32
	orbitAngle float32
}

type Option func(*Sample)

func WithLogger(l core.Logger) Option {
	return func(s *Sample) { s.logger = l }
}

// WithOrbit makes Update circle the camera around the scene target at speed radians per second.
func WithOrbit(speed float32) Option {
	return func(s *Sample) { s.orbitSpeed = speed }
}

func NewSample(dev *gpu.SoftDevice, opts ...Option) *Sample {
	s := &Sample{dev: dev, camera: core.NewCameraState()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = core.OrNop(s.logger)
	return s
}

// Load compiles the trace kernel for scene and points the camera at it.
// A nil scene loads DefaultScene.
func (s *Sample) Load(scene *Scene) error {
	if scene == nil {
		scene = DefaultScene()
	}
	if err := scene.Validate(); err != nil {
		return err
	}
	geom := newGeometry(scene)
	s.dev.RegisterKernel(KernelName, [3]uint32{groupSize, groupSize, 1}, rayKernel(geom))
	prog, err := s.dev.CreateComputeProgram(KernelName, nil)
	if err != nil {
		return fmt.Errorf("load scene %q: %w", scene.Name, err)
	}
	if s.prog != nil {
		s.prog.Release()
	}
	s.prog = prog
	s.scene = scene
	s.geom = geom
	s.orbitAngle = 0
	scene.ApplyCamera(s.camera)
	s.logger.Infof("raytrace: loaded scene %q spheres=%d boxes=%d lights=%d bvh nodes=%d",
		scene.Name, len(scene.Spheres), len(scene.Boxes), len(scene.Lights), len(geom.tree.Nodes))
	return nil
}

func (s *Sample) LoadFile(path string) error {
	scene, err := LoadScene(path)
	if err != nil {
		return err
	}
	return s.Load(scene)
}

// Resize reallocates the trace output for a w x h viewport.
func (s *Sample) Resize(w, h uint32) error {
	if w == 0 || h == 0 {
		return fmt.Errorf("resize %dx%d: %w", w, h, gpu.ErrInvalidArgument)
	}
	out, err := s.dev.CreateStructuredBuffer(core.NewLabel("rtOut"), 4, w*h, gpu.BufferUsageStorage)
	if err != nil {
		return err
	}
	if s.output != nil {
		s.output.Release()
	}
	s.output = out
	s.vars = gpu.NewVars().SetBuffer("gOutput", out)
	s.width, s.height = w, h
	s.frame = image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	s.camera.Aspect = float32(w) / float32(h)
	return nil
}

func (s *Sample) Camera() *core.CameraState { return s.camera }
func (s *Sample) Scene() *Scene             { return s.scene }

func (s *Sample) SetDebugView(v DebugView) { s.view = v }

// Update advances the camera orbit, if any.
func (s *Sample) Update(dt float32) {
	if s.scene == nil || s.orbitSpeed == 0 {
		return
	}
	s.orbitAngle += s.orbitSpeed * dt
	c := s.scene.Camera
	offset := c.Position.Sub(c.Target)
	r := mgl32.Vec2{offset.X(), offset.Z()}.Len()
	s.camera.Orbit(c.Target, r, offset.Y(), s.orbitAngle)
}

func (s *Sample) perFrame() perFrame {
	return perFrame{
		invView:      s.camera.GetInvViewMatrix(),
		viewportDims: mgl32.Vec2{float32(s.width), float32(s.height)},
		tanHalfFovY:  s.camera.TanHalfFovY(),
		view:         s.view,
		coneFar:      s.camera.Far,
	}
}

// Render traces one frame and blits it onto target. Before Load and Resize it
// only clears target.
func (s *Sample) Render(target *image.RGBA) {
	if s.prog == nil || s.output == nil {
		draw.Draw(target, target.Bounds(), image.NewUniform(ClearRGBA()), image.Point{}, draw.Src)
		return
	}

	bg := make([]uint32, s.width*s.height)
	for i := range bg {
		bg[i] = packColor(ClearColor)
	}
	s.dev.WriteBuffer(s.output, 0, gpu.Uint32sToBytes(bg))

	frame := s.perFrame()
	s.vars.SetConstants("PerFrameCB", frame.bytes())
	s.dev.Dispatch(s.prog, s.vars, [3]uint32{gpu.DivRoundUp(s.width, groupSize), gpu.DivRoundUp(s.height, groupSize), 1})

	data, err := s.dev.ReadBuffer(s.output)
	if err != nil {
		s.logger.Errorf("raytrace: read output: %v", err)
		return
	}
	// Packed RGBA8 words are already in image.RGBA byte order.
	copy(s.frame.Pix, data)
	s.blit(target)
}

func (s *Sample) blit(target *image.RGBA) {
	if target.Bounds().Size() == s.frame.Bounds().Size() {
		draw.Draw(target, target.Bounds(), s.frame, image.Point{}, draw.Src)
		return
	}
	draw.BiLinear.Scale(target, target.Bounds(), s.frame, s.frame.Bounds(), draw.Src, nil)
}

func (s *Sample) Release() {
	if s.output != nil {
		s.output.Release()
		s.output = nil
	}
	if s.prog != nil {
		s.prog.Release()
		s.prog = nil
	}
}
