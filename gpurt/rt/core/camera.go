package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type CameraState struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	Speed       float32
	Sensitivity float32

	FovY   float32 // radians
	Aspect float32
	Near   float32
	Far    float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position:    mgl32.Vec3{0, 2, 20},
		Yaw:         0,
		Pitch:       0,
		Speed:       10.0,
		Sensitivity: 0.003,
		FovY:        mgl32.DegToRad(60),
		Aspect:      16.0 / 9.0,
		Near:        0.1,
		Far:         1000,
	}
}

// Y-up: yaw 0 looks down -Z.
func (c *CameraState) GetForward() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Yaw))),
		0,
		float32(math.Sin(float64(c.Yaw))),
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	target := eye.Add(c.GetForward())
	return mgl32.LookAtV(eye, target, mgl32.Vec3{0, 1, 0})
}

func (c *CameraState) GetInvViewMatrix() mgl32.Mat4 {
	return c.GetViewMatrix().Inv()
}

func (c *CameraState) GetProjMatrix() mgl32.Mat4 {
	aspect := c.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	return mgl32.Perspective(c.FovY, aspect, c.Near, c.Far)
}

func (c *CameraState) TanHalfFovY() float32 {
	return float32(math.Tan(float64(c.FovY) * 0.5))
}

// LookAt points the camera at target by solving yaw/pitch from the current position.
func (c *CameraState) LookAt(target mgl32.Vec3) {
	d := target.Sub(c.Position)
	if d.Len() == 0 {
		return
	}
	d = d.Normalize()
	c.Pitch = float32(math.Asin(float64(d.Y())))
	c.Yaw = float32(math.Atan2(float64(d.X()), float64(-d.Z())))
}

// Orbit places the camera on a circle of radius r around center at angle theta
// (radians, measured in the XZ plane) and height h, looking at center.
func (c *CameraState) Orbit(center mgl32.Vec3, r, h, theta float32) {
	c.Position = mgl32.Vec3{
		center.X() + r*float32(math.Sin(float64(theta))),
		center.Y() + h,
		center.Z() + r*float32(math.Cos(float64(theta))),
	}
	c.LookAt(center)
}
