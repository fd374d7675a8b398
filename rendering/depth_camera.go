package rendering

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/simbotics/simsense/events"
)

// DepthCamera renders a float depth buffer, meters per pixel, from the same
// scene machinery as Camera.
type DepthCamera struct {
	name   string
	width  int
	height int
	scene  Scene
	near   float64
	far    float64
	period time.Duration

	mu         sync.Mutex
	front      []float32
	back       []float32
	rendered   bool
	lastRender time.Duration
	nextDue    time.Duration

	newDepthFrame events.Signal[struct{}]
}

// NewDepthCamera builds a depth camera and its scene from config. Format is
// implied: depth buffers are always R_FLOAT32.
func NewDepthCamera(cfg CameraConfig) (*DepthCamera, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	scene, err := NewScene(cfg.Scene, cfg.SceneAttributes)
	if err != nil {
		return nil, errors.Wrapf(err, "depth camera %s", cfg.Name)
	}
	return &DepthCamera{
		name:   cfg.Name,
		width:  cfg.Width,
		height: cfg.Height,
		scene:  scene,
		near:   cfg.Near,
		far:    cfg.Far,
		period: time.Duration(float64(time.Second) / cfg.UpdateRateHz),
		front:  make([]float32, cfg.Width*cfg.Height),
		back:   make([]float32, cfg.Width*cfg.Height),
	}, nil
}

// Name returns the camera's configured name.
func (c *DepthCamera) Name() string { return c.name }

// ImageWidth returns the frame width in pixels.
func (c *DepthCamera) ImageWidth() int { return c.width }

// ImageHeight returns the frame height in pixels.
func (c *DepthCamera) ImageHeight() int { return c.height }

// ImageFormat returns the engine format string for raw depth.
func (c *DepthCamera) ImageFormat() string { return FormatFloat }

// ImageByteDepth returns bytes per pixel of the raw depth buffer.
func (c *DepthCamera) ImageByteDepth() int { return 4 }

// NearClip returns the near clip plane in meters.
func (c *DepthCamera) NearClip() float64 { return c.near }

// FarClip returns the far clip plane in meters.
func (c *DepthCamera) FarClip() float64 { return c.far }

// DepthData returns a copy of the most recent depth buffer, or nil before the
// first render.
func (c *DepthCamera) DepthData() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rendered {
		return nil
	}
	out := make([]float32, len(c.front))
	copy(out, c.front)
	return out
}

// LastRenderTime returns the sim time of the most recent frame.
func (c *DepthCamera) LastRenderTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRender
}

// ConnectNewDepthFrame registers cb to run after every completed render.
func (c *DepthCamera) ConnectNewDepthFrame(cb func()) *events.Connection {
	return c.newDepthFrame.Connect(func(struct{}) { cb() })
}

// Update renders a frame when one is due at simTime and reports whether it
// rendered.
func (c *DepthCamera) Update(simTime time.Duration) bool {
	if simTime < c.nextDue {
		return false
	}
	c.Render(simTime)
	next := c.nextDue + c.period
	if next <= simTime {
		next = simTime + c.period
	}
	c.nextDue = next
	return true
}

// Render draws a depth frame at simTime unconditionally and emits the
// new-depth signal.
func (c *DepthCamera) Render(simTime time.Duration) {
	c.scene.RenderDepth(c.back, c.width, c.height, simTime, c.near, c.far)

	c.mu.Lock()
	c.front, c.back = c.back, c.front
	c.rendered = true
	c.lastRender = simTime
	c.mu.Unlock()

	c.newDepthFrame.Emit(struct{}{})
}
