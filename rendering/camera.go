package rendering

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/simbotics/simsense/events"
	"github.com/simbotics/simsense/utils"
)

// CameraConfig describes one rendering camera. The same shape configures
// color, infrared, and depth cameras; depth ignores Format.
type CameraConfig struct {
	Name            string
	Width           int
	Height          int
	Format          string
	UpdateRateHz    float64
	Scene           string
	SceneAttributes utils.AttributeMap
	Near            float64
	Far             float64
}

func (cfg CameraConfig) validate() error {
	if cfg.Name == "" {
		return errors.New("camera needs a name")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.Errorf("camera %s has bad dimensions %dx%d", cfg.Name, cfg.Width, cfg.Height)
	}
	if cfg.UpdateRateHz <= 0 {
		return errors.Errorf("camera %s needs a positive update rate", cfg.Name)
	}
	if cfg.Near <= 0 || cfg.Far <= cfg.Near {
		return errors.Errorf("camera %s needs 0 < near < far, got near=%f far=%f", cfg.Name, cfg.Near, cfg.Far)
	}
	return nil
}

// Camera renders color (or infrared) frames from a scene on a fixed sim-time
// schedule. Frame data accessors return copies; the render loop reuses
// internal buffers.
type Camera struct {
	name      string
	width     int
	height    int
	format    string
	byteDepth int
	scene     Scene
	period    time.Duration

	mu         sync.Mutex
	front      []byte
	back       []byte
	rgbScratch []byte
	rendered   bool
	lastRender time.Duration
	nextDue    time.Duration
	frame      uint64

	newImageFrame events.Signal[struct{}]
}

// NewCamera builds a camera and its scene from config.
func NewCamera(cfg CameraConfig) (*Camera, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var byteDepth int
	switch cfg.Format {
	case FormatL8:
		byteDepth = 1
	case FormatRGB:
		byteDepth = 3
	default:
		return nil, errors.Errorf("camera %s has unsupported format %q", cfg.Name, cfg.Format)
	}
	scene, err := NewScene(cfg.Scene, cfg.SceneAttributes)
	if err != nil {
		return nil, errors.Wrapf(err, "camera %s", cfg.Name)
	}

	c := &Camera{
		name:      cfg.Name,
		width:     cfg.Width,
		height:    cfg.Height,
		format:    cfg.Format,
		byteDepth: byteDepth,
		scene:     scene,
		period:    time.Duration(float64(time.Second) / cfg.UpdateRateHz),
		front:     make([]byte, cfg.Width*cfg.Height*byteDepth),
		back:      make([]byte, cfg.Width*cfg.Height*byteDepth),
	}
	if byteDepth == 1 {
		c.rgbScratch = make([]byte, cfg.Width*cfg.Height*3)
	}
	return c, nil
}

// Name returns the camera's configured name.
func (c *Camera) Name() string { return c.name }

// ImageWidth returns the frame width in pixels.
func (c *Camera) ImageWidth() int { return c.width }

// ImageHeight returns the frame height in pixels.
func (c *Camera) ImageHeight() int { return c.height }

// ImageFormat returns the engine format string, e.g. "R8G8B8".
func (c *Camera) ImageFormat() string { return c.format }

// ImageByteDepth returns bytes per pixel for the camera's format.
func (c *Camera) ImageByteDepth() int { return c.byteDepth }

// ImageData returns a copy of the most recent frame, or nil before the first
// render.
func (c *Camera) ImageData() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rendered {
		return nil
	}
	out := make([]byte, len(c.front))
	copy(out, c.front)
	return out
}

// LastRenderTime returns the sim time of the most recent frame.
func (c *Camera) LastRenderTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRender
}

// ConnectNewImageFrame registers cb to run after every completed render.
func (c *Camera) ConnectNewImageFrame(cb func()) *events.Connection {
	return c.newImageFrame.Connect(func(struct{}) { cb() })
}

// Update renders a frame when one is due at simTime and reports whether it
// rendered. The world loop drives this once per step.
func (c *Camera) Update(simTime time.Duration) bool {
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

// Render draws a frame at simTime unconditionally and emits the new-frame
// signal.
func (c *Camera) Render(simTime time.Duration) {
	if c.byteDepth == 1 {
		c.scene.RenderColor(c.rgbScratch, c.width, c.height, simTime)
		frame := c.frame + 1
		for i := 0; i < c.width*c.height; i++ {
			r := int(c.rgbScratch[i*3])
			g := int(c.rgbScratch[i*3+1])
			b := int(c.rgbScratch[i*3+2])
			y := (299*r + 587*g + 114*b) / 1000
			y += speckle(i%c.width, i/c.width, frame)
			if y < 0 {
				y = 0
			} else if y > 255 {
				y = 255
			}
			c.back[i] = byte(y)
		}
	} else {
		c.scene.RenderColor(c.back, c.width, c.height, simTime)
	}

	c.mu.Lock()
	c.front, c.back = c.back, c.front
	c.rendered = true
	c.lastRender = simTime
	c.frame++
	c.mu.Unlock()

	c.newImageFrame.Emit(struct{}{})
}

// speckle is the deterministic per-pixel noise infrared frames carry.
func speckle(x, y int, frame uint64) int {
	h := uint32(x)*73856093 ^ uint32(y)*19349663 ^ uint32(frame)*83492791
	return int(h%7) - 3
}
