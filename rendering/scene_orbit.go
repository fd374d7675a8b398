package rendering

import (
	"math"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/image/colornames"

	"github.com/simbotics/simsense/utils"
)

// orbitScene is a sphere circling in front of the camera above a ground
// plane. Color frames are painted with gg; depth comes from analytic
// ray casts so the float buffer is exact.
//
// Camera convention: origin at the eye, +Z forward, +X right, +Y down,
// 90 degree horizontal field of view.
type orbitScene struct {
	sphereRadius float64
	orbitRadius  float64
	distance     float64
	period       time.Duration
	groundY      float64
}

func newOrbitScene(attrs utils.AttributeMap) (Scene, error) {
	s := &orbitScene{
		sphereRadius: attrs.GetFloat64("sphere_radius_m", 0.5),
		orbitRadius:  attrs.GetFloat64("orbit_radius_m", 1.5),
		distance:     attrs.GetFloat64("distance_m", 4.0),
		period:       time.Duration(attrs.GetFloat64("period_s", 8.0) * float64(time.Second)),
		groundY:      attrs.GetFloat64("ground_y_m", 1.2),
	}
	if s.sphereRadius <= 0 || s.orbitRadius < 0 || s.distance <= 0 || s.period <= 0 || s.groundY <= 0 {
		return nil, errors.New("orbit scene attributes must be positive")
	}
	return s, nil
}

// sphereCenter returns the sphere's position at sim time t.
func (s *orbitScene) sphereCenter(t time.Duration) r3.Vector {
	angle := 2 * math.Pi * float64(t) / float64(s.period)
	return r3.Vector{
		X: s.orbitRadius * math.Sin(angle),
		Y: 0,
		Z: s.distance + s.orbitRadius*math.Cos(angle),
	}
}

func (s *orbitScene) RenderColor(dst []byte, w, h int, t time.Duration) {
	dc := gg.NewContext(w, h)

	dc.SetColor(colornames.Skyblue)
	dc.Clear()

	// horizon: where a ray through the pixel row grazes the ground plane
	fx := float64(w) / 2
	horizon := float64(h)/2 + 1
	dc.SetColor(colornames.Darkolivegreen)
	dc.DrawRectangle(0, horizon, float64(w), float64(h)-horizon)
	dc.Fill()

	center := s.sphereCenter(t)
	if center.Z > 0 {
		sx := fx*center.X/center.Z + float64(w)/2
		sy := fx*center.Y/center.Z + float64(h)/2
		rpx := fx * s.sphereRadius / center.Z
		dc.SetColor(colornames.Orangered)
		dc.DrawCircle(sx, sy, rpx)
		dc.Fill()
	}

	img := dc.Image()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			i := (y*w + x) * 3
			dst[i] = byte(r >> 8)
			dst[i+1] = byte(g >> 8)
			dst[i+2] = byte(b >> 8)
		}
	}
}

func (s *orbitScene) RenderDepth(dst []float32, w, h int, t time.Duration, near, far float64) {
	fx := float64(w) / 2
	cx := float64(w)/2 - 0.5
	cy := float64(h)/2 - 0.5
	center := s.sphereCenter(t)
	rr := s.sphereRadius * s.sphereRadius

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dir := r3.Vector{
				X: (float64(x) - cx) / fx,
				Y: (float64(y) - cy) / fx,
				Z: 1,
			}.Normalize()

			z := far

			// ground plane at Y = groundY, camera looks along +Z
			if dir.Y > 1e-9 {
				tg := s.groundY / dir.Y
				if gz := tg * dir.Z; gz < z {
					z = gz
				}
			}

			// nearest sphere intersection
			b := dir.Dot(center)
			disc := b*b - (center.Norm2() - rr)
			if disc >= 0 {
				ts := b - math.Sqrt(disc)
				if ts > 0 {
					if sz := ts * dir.Z; sz < z {
						z = sz
					}
				}
			}

			if z > far {
				z = far
			}
			dst[y*w+x] = float32(z)
		}
	}
}
