package rendering

import (
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/simbotics/simsense/utils"
)

// gradientScene is a static left-to-right blend between two colors, with
// depth ramping linearly from the near to the far plane. Handy for smoke
// tests because every pixel is predictable.
type gradientScene struct {
	start colorful.Color
	end   colorful.Color
}

func newGradientScene(attrs utils.AttributeMap) (Scene, error) {
	startHex := attrs.GetString("start_color")
	if startHex == "" {
		startHex = "#ff8c00"
	}
	endHex := attrs.GetString("end_color")
	if endHex == "" {
		endHex = "#1e90ff"
	}
	start, err := colorful.Hex(startHex)
	if err != nil {
		return nil, errors.Wrapf(err, "bad start_color %q", startHex)
	}
	end, err := colorful.Hex(endHex)
	if err != nil {
		return nil, errors.Wrapf(err, "bad end_color %q", endHex)
	}
	return &gradientScene{start: start, end: end}, nil
}

func (s *gradientScene) RenderColor(dst []byte, w, h int, t time.Duration) {
	for x := 0; x < w; x++ {
		ratio := 0.0
		if w > 1 {
			ratio = float64(x) / float64(w-1)
		}
		r, g, b := s.start.BlendRgb(s.end, ratio).Clamped().RGB255()
		for y := 0; y < h; y++ {
			i := (y*w + x) * 3
			dst[i] = r
			dst[i+1] = g
			dst[i+2] = b
		}
	}
}

func (s *gradientScene) RenderDepth(dst []float32, w, h int, t time.Duration, near, far float64) {
	for x := 0; x < w; x++ {
		ratio := 0.0
		if w > 1 {
			ratio = float64(x) / float64(w-1)
		}
		d := float32(near + (far-near)*ratio)
		for y := 0; y < h; y++ {
			dst[y*w+x] = d
		}
	}
}
