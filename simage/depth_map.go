// Package simage holds the image and depth helpers the rig uses to inspect,
// colorize, and export published frames.
package simage

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// Depth is a single depth value in fixed-point depth units (millimeters at
// the default camera scale). Zero is a hole, not a measurement.
type Depth uint16

// MaxDepth is the largest representable depth value.
const MaxDepth = Depth(math.MaxUint16)

// DepthMap fulfills the image.Image interface and represents the depth values
// of a frame.
type DepthMap struct {
	width  int
	height int
	data   []Depth
}

// NewEmptyDepthMap returns an unset depth map of the given dimensions.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// DepthMapFromBytes rebuilds a depth map from a little-endian 16-bit payload,
// the format depth frames travel in on the bus.
func DepthMapFromBytes(b []byte, width, height int) (*DepthMap, error) {
	if len(b) != width*height*2 {
		return nil, errors.Errorf("depth payload is %d bytes, want %d for %dx%d", len(b), width*height*2, width, height)
	}
	dm := NewEmptyDepthMap(width, height)
	for i := range dm.data {
		dm.data[i] = Depth(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return dm, nil
}

// Bytes packs the depth map little-endian, two bytes per pixel.
func (dm *DepthMap) Bytes() []byte {
	out := make([]byte, len(dm.data)*2)
	for i, d := range dm.data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d))
	}
	return out
}

// Width returns the width of the depth map.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the height of the depth map.
func (dm *DepthMap) Height() int {
	return dm.height
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[y*dm.width+x]
}

// Set writes the depth at (x, y).
func (dm *DepthMap) Set(x, y int, v Depth) {
	dm.data[y*dm.width+x] = v
}

// Bounds returns the rectangle of the map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// ColorModel treats depth values as 16-bit grays.
func (dm *DepthMap) ColorModel() color.Model {
	return color.Gray16Model
}

// At returns the depth at (x, y) as a 16-bit gray.
func (dm *DepthMap) At(x, y int) color.Color {
	return color.Gray16{Y: uint16(dm.GetDepth(x, y))}
}

// MinMax returns the smallest and largest depth values present, ignoring
// holes. A map with no data returns (0, 0).
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min := MaxDepth
	max := Depth(0)
	for _, z := range dm.data {
		if z == 0 {
			continue
		}
		if z < min {
			min = z
		}
		if z > max {
			max = z
		}
	}
	if max == 0 {
		return 0, 0
	}
	return min, max
}

// ToGray16Picture converts the depth map into a Gray16 image.
func (dm *DepthMap) ToGray16Picture() *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(dm.GetDepth(x, y))})
		}
	}
	return img
}

// ToPrettyPicture colorizes the depth map for human eyes: near sweeps from
// orange through the hue wheel to blue at far, holes stay black. hardMin and
// hardMax clamp the range so outliers don't flatten the sweep; a hardMax of
// zero leaves the far end unclamped.
func (dm *DepthMap) ToPrettyPicture(hardMin, hardMax Depth) image.Image {
	min, max := dm.MinMax()

	if min < hardMin {
		min = hardMin
	}
	if hardMax > 0 && max > hardMax {
		max = hardMax
	}

	img := image.NewNRGBA(dm.Bounds())
	span := float64(max) - float64(min)

	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}
			if z < min {
				z = min
			}
			if z > max {
				z = max
			}

			ratio := 0.0
			if span > 0 {
				ratio = float64(z-min) / span
			}

			hue := 30 + (200.0 * ratio)
			r, g, b := colorful.Hsv(hue, 1.0, 1.0).RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}

	return img
}
