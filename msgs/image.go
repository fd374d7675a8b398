package msgs

import (
	"github.com/pkg/errors"
)

// PixelFormat identifies the encoding of an Image's Data.
type PixelFormat int32

// Pixel formats the bus carries. RFloat32 is the raw depth buffer format;
// depth republished in fixed-point millimeters uses L16.
const (
	UnknownPixelFormat PixelFormat = iota
	L8
	L16
	RGB24
	RFloat32
)

// BytesPerPixel returns the per-pixel byte width of the format, or 0 when
// unknown.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case L8:
		return 1
	case L16:
		return 2
	case RGB24:
		return 3
	case RFloat32:
		return 4
	case UnknownPixelFormat:
		fallthrough
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case L8:
		return "L8"
	case L16:
		return "L16"
	case RGB24:
		return "RGB24"
	case RFloat32:
		return "R_FLOAT32"
	case UnknownPixelFormat:
		fallthrough
	default:
		return "UNKNOWN"
	}
}

// ParsePixelFormat maps a format name to its PixelFormat. It accepts both
// this package's names and the rendering engine's ("L_INT8", "R8G8B8", ...).
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch name {
	case "L8", "L_INT8":
		return L8, nil
	case "L16", "L_INT16", "L_UINT16":
		return L16, nil
	case "RGB24", "R8G8B8":
		return RGB24, nil
	case "R_FLOAT32":
		return RFloat32, nil
	default:
		return UnknownPixelFormat, errors.Errorf("unknown pixel format %q", name)
	}
}

// Image is a single frame. Step is the row stride in bytes, always derived
// from the image's own pixel format.
type Image struct {
	Width       uint32      `json:"width" bson:"width"`
	Height      uint32      `json:"height" bson:"height"`
	PixelFormat PixelFormat `json:"pixel_format" bson:"pixel_format"`
	Step        uint32      `json:"step" bson:"step"`
	Data        []byte      `json:"-" bson:"data"`
}

// NewImage builds an Image with Step computed from the format. Data is
// retained, not copied; producers hand over a fresh buffer per frame.
func NewImage(width, height int, format PixelFormat, data []byte) Image {
	return Image{
		Width:       uint32(width),
		Height:      uint32(height),
		PixelFormat: format,
		Step:        uint32(width * format.BytesPerPixel()),
		Data:        data,
	}
}

// Validate checks that the image's dimensions, stride, and payload agree.
func (i Image) Validate() error {
	bpp := i.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return errors.Errorf("unknown pixel format %d", int32(i.PixelFormat))
	}
	if i.Width == 0 || i.Height == 0 {
		return errors.Errorf("zero image dimension %dx%d", i.Width, i.Height)
	}
	if i.Step < i.Width*uint32(bpp) {
		return errors.Errorf("step %d shorter than row width %d", i.Step, i.Width*uint32(bpp))
	}
	if uint32(len(i.Data)) != i.Step*i.Height {
		return errors.Errorf("payload is %d bytes, want %d", len(i.Data), i.Step*i.Height)
	}
	return nil
}

// ImageStamped is a frame paired with the sim time it was rendered at.
type ImageStamped struct {
	Time  Time  `json:"time" bson:"time"`
	Image Image `json:"image" bson:"image"`
}
