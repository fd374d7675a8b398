package simage

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// FloatsToBytes packs a float32 buffer little-endian, IEEE 754 bits. This is
// the payload layout of raw depth view frames.
func FloatsToBytes(buf []float32) []byte {
	out := make([]byte, 4*len(buf))
	for i, f := range buf {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// FloatsFromBytes is the inverse of FloatsToBytes.
func FloatsFromBytes(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.Errorf("float payload is %d bytes, not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// DepthMapFromFloats quantizes a raw float depth buffer in meters with the
// same rules the camera plugin publishes under: readings nearer than near,
// farther than far, negative, or too large for 16 bits become holes;
// everything else truncates to depth units of scale meters.
func DepthMapFromFloats(buf []float32, width, height int, scale, near, far float64) (*DepthMap, error) {
	if len(buf) != width*height {
		return nil, errors.Errorf("depth buffer has %d values, want %d for %dx%d", len(buf), width*height, width, height)
	}
	if scale <= 0 {
		return nil, errors.Errorf("depth scale must be positive, got %f", scale)
	}
	dm := NewEmptyDepthMap(width, height)
	for i, f := range buf {
		d := float64(f)
		if d < near || d > far || d/scale > float64(MaxDepth) || d < 0 {
			continue
		}
		dm.data[i] = Depth(d / scale)
	}
	return dm, nil
}
