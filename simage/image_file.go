package simage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"

	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/utils"
)

// EncodeImage encodes an image into the requested mime type.
func EncodeImage(ctx context.Context, img image.Image, mimeType string) ([]byte, error) {
	var buf bytes.Buffer
	switch mimeType {
	case utils.MimeTypePNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case utils.MimeTypeJPEG:
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	case utils.MimeTypeQOI:
		if err := qoi.Encode(&buf, img); err != nil {
			return nil, err
		}
	case utils.MimeTypePPM:
		if err := ppm.Encode(&buf, img); err != nil {
			return nil, err
		}
	case utils.MimeTypeRawDepth:
		dm, ok := img.(*DepthMap)
		if !ok {
			return nil, errors.Errorf("cannot encode %T as raw depth", img)
		}
		return dm.Bytes(), nil
	default:
		return nil, errors.Errorf("do not know how to encode %q", mimeType)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes image bytes of the given mime type.
func DecodeImage(ctx context.Context, data []byte, mimeType string) (image.Image, error) {
	switch mimeType {
	case utils.MimeTypePNG:
		return png.Decode(bytes.NewReader(data))
	case utils.MimeTypeJPEG:
		return jpeg.Decode(bytes.NewReader(data))
	case utils.MimeTypeQOI:
		return qoi.Decode(bytes.NewReader(data))
	case utils.MimeTypePPM:
		return ppm.Decode(bytes.NewReader(data))
	default:
		return nil, errors.Errorf("do not know how to decode %q", mimeType)
	}
}

// packedRows strips any row padding so pixel data is contiguous.
func packedRows(img msgs.Image) []byte {
	rowLen := int(img.Width) * img.PixelFormat.BytesPerPixel()
	if int(img.Step) == rowLen {
		return img.Data
	}
	out := make([]byte, rowLen*int(img.Height))
	for y := 0; y < int(img.Height); y++ {
		copy(out[y*rowLen:(y+1)*rowLen], img.Data[y*int(img.Step):y*int(img.Step)+rowLen])
	}
	return out
}

// ImageFromStamped converts a bus frame into a Go image: L8 to Gray, RGB24 to
// NRGBA, L16 to a DepthMap, and raw float depth to a max-normalized Gray16.
func ImageFromStamped(stamped msgs.ImageStamped) (image.Image, error) {
	img := stamped.Image
	if err := img.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid image message")
	}
	w, h := int(img.Width), int(img.Height)
	data := packedRows(img)

	switch img.PixelFormat {
	case msgs.L8:
		out := image.NewGray(image.Rect(0, 0, w, h))
		copy(out.Pix, data)
		return out, nil
	case msgs.RGB24:
		out := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			out.Pix[i*4] = data[i*3]
			out.Pix[i*4+1] = data[i*3+1]
			out.Pix[i*4+2] = data[i*3+2]
			out.Pix[i*4+3] = 255
		}
		return out, nil
	case msgs.L16:
		return DepthMapFromBytes(data, w, h)
	case msgs.RFloat32:
		floats, err := FloatsFromBytes(data)
		if err != nil {
			return nil, err
		}
		var max float32
		for _, f := range floats {
			if f > max {
				max = f
			}
		}
		out := image.NewGray16(image.Rect(0, 0, w, h))
		for i, f := range floats {
			if f <= 0 || max == 0 {
				continue
			}
			out.SetGray16(i%w, i/w, color.Gray16{Y: uint16(float64(f) / float64(max) * float64(MaxDepth))})
		}
		return out, nil
	case msgs.UnknownPixelFormat:
		fallthrough
	default:
		return nil, errors.Errorf("cannot convert pixel format %s", img.PixelFormat)
	}
}
