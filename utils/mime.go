package utils

const (
	// MimeTypePNG is regular pngs.
	MimeTypePNG = "image/png"

	// MimeTypeJPEG is regular jpgs.
	MimeTypeJPEG = "image/jpeg"

	// MimeTypeQOI is for .qoi "Quite OK Image" lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"

	// MimeTypePPM is for portable pixmaps, handy for piping into image tools.
	MimeTypePPM = "image/ppm"

	// MimeTypeRawDepth is a raw little-endian simage.DepthMap payload.
	MimeTypeRawDepth = "image/raw-depth"
)
