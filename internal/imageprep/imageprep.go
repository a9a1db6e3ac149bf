package imageprep

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

const jpegQuality = 90

// Fit scales an image down so neither side exceeds maxDimension. Input that
// already fits, or that the image package cannot decode, is returned as is so
// the vision service can judge it.
func Fit(data []byte, maxDimension uint) ([]byte, error) {
	if maxDimension == 0 {
		return data, nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, nil
	}
	if uint(cfg.Width) <= maxDimension && uint(cfg.Height) <= maxDimension {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	resized := resize.Thumbnail(maxDimension, maxDimension, img, resize.Lanczos3)

	var out bytes.Buffer
	switch format {
	case "png", "gif":
		err = png.Encode(&out, resized)
	default:
		err = jpeg.Encode(&out, resized, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return out.Bytes(), nil
}
