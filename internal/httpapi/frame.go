package httpapi

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
)

// decodeFrameData decodes process_frame's base64 frame_data field into a
// grayscale pixel plane. Any image format with a registered stdlib
// decoder (jpeg, png) is accepted; an undecodable payload returns an
// error the caller turns into a 400.
func decodeFrameData(b64 string) (width, height int, pixels []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("base64 decode: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("image decode: %w", err)
	}

	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	return bounds.Dx(), bounds.Dy(), gray.Pix, nil
}
