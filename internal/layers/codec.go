package layers

import (
	"bytes"
	"image"
	"image/png"

	"github.com/pkg/errors"
)

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "layers: encode png")
	}
	return buf.Bytes(), nil
}

func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "layers: decode png")
	}
	return img, nil
}
