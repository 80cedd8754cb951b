package ai

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// InputSize is the square edge length the pneumonia network expects
const InputSize = 150

// ErrInvalidImage is returned for bytes that do not decode as JPEG or PNG
var ErrInvalidImage = errors.New("invalid image file")

// Tensor is a batch of one RGB image scaled to [0,1], shaped [1][150][150][3]
type Tensor [][][][]float32

// PreprocessImage decodes an X-ray image, converts it to RGB, resizes it to
// InputSize x InputSize and scales each channel to [0,1].
func PreprocessImage(data []byte) (Tensor, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	rows := make([][][]float32, InputSize)
	for y := 0; y < InputSize; y++ {
		row := make([][]float32, InputSize)
		for x := 0; x < InputSize; x++ {
			off := dst.PixOffset(x, y)
			// grayscale sources decode without alpha, RGBA alpha is dropped like a PIL convert("RGB")
			row[x] = []float32{
				float32(dst.Pix[off]) / 255,
				float32(dst.Pix[off+1]) / 255,
				float32(dst.Pix[off+2]) / 255,
			}
		}
		rows[y] = row
	}

	return Tensor{rows}, nil
}
