package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// PatchSize is the side length of the square face patch used by CascadeExtractor.
const PatchSize = 100

// CascadeDimension is the length of a CascadeExtractor embedding.
const CascadeDimension = PatchSize * PatchSize

// DecodeGray decodes an encoded image and converts it to 8-bit grayscale.
func DecodeGray(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}

	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return gray, nil
}

// PatchVector crops box out of gray, scales it to PatchSize x PatchSize,
// flattens it row by row and L2-normalizes the result.
func PatchVector(gray *image.Gray, box image.Rectangle) (Embedding, error) {
	box = box.Intersect(gray.Bounds())
	if box.Empty() {
		return nil, fmt.Errorf("face box outside image bounds")
	}

	patch := image.NewGray(image.Rect(0, 0, PatchSize, PatchSize))
	draw.BiLinear.Scale(patch, patch.Bounds(), gray, box, draw.Src, nil)

	vec := make(Embedding, CascadeDimension)
	for y := 0; y < PatchSize; y++ {
		row := patch.Pix[y*patch.Stride : y*patch.Stride+PatchSize]
		for x, p := range row {
			vec[y*PatchSize+x] = float32(p)
		}
	}

	return Normalize(vec), nil
}
