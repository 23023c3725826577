package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
)

// BlurScore decodes img and returns the variance of the 4-neighbour Laplacian
// over its grayscale version. Higher means sharper.
func BlurScore(img []byte) (float64, error) {
	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	return LaplacianVariance(decoded), nil
}

// LaplacianVariance computes the sharpness score on interior pixels.
func LaplacianVariance(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			gray[y*w+x] = float64(g.Y)
		}
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			v := gray[i-w] + gray[i+w] + gray[i-1] + gray[i+1] - 4*gray[i]
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
