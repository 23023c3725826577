// Package vision wraps the external recognition capabilities (face and eye
// detection, embedding, OCR) and the local frame-quality checks.
package vision

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("vision: capability unavailable")

// Rect is a detection box in pixel coordinates of the image it was found in.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Vector is a fixed-length embedding.
type Vector = []float32

type FaceDetector interface {
	DetectFaces(ctx context.Context, img []byte) ([]Rect, error)
}

// EyeDetector searches region of img. Returned boxes are relative to region.
type EyeDetector interface {
	DetectEyes(ctx context.Context, img []byte, region Rect) ([]Rect, error)
}

type Embedder interface {
	Embed(ctx context.Context, img []byte) (Vector, error)
}

type TextReader interface {
	ReadText(ctx context.Context, img []byte) (string, error)
}
