package vision

import (
	"context"

	"github.com/rs/zerolog"

	"gate-service/internal/camera"
)

// InspectorConfig holds the acceptance criteria for a clean face capture.
type InspectorConfig struct {
	MaxEyeOffsetPx  int
	MinFaceFraction float64
	MinSharpness    float64
}

func DefaultInspectorConfig() InspectorConfig {
	return InspectorConfig{
		MaxEyeOffsetPx:  15,
		MinFaceFraction: 0.2,
		MinSharpness:    100,
	}
}

// Rejection names the first check a frame failed.
type Rejection string

const (
	Accepted        Rejection = ""
	RejectNoFace    Rejection = "no_face"
	RejectEyeCount  Rejection = "eyes_not_detected"
	RejectEyeAlign  Rejection = "eyes_misaligned"
	RejectFaceSmall Rejection = "face_too_small"
	RejectBlurry    Rejection = "blurry"
)

// Inspector decides whether a frame shows a single clear, frontal face.
type Inspector struct {
	faces FaceDetector
	eyes  EyeDetector
	cfg   InspectorConfig
	log   zerolog.Logger
}

func NewInspector(faces FaceDetector, eyes EyeDetector, cfg InspectorConfig, log zerolog.Logger) *Inspector {
	return &Inspector{faces: faces, eyes: eyes, cfg: cfg, log: log}
}

// Inspect runs the checks against every detected face and accepts the frame on
// the first face that passes all of them.
func (i *Inspector) Inspect(ctx context.Context, f camera.Frame) (Rejection, error) {
	faces, err := i.faces.DetectFaces(ctx, f.Data)
	if err != nil {
		return "", err
	}
	if len(faces) == 0 {
		return RejectNoFace, nil
	}

	reason := RejectNoFace
	sharpness := -1.0
	for _, face := range faces {
		upper := Rect{X: face.X, Y: face.Y, W: face.W, H: face.H / 2}
		eyes, err := i.eyes.DetectEyes(ctx, f.Data, upper)
		if err != nil {
			return "", err
		}
		if len(eyes) != 2 {
			reason = RejectEyeCount
			continue
		}
		if abs(eyes[0].Y-eyes[1].Y) > i.cfg.MaxEyeOffsetPx {
			reason = RejectEyeAlign
			continue
		}
		if f.Width == 0 || f.Height == 0 ||
			float64(face.W)/float64(f.Width) < i.cfg.MinFaceFraction ||
			float64(face.H)/float64(f.Height) < i.cfg.MinFaceFraction {
			reason = RejectFaceSmall
			continue
		}
		if sharpness < 0 {
			if sharpness, err = BlurScore(f.Data); err != nil {
				return "", err
			}
		}
		if sharpness < i.cfg.MinSharpness {
			reason = RejectBlurry
			continue
		}
		return Accepted, nil
	}
	return reason, nil
}

// Accept adapts Inspect to camera.Resource.Poll.
func (i *Inspector) Accept(ctx context.Context, f camera.Frame) (bool, error) {
	reason, err := i.Inspect(ctx, f)
	if err != nil {
		return false, err
	}
	if reason != Accepted {
		i.log.Debug().Uint64("seq", f.Seq).Str("reason", string(reason)).Msg("frame rejected")
		return false, nil
	}
	return true, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
