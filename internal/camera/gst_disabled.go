//go:build !gst

package camera

import (
	"errors"

	"github.com/rs/zerolog"
)

// GstAvailable reports whether this binary was built with GStreamer support.
const GstAvailable = false

var errGstDisabled = errors.New("camera: built without gstreamer support (rebuild with -tags gst)")

func NewGstSource(device string, width, height int, log zerolog.Logger) (Source, error) {
	return nil, errGstDisabled
}
