//go:build gst

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstSource reads JPEG frames from a local V4L2 device through a GStreamer
// pipeline ending in an appsink.
type GstSource struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	log      zerolog.Logger

	closeOnce sync.Once
}

// GstAvailable reports whether this binary was built with GStreamer support.
const GstAvailable = true

func NewGstSource(device string, width, height int, log zerolog.Logger) (Source, error) {
	gst.Init(nil)

	launch := fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! video/x-raw,width=%d,height=%d ! "+
			"jpegenc ! appsink name=sink max-buffers=1 drop=true sync=false",
		device, width, height)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}
	log.Info().Str("device", device).Int("width", width).Int("height", height).Msg("gstreamer camera started")

	return &GstSource{pipeline: pipeline, sink: sink, log: log}, nil
}

func (s *GstSource) Capture(ctx context.Context) ([]byte, error) {
	timeout := time.Second
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	sample := s.sink.TryPullSample(timeout)
	if sample == nil {
		return nil, errors.New("no sample available")
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("sample has no buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	// GStreamer reuses the buffer after Unmap
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	return frame, nil
}

func (s *GstSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pipeline.SetState(gst.StateNull)
	})
	return err
}
