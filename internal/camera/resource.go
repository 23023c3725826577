// Package camera owns the single shared camera. Every frame read, and every
// bounded detection loop, runs while holding the camera for its duration.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrCaptureFailed    = errors.New("camera: capture failed")
	ErrDetectionTimeout = errors.New("camera: nothing detected before timeout")
)

// Frame is one encoded image read from the camera.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// Source produces encoded frames. Implementations need not be safe for
// concurrent use; Resource serializes access.
type Source interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// Resource is the exclusive camera handle.
type Resource struct {
	src Source
	log zerolog.Logger

	sem           chan struct{}
	seq           atomic.Uint64
	sessionActive atomic.Bool
}

func NewResource(src Source, log zerolog.Logger) *Resource {
	return &Resource{
		src: src,
		log: log,
		sem: make(chan struct{}, 1),
	}
}

func (r *Resource) acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resource) release() {
	<-r.sem
}

// ReadFrame holds the camera for exactly one read.
func (r *Resource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := r.acquire(ctx); err != nil {
		return Frame{}, err
	}
	defer r.release()
	return r.read(ctx)
}

func (r *Resource) read(ctx context.Context) (Frame, error) {
	data, err := r.src.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrCaptureFailed)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: undecodable frame: %v", ErrCaptureFailed, err)
	}
	return Frame{
		Data:       data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Seq:        r.seq.Add(1),
		CapturedAt: time.Now(),
	}, nil
}

// AcceptFunc inspects a frame. Returning false asks for a brand-new frame.
type AcceptFunc func(ctx context.Context, f Frame) (bool, error)

// Poll holds the camera while it reads frames until accept approves one or the
// timeout elapses. A timeout yields ErrDetectionTimeout; a read failure yields
// ErrCaptureFailed; an accept error is returned as is.
func (r *Resource) Poll(ctx context.Context, timeout time.Duration, accept AcceptFunc) (Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.acquire(ctx); err != nil {
		return Frame{}, r.pollErr(ctx, err)
	}
	defer r.release()

	attempts := 0
	for {
		f, err := r.read(ctx)
		if err != nil {
			return Frame{}, r.pollErr(ctx, err)
		}
		attempts++

		ok, err := accept(ctx, f)
		if err != nil {
			return Frame{}, r.pollErr(ctx, err)
		}
		if ok {
			r.log.Debug().Int("attempts", attempts).Uint64("seq", f.Seq).Msg("frame accepted")
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, r.pollErr(ctx, err)
		}
	}
}

func (r *Resource) pollErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrDetectionTimeout
	}
	return err
}

// SetSessionActive pauses the preview feed while a session owns the camera.
func (r *Resource) SetSessionActive(active bool) {
	r.sessionActive.Store(active)
}

// Preview emits frames at the given interval until ctx is done or emit fails.
// The camera is acquired once per frame, and no frames are read while a
// session is active.
func (r *Resource) Preview(ctx context.Context, interval time.Duration, emit func(Frame) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if r.sessionActive.Load() {
			continue
		}

		f, err := r.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn().Err(err).Msg("preview frame failed")
			continue
		}
		if err := emit(f); err != nil {
			return err
		}
	}
}

func (r *Resource) Close() error {
	return r.src.Close()
}
