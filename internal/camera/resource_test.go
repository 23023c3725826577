package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type fakeSource struct {
	frame    []byte
	err      error
	delay    time.Duration
	captures atomic.Int32
}

func (s *fakeSource) Capture(ctx context.Context) ([]byte, error) {
	s.captures.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.frame, s.err
}

func (s *fakeSource) Close() error { return nil }

func TestReadFrame_DecodesDimensions(t *testing.T) {
	r := NewResource(&fakeSource{frame: testJPEG(t, 64, 48)}, zerolog.Nop())

	f, err := r.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Width != 64 || f.Height != 48 {
		t.Errorf("expected 64x48, got %dx%d", f.Width, f.Height)
	}
	if f.Seq != 1 {
		t.Errorf("expected seq 1, got %d", f.Seq)
	}
}

func TestReadFrame_CaptureFailed(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
	}{
		{"source error", &fakeSource{err: errors.New("device busy")}},
		{"empty", &fakeSource{frame: nil}},
		{"garbage", &fakeSource{frame: []byte("not an image")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResource(tt.src, zerolog.Nop())
			if _, err := r.ReadFrame(context.Background()); !errors.Is(err, ErrCaptureFailed) {
				t.Errorf("expected ErrCaptureFailed, got %v", err)
			}
		})
	}
}

func TestPoll_RetriesUntilAccepted(t *testing.T) {
	src := &fakeSource{frame: testJPEG(t, 16, 16)}
	r := NewResource(src, zerolog.Nop())

	calls := 0
	f, err := r.Poll(context.Background(), time.Second, func(ctx context.Context, f Frame) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if f.Seq != 3 || src.captures.Load() != 3 {
		t.Errorf("expected a fresh frame per attempt, got seq %d after %d captures", f.Seq, src.captures.Load())
	}
}

func TestPoll_Timeout(t *testing.T) {
	r := NewResource(&fakeSource{frame: testJPEG(t, 16, 16), delay: time.Millisecond}, zerolog.Nop())

	start := time.Now()
	_, err := r.Poll(context.Background(), 30*time.Millisecond, func(context.Context, Frame) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrDetectionTimeout) {
		t.Fatalf("expected ErrDetectionTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("poll overran its timeout")
	}
}

func TestPoll_HoldsCameraExclusively(t *testing.T) {
	r := NewResource(&fakeSource{frame: testJPEG(t, 16, 16)}, zerolog.Nop())

	inPoll := make(chan struct{})
	release := make(chan struct{})
	go r.Poll(context.Background(), time.Second, func(context.Context, Frame) (bool, error) {
		close(inPoll)
		<-release
		return true, nil
	})
	<-inPoll

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.ReadFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected read to wait for the poll, got %v", err)
	}

	close(release)
	if _, err := r.ReadFrame(context.Background()); err != nil {
		t.Errorf("expected read after poll to succeed: %v", err)
	}
}

func TestPreview_PausesDuringSession(t *testing.T) {
	src := &fakeSource{frame: testJPEG(t, 16, 16)}
	r := NewResource(src, zerolog.Nop())
	r.SetSessionActive(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r.Preview(ctx, time.Millisecond, func(Frame) error { return nil })
	if n := src.captures.Load(); n != 0 {
		t.Fatalf("expected no preview reads during a session, got %d", n)
	}

	r.SetSessionActive(false)
	stop := errors.New("stop")
	emitted := 0
	err := r.Preview(context.Background(), time.Millisecond, func(Frame) error {
		emitted++
		if emitted == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || emitted != 2 {
		t.Errorf("expected two frames then stop, got %d, %v", emitted, err)
	}
}
