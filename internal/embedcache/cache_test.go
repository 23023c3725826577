package embedcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"gate-service/internal/vision"
)

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, img []byte) (vision.Vector, error) {
	e.calls++
	return vision.Vector{float32(len(img)), 0.5, -1.25}, nil
}

func newTestCache(t *testing.T, next vision.Embedder) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache", "embeddings.db"), next, zerolog.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_EmbedsOncePerImage(t *testing.T) {
	ctx := context.Background()
	next := &countingEmbedder{}
	c := newTestCache(t, next)

	first, err := c.Embed(ctx, []byte("face-a"))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := c.Embed(ctx, []byte("face-a"))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", next.calls)
	}
	if len(second) != 3 || second[0] != first[0] || second[2] != -1.25 {
		t.Errorf("cached vector differs: %v vs %v", first, second)
	}

	c.Embed(ctx, []byte("face-b"))
	if next.calls != 2 {
		t.Errorf("expected new image to miss the cache, got %d calls", next.calls)
	}
	if n, _ := c.Len(ctx); n != 2 {
		t.Errorf("expected 2 cached vectors, got %d", n)
	}
}
