package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/access"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "corpora"), zerolog.Nop())
}

func TestFileStore_LazyDirectories(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	records, err := s.ListCandidates(ctx, access.CorpusCaptured, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty corpus, got %d", len(records))
	}
	if _, err := os.Stat(s.Dir(access.CorpusCaptured)); err != nil {
		t.Errorf("expected captured dir to be created: %v", err)
	}
}

func TestFileStore_RegisteredOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	k1, err := s.Persist(ctx, access.CorpusRegistered, "ABC1234", []byte("v1"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	k2, err := s.Persist(ctx, access.CorpusRegistered, "ABC1234", []byte("v2"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if k1 != "ABC1234" || k2 != "ABC1234" {
		t.Errorf("expected plate keys, got %q and %q", k1, k2)
	}

	rec, err := s.Lookup(ctx, access.CorpusRegistered, "ABC1234")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if string(rec.Image) != "v2" {
		t.Errorf("expected v2, got %q", rec.Image)
	}
}

func TestFileStore_CapturedAlwaysNewKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	prefix := CapturedPrefix("ABC1234")
	k1, _ := s.Persist(ctx, access.CorpusCaptured, prefix, []byte("a"))
	k2, _ := s.Persist(ctx, access.CorpusCaptured, prefix, []byte("b"))
	s.Persist(ctx, access.CorpusCaptured, CapturedPrefix("XYZ9876"), []byte("c"))

	if k1 == k2 {
		t.Fatalf("expected distinct keys, got %q twice", k1)
	}
	if !strings.HasPrefix(k1, prefix) {
		t.Errorf("expected key %q to start with %q", k1, prefix)
	}

	records, err := s.ListCandidates(ctx, access.CorpusCaptured, prefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for plate, got %d", len(records))
	}
	if records[0].Key != k1 || records[1].Key != k2 {
		t.Errorf("expected insertion order by ulid, got %q, %q", records[0].Key, records[1].Key)
	}

	all, _ := s.ListCandidates(ctx, access.CorpusCaptured, "")
	if len(all) != 3 {
		t.Errorf("expected 3 records total, got %d", len(all))
	}
}

func TestFileStore_MoveAndDiscard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tempKey, err := s.Persist(ctx, access.CorpusTemp, "", []byte("probe"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	moved, err := s.MoveToUnrecognized(ctx, tempKey)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := s.Lookup(ctx, access.CorpusTemp, tempKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected temp record gone, got %v", err)
	}
	if _, err := s.Lookup(ctx, access.CorpusUnrecognized, moved); err != nil {
		t.Errorf("expected unrecognized record: %v", err)
	}

	promoted, err := s.Promote(ctx, moved)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if _, err := s.Lookup(ctx, access.CorpusCaptured, promoted); err != nil {
		t.Errorf("expected captured record: %v", err)
	}

	if err := s.Discard(ctx, access.CorpusCaptured, promoted); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if err := s.Discard(ctx, access.CorpusCaptured, promoted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second discard, got %v", err)
	}
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Persist(ctx, access.CorpusRegistered, "../evil", []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := s.Lookup(ctx, access.CorpusRegistered, "a/b"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestFileStore_ListSkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dir, err := s.ensureDir(access.CorpusCaptured)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "old.png"), []byte("png"), 0o644)

	records, err := s.ListCandidates(ctx, access.CorpusCaptured, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Key != "old" {
		t.Errorf("expected only old.png, got %+v", records)
	}
}
