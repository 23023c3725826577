package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/access"
)

const imageExt = ".jpg"

var readableExts = []string{".jpg", ".jpeg", ".png"}

// FileStore keeps each corpus in its own directory under a base path.
// Directories are created on first use.
type FileStore struct {
	base string
	log  zerolog.Logger
}

func NewFileStore(base string, log zerolog.Logger) *FileStore {
	return &FileStore{base: base, log: log}
}

// Dir returns the directory backing a corpus.
func (s *FileStore) Dir(corpus access.Corpus) string {
	return filepath.Join(s.base, string(corpus))
}

func (s *FileStore) ensureDir(corpus access.Corpus) (string, error) {
	if !validCorpus(corpus) {
		return "", fmt.Errorf("%w: unknown corpus %q", ErrInvalidKey, corpus)
	}
	dir := s.Dir(corpus)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrPersistence, dir, err)
	}
	return dir, nil
}

func (s *FileStore) find(dir, key string) (string, error) {
	for _, ext := range readableExts {
		p := filepath.Join(dir, key+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

func (s *FileStore) Lookup(ctx context.Context, corpus access.Corpus, key string) (Record, error) {
	if err := validateKey(key); err != nil {
		return Record{}, err
	}
	dir, err := s.ensureDir(corpus)
	if err != nil {
		return Record{}, err
	}
	p, err := s.find(dir, key)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Record{}, fmt.Errorf("%w: read %s: %v", ErrPersistence, p, err)
	}
	return Record{Key: key, Corpus: corpus, Image: data}, nil
}

func (s *FileStore) ListCandidates(ctx context.Context, corpus access.Corpus, prefix string) ([]Record, error) {
	dir, err := s.ensureDir(corpus)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrPersistence, dir, err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !isReadableExt(ext) {
			continue
		}
		key := strings.TrimSuffix(name, filepath.Ext(name))
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.log.Warn().Err(err).Str("corpus", string(corpus)).Str("key", key).Msg("skipping unreadable record")
			continue
		}
		records = append(records, Record{Key: key, Corpus: corpus, Image: data})
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *FileStore) Persist(ctx context.Context, corpus access.Corpus, key string, image []byte) (string, error) {
	assigned, err := assignKey(corpus, key)
	if err != nil {
		return "", err
	}
	dir, err := s.ensureDir(corpus)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(dir, assigned+imageExt), image); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.log.Debug().Str("corpus", string(corpus)).Str("key", assigned).Int("bytes", len(image)).Msg("record persisted")
	return assigned, nil
}

func (s *FileStore) MoveToUnrecognized(ctx context.Context, tempKey string) (string, error) {
	return s.move(access.CorpusTemp, access.CorpusUnrecognized, tempKey, tempKey)
}

// Promote moves an unrecognized record into the captured corpus under a fresh key.
func (s *FileStore) Promote(ctx context.Context, unrecognizedKey string) (string, error) {
	return s.move(access.CorpusUnrecognized, access.CorpusCaptured, unrecognizedKey, newKey(""))
}

func (s *FileStore) move(from, to access.Corpus, key, newKey string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	srcDir, err := s.ensureDir(from)
	if err != nil {
		return "", err
	}
	dstDir, err := s.ensureDir(to)
	if err != nil {
		return "", err
	}
	src, err := s.find(srcDir, key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, newKey+filepath.Ext(src))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("%w: move %s: %v", ErrPersistence, key, err)
	}
	s.log.Debug().Str("from", string(from)).Str("to", string(to)).Str("key", newKey).Msg("record moved")
	return newKey, nil
}

func (s *FileStore) Discard(ctx context.Context, corpus access.Corpus, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	dir, err := s.ensureDir(corpus)
	if err != nil {
		return err
	}
	p, err := s.find(dir, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrPersistence, key, err)
	}
	return nil
}

func isReadableExt(ext string) bool {
	for _, e := range readableExts {
		if e == ext {
			return true
		}
	}
	return false
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
