package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"gate-service/internal/domain/access"
)

// MemoryStore is an in-process Store with the same key rules as FileStore.
type MemoryStore struct {
	mu      sync.Mutex
	corpora map[access.Corpus]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{corpora: make(map[access.Corpus]map[string][]byte)}
}

func (s *MemoryStore) corpus(c access.Corpus) map[string][]byte {
	m, ok := s.corpora[c]
	if !ok {
		m = make(map[string][]byte)
		s.corpora[c] = m
	}
	return m
}

func (s *MemoryStore) Lookup(ctx context.Context, corpus access.Corpus, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.corpus(corpus)[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{Key: key, Corpus: corpus, Image: data}, nil
}

func (s *MemoryStore) ListCandidates(ctx context.Context, corpus access.Corpus, prefix string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []Record
	for key, data := range s.corpus(corpus) {
		if strings.HasPrefix(key, prefix) {
			records = append(records, Record{Key: key, Corpus: corpus, Image: data})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *MemoryStore) Persist(ctx context.Context, corpus access.Corpus, key string, image []byte) (string, error) {
	assigned, err := assignKey(corpus, key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corpus(corpus)[assigned] = append([]byte(nil), image...)
	return assigned, nil
}

func (s *MemoryStore) MoveToUnrecognized(ctx context.Context, tempKey string) (string, error) {
	return s.move(access.CorpusTemp, access.CorpusUnrecognized, tempKey, tempKey)
}

func (s *MemoryStore) Promote(ctx context.Context, unrecognizedKey string) (string, error) {
	return s.move(access.CorpusUnrecognized, access.CorpusCaptured, unrecognizedKey, newKey(""))
}

func (s *MemoryStore) move(from, to access.Corpus, key, newKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.corpus(from)[key]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.corpus(from), key)
	s.corpus(to)[newKey] = data
	return newKey, nil
}

func (s *MemoryStore) Discard(ctx context.Context, corpus access.Corpus, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corpus(corpus)[key]; !ok {
		return ErrNotFound
	}
	delete(s.corpus(corpus), key)
	return nil
}

// Len returns the number of records in a corpus.
func (s *MemoryStore) Len(corpus access.Corpus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.corpus(corpus))
}
