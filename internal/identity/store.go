// Package identity owns corpus membership: the registered corpus (one image per
// plate), the grow-only captured corpus, and the unrecognized and temp holding areas.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"gate-service/internal/domain/access"
)

var (
	ErrNotFound    = errors.New("identity: record not found")
	ErrPersistence = errors.New("identity: persistence failed")
	ErrInvalidKey  = errors.New("identity: invalid key")
)

// Record is one image in a corpus.
type Record struct {
	Key    string
	Corpus access.Corpus
	Image  []byte
}

// Store is the read/write side of the identity corpora.
//
// Persist overwrites in the registered corpus. In every other corpus the key is
// treated as a prefix and a fresh, time-sortable key is assigned, so records are
// never overwritten. ListCandidates re-enumerates on every call and returns
// records ordered by key.
type Store interface {
	Lookup(ctx context.Context, corpus access.Corpus, key string) (Record, error)
	ListCandidates(ctx context.Context, corpus access.Corpus, prefix string) ([]Record, error)
	Persist(ctx context.Context, corpus access.Corpus, key string, image []byte) (string, error)
	MoveToUnrecognized(ctx context.Context, tempKey string) (string, error)
	Promote(ctx context.Context, unrecognizedKey string) (string, error)
	Discard(ctx context.Context, corpus access.Corpus, key string) error
}

// CapturedPrefix is the key prefix used for captured records of a plate.
func CapturedPrefix(plate string) string {
	if plate == "" {
		return ""
	}
	return plate + "_"
}

func newKey(prefix string) string {
	return prefix + ulid.Make().String()
}

func assignKey(corpus access.Corpus, key string) (string, error) {
	if corpus == access.CorpusRegistered {
		if key == "" {
			return "", fmt.Errorf("%w: registered records need a key", ErrInvalidKey)
		}
		return key, validateKey(key)
	}
	if key != "" {
		if err := validateKey(key); err != nil {
			return "", err
		}
	}
	return newKey(key), nil
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func validCorpus(corpus access.Corpus) bool {
	switch corpus {
	case access.CorpusRegistered, access.CorpusCaptured, access.CorpusUnrecognized, access.CorpusTemp:
		return true
	}
	return false
}
