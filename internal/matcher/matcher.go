// Package matcher finds the closest identity to a probe embedding and applies
// the accept/uncertain/reject decision policies.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/access"
	"gate-service/internal/identity"
	"gate-service/internal/vision"
)

var ErrNoEmbeddings = errors.New("matcher: no candidate could be embedded")

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b vision.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type Matcher struct {
	embedder vision.Embedder
	log      zerolog.Logger
}

func New(embedder vision.Embedder, log zerolog.Logger) *Matcher {
	return &Matcher{embedder: embedder, log: log}
}

// Match embeds every candidate and keeps the highest cosine similarity. Ties
// keep the earlier candidate. Matched is left for a Policy to decide.
//
// A candidate that cannot be embedded is skipped; if none can, ErrNoEmbeddings
// is returned.
func (m *Matcher) Match(ctx context.Context, probe vision.Vector, candidates []identity.Record) (access.MatchResult, error) {
	result := access.MatchResult{BestScore: -1, Candidates: len(candidates)}
	if len(candidates) == 0 {
		return result, nil
	}

	found := false
	var lastErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		vec, err := m.embedder.Embed(ctx, c.Image)
		if err != nil {
			lastErr = err
			m.log.Warn().Err(err).Str("key", c.Key).Str("corpus", string(c.Corpus)).Msg("failed to embed candidate")
			continue
		}
		score := CosineSimilarity(probe, vec)
		m.log.Debug().Str("key", c.Key).Float64("score", score).Msg("candidate scored")

		if !found || score > result.BestScore {
			found = true
			result.BestScore = score
			result.BestKey = c.Key
			result.Corpus = c.Corpus
		}
	}
	if !found {
		return result, fmt.Errorf("%w: %w", ErrNoEmbeddings, lastErr)
	}
	return result, nil
}
