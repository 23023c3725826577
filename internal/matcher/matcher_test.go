package matcher

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/access"
	"gate-service/internal/identity"
	"gate-service/internal/vision"
)

// mapEmbedder returns a fixed vector per image payload.
type mapEmbedder map[string]vision.Vector

func (m mapEmbedder) Embed(_ context.Context, img []byte) (vision.Vector, error) {
	v, ok := m[string(img)]
	if !ok {
		return nil, errors.New("unknown image")
	}
	return v, nil
}

func rec(key, img string) identity.Record {
	return identity.Record{Key: key, Corpus: access.CorpusCaptured, Image: []byte(img)}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     vision.Vector
		expected float64
		delta    float64
	}{
		{"identical", vision.Vector{1, 0, 0}, vision.Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", vision.Vector{1, 0, 0}, vision.Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", vision.Vector{1, 0, 0}, vision.Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", vision.Vector{1, 1, 0}, vision.Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", vision.Vector{}, vision.Vector{}, 0.0, 0.001},
		{"different lengths", vision.Vector{1, 0}, vision.Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", vision.Vector{0, 0, 0}, vision.Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestMatch_BestAndTies(t *testing.T) {
	emb := mapEmbedder{
		"far":   {0, 1},
		"close": {1, 0.1},
		"twin":  {1, 0.1},
	}
	m := New(emb, zerolog.Nop())
	candidates := []identity.Record{rec("a", "far"), rec("b", "close"), rec("c", "twin")}

	first, err := m.Match(context.Background(), vision.Vector{1, 0}, candidates)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if first.BestKey != "b" {
		t.Errorf("expected tie to keep first-seen candidate b, got %q", first.BestKey)
	}
	if first.Candidates != 3 || first.Corpus != access.CorpusCaptured {
		t.Errorf("unexpected result %+v", first)
	}

	second, _ := m.Match(context.Background(), vision.Vector{1, 0}, candidates)
	if second != first {
		t.Errorf("expected deterministic result, got %+v then %+v", first, second)
	}
}

func TestMatch_Empty(t *testing.T) {
	m := New(mapEmbedder{}, zerolog.Nop())
	r, err := m.Match(context.Background(), vision.Vector{1}, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if r.Candidates != 0 || r.BestKey != "" || r.BestScore != -1 {
		t.Errorf("unexpected empty result %+v", r)
	}
}

func TestMatch_SkipsUnembeddable(t *testing.T) {
	m := New(mapEmbedder{"ok": {1, 0}}, zerolog.Nop())

	r, err := m.Match(context.Background(), vision.Vector{1, 0}, []identity.Record{rec("bad", "??"), rec("good", "ok")})
	if err != nil || r.BestKey != "good" {
		t.Fatalf("expected good candidate, got %+v, %v", r, err)
	}

	_, err = m.Match(context.Background(), vision.Vector{1, 0}, []identity.Record{rec("bad", "??")})
	if !errors.Is(err, ErrNoEmbeddings) {
		t.Errorf("expected ErrNoEmbeddings, got %v", err)
	}
}

func TestThreeWayBoundaries(t *testing.T) {
	p := ThreeWay{High: 0.75, Low: 0.50}
	tests := []struct {
		name       string
		score      float64
		candidates int
		want       access.Decision
		matched    bool
	}{
		{"exactly high", 0.75, 1, access.DecisionAccept, true},
		{"above high", 0.9, 1, access.DecisionAccept, true},
		{"just below high", 0.7499, 1, access.DecisionUncertain, false},
		{"band", 0.60, 1, access.DecisionUncertain, false},
		{"exactly low", 0.50, 1, access.DecisionUncertain, false},
		{"just below low", 0.4999, 1, access.DecisionReject, false},
		{"negative", -0.3, 1, access.DecisionReject, false},
		{"empty corpus", -1, 0, access.DecisionEnroll, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := access.MatchResult{BestScore: tt.score, Candidates: tt.candidates}
			if got := p.Decide(&r); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if r.Matched != tt.matched {
				t.Errorf("expected matched=%v", tt.matched)
			}
		})
	}
}

func TestSingleThreshold(t *testing.T) {
	p := SingleThreshold{High: 0.75}
	tests := []struct {
		score      float64
		candidates int
		want       access.Decision
	}{
		{0.75, 1, access.DecisionAccept},
		{0.9, 2, access.DecisionAccept},
		{0.7, 1, access.DecisionReject},
		{-1, 0, access.DecisionReject},
	}
	for _, tt := range tests {
		r := access.MatchResult{BestScore: tt.score, Candidates: tt.candidates}
		if got := p.Decide(&r); got != tt.want {
			t.Errorf("score %f: expected %s, got %s", tt.score, tt.want, got)
		}
	}
}
