package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/access"
	"gate-service/internal/identity"
	"gate-service/internal/status"
)

// ReviewService lets an operator resolve probes the three-way policy parked as uncertain.
type ReviewService struct {
	store identity.Store
	log   zerolog.Logger
}

func NewReviewService(store identity.Store, log zerolog.Logger) *ReviewService {
	return &ReviewService{store: store, log: log}
}

type UnrecognizedInfo struct {
	Key      string `json:"key"`
	ImageURL string `json:"image_url"`
	Size     int    `json:"size"`
}

func (s *ReviewService) List(ctx context.Context) ([]UnrecognizedInfo, error) {
	records, err := s.store.ListCandidates(ctx, access.CorpusUnrecognized, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list unrecognized: %w", err)
	}

	result := make([]UnrecognizedInfo, 0, len(records))
	for _, r := range records {
		result = append(result, UnrecognizedInfo{
			Key:      r.Key,
			ImageURL: status.ImageURL(access.CorpusUnrecognized, r.Key),
			Size:     len(r.Image),
		})
	}
	return result, nil
}

func (s *ReviewService) Discard(ctx context.Context, key string) error {
	if err := s.store.Discard(ctx, access.CorpusUnrecognized, key); err != nil {
		return mapIdentityErr(err)
	}
	s.log.Info().Str("key", key).Msg("unrecognized probe discarded")
	return nil
}

// Promote moves a probe into the captured corpus so later sessions can match it.
func (s *ReviewService) Promote(ctx context.Context, key string) (string, error) {
	newKey, err := s.store.Promote(ctx, key)
	if err != nil {
		return "", mapIdentityErr(err)
	}
	s.log.Info().Str("key", key).Str("captured_key", newKey).Msg("unrecognized probe promoted")
	return newKey, nil
}

func mapIdentityErr(err error) error {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, identity.ErrInvalidKey):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}
