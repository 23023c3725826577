package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"gate-service/internal/domain/access"
	"gate-service/internal/identity"
	"gate-service/internal/repository"
	"gate-service/internal/utils"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyRegistered = errors.New("already registered")
)

// VehicleRepository is the persistence the vehicle registry needs.
type VehicleRepository interface {
	GetVehicleByPlate(ctx context.Context, plate string) (*access.Vehicle, error)
	CreateVehicle(ctx context.Context, vehicle *access.Vehicle) error
	ListVehicles(ctx context.Context, limit, offset int) ([]access.Vehicle, error)
	CreateAccessEvent(ctx context.Context, outcome access.Outcome) error
	FindEvents(ctx context.Context, plate *string, from, to *time.Time, limit, offset int) ([]repository.AccessEvent, error)
	DeleteOldEvents(ctx context.Context, days int) (int64, error)
}

type VehicleService struct {
	repo  VehicleRepository
	store identity.Store
	log   zerolog.Logger
}

func NewVehicleService(repo VehicleRepository, store identity.Store, log zerolog.Logger) *VehicleService {
	return &VehicleService{
		repo:  repo,
		store: store,
		log:   log,
	}
}

// Register stores the owner's reference image under the registered corpus keyed by
// plate and records the vehicle. An existing plate is never overwritten.
func (s *VehicleService) Register(ctx context.Context, plate, ownerName string, image []byte) (*access.Vehicle, error) {
	normalized := utils.NormalizePlate(plate)
	if !utils.IsValidPlate(normalized) {
		return nil, fmt.Errorf("%w: plate %q is not a valid plate", ErrInvalidInput, plate)
	}
	if ownerName == "" {
		return nil, fmt.Errorf("%w: owner_name is required", ErrInvalidInput)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}

	existing, err := s.repo.GetVehicleByPlate(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up vehicle: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: plate %s", ErrAlreadyRegistered, normalized)
	}
	if _, err := s.store.Lookup(ctx, access.CorpusRegistered, normalized); err == nil {
		return nil, fmt.Errorf("%w: plate %s", ErrAlreadyRegistered, normalized)
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up registered image: %w", err)
	}

	key, err := s.store.Persist(ctx, access.CorpusRegistered, normalized, image)
	if err != nil {
		s.log.Error().Err(err).Str("plate", normalized).Msg("failed to store registered image")
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	vehicle := &access.Vehicle{
		Plate:     normalized,
		OwnerName: ownerName,
		ImageKey:  key,
	}
	if err := s.repo.CreateVehicle(ctx, vehicle); err != nil {
		if discardErr := s.store.Discard(ctx, access.CorpusRegistered, key); discardErr != nil {
			s.log.Warn().Err(discardErr).Str("key", key).Msg("failed to roll back registered image")
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: plate %s", ErrAlreadyRegistered, normalized)
		}
		s.log.Error().Err(err).Str("plate", normalized).Msg("failed to create vehicle")
		return nil, fmt.Errorf("failed to create vehicle: %w", err)
	}

	s.log.Info().
		Int64("vehicle_id", vehicle.ID).
		Str("plate", normalized).
		Str("owner", ownerName).
		Msg("vehicle registered")

	return vehicle, nil
}

func (s *VehicleService) FindVehicle(ctx context.Context, plate string) (*access.Vehicle, error) {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate cannot be empty", ErrInvalidInput)
	}

	vehicle, err := s.repo.GetVehicleByPlate(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find vehicle: %w", err)
	}
	if vehicle == nil {
		return nil, fmt.Errorf("%w: plate %s", ErrNotFound, normalized)
	}
	return vehicle, nil
}

// IsRegistered is consulted by the session after a plate is read.
func (s *VehicleService) IsRegistered(ctx context.Context, plate string) (bool, error) {
	vehicle, err := s.repo.GetVehicleByPlate(ctx, plate)
	if err != nil {
		return false, err
	}
	return vehicle != nil, nil
}

func (s *VehicleService) ListVehicles(ctx context.Context, limit, offset int) ([]access.Vehicle, error) {
	limit, offset = clampPage(limit, offset)
	vehicles, err := s.repo.ListVehicles(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return vehicles, nil
}

func (s *VehicleService) FindEvents(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]EventInfo, error) {
	var normalizedPlate *string
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			normalizedPlate = &normalized
		}
	}

	var fromTime, toTime *time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}

	limit, offset = clampPage(limit, offset)

	events, err := s.repo.FindEvents(ctx, normalizedPlate, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	result := make([]EventInfo, 0, len(events))
	for _, e := range events {
		result = append(result, EventInfo{
			ID:            e.ID,
			SessionID:     e.SessionID.String(),
			Flow:          e.Flow,
			Phase:         e.Phase,
			Decision:      e.Decision,
			Plate:         e.Plate,
			Granted:       e.Granted,
			MatchedKey:    e.MatchedKey,
			MatchedCorpus: e.MatchedCorpus,
			Score:         e.Score,
			Message:       e.Message,
			ImageKey:      e.ImageKey,
			StartedAt:     e.StartedAt,
			FinishedAt:    e.FinishedAt,
		})
	}

	return result, nil
}

// OnOutcome records a finished session in the access log. Failures are logged only.
func (s *VehicleService) OnOutcome(ctx context.Context, outcome access.Outcome) {
	if err := s.repo.CreateAccessEvent(ctx, outcome); err != nil {
		s.log.Error().
			Err(err).
			Str("session_id", outcome.SessionID).
			Str("phase", string(outcome.Phase)).
			Msg("failed to record access event")
		return
	}
	s.log.Debug().
		Str("session_id", outcome.SessionID).
		Str("phase", string(outcome.Phase)).
		Bool("granted", outcome.Granted()).
		Msg("access event recorded")
}

// CleanupOldEvents removes access events older than the given number of days.
func (s *VehicleService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", ErrInvalidInput)
	}
	deleted, err := s.repo.DeleteOldEvents(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old events")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old events")
	}
	return deleted, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type EventInfo struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Flow          string    `json:"flow"`
	Phase         string    `json:"phase"`
	Decision      *string   `json:"decision,omitempty"`
	Plate         *string   `json:"plate,omitempty"`
	Granted       bool      `json:"granted"`
	MatchedKey    *string   `json:"matched_key,omitempty"`
	MatchedCorpus *string   `json:"matched_corpus,omitempty"`
	Score         *float64  `json:"score,omitempty"`
	Message       string    `json:"message"`
	ImageKey      *string   `json:"image_key,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
