package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gate-service/internal/domain/access"
)

type AccessRepository struct {
	db *gorm.DB
}

func NewAccessRepository(db *gorm.DB) *AccessRepository {
	return &AccessRepository{db: db}
}

type Vehicle struct {
	ID        int64     `gorm:"primaryKey"`
	Plate     string    `gorm:"not null;uniqueIndex"`
	OwnerName string    `gorm:"not null"`
	ImageKey  string    `gorm:"not null"`
	CreatedAt time.Time
}

type AccessEvent struct {
	ID            int64          `gorm:"primaryKey"`
	SessionID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex"`
	Flow          string         `gorm:"not null"`
	Phase         string         `gorm:"not null"`
	Decision      *string
	Plate         *string
	Granted       bool
	MatchedKey    *string
	MatchedCorpus *string
	Score         *float64
	Message       string         `gorm:"not null"`
	ImageKey      *string
	Details       datatypes.JSON `gorm:"type:jsonb"`
	StartedAt     time.Time      `gorm:"not null"`
	FinishedAt    time.Time      `gorm:"not null"`
	CreatedAt     time.Time
}

func (r *AccessRepository) GetVehicleByPlate(ctx context.Context, plate string) (*access.Vehicle, error) {
	var v Vehicle
	err := r.db.WithContext(ctx).Where("plate = ?", plate).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toDomainVehicle(v), nil
}

func (r *AccessRepository) CreateVehicle(ctx context.Context, vehicle *access.Vehicle) error {
	dbVehicle := Vehicle{
		Plate:     vehicle.Plate,
		OwnerName: vehicle.OwnerName,
		ImageKey:  vehicle.ImageKey,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&dbVehicle).Error; err != nil {
		return err
	}
	vehicle.ID = dbVehicle.ID
	vehicle.CreatedAt = dbVehicle.CreatedAt
	return nil
}

func (r *AccessRepository) ListVehicles(ctx context.Context, limit, offset int) ([]access.Vehicle, error) {
	var rows []Vehicle
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]access.Vehicle, 0, len(rows))
	for _, v := range rows {
		result = append(result, *toDomainVehicle(v))
	}
	return result, nil
}

func (r *AccessRepository) CreateAccessEvent(ctx context.Context, outcome access.Outcome) error {
	sessionID, err := uuid.Parse(outcome.SessionID)
	if err != nil {
		return err
	}

	event := AccessEvent{
		SessionID:  sessionID,
		Flow:       string(outcome.Flow),
		Phase:      string(outcome.Phase),
		Granted:    outcome.Granted(),
		Message:    outcome.Message,
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
		CreatedAt:  time.Now(),
	}
	if outcome.Decision != "" {
		d := string(outcome.Decision)
		event.Decision = &d
	}
	if outcome.Plate != "" {
		event.Plate = &outcome.Plate
	}
	if outcome.ImageKey != "" {
		event.ImageKey = &outcome.ImageKey
	}
	if m := outcome.Match; m != nil {
		if m.BestKey != "" {
			event.MatchedKey = &m.BestKey
			c := string(m.Corpus)
			event.MatchedCorpus = &c
		}
		if m.Candidates > 0 {
			event.Score = &m.BestScore
		}
		details, err := json.Marshal(m)
		if err != nil {
			return err
		}
		event.Details = datatypes.JSON(details)
	}

	return r.db.WithContext(ctx).Create(&event).Error
}

func (r *AccessRepository) FindEvents(ctx context.Context, plate *string, from, to *time.Time, limit, offset int) ([]AccessEvent, error) {
	query := r.db.WithContext(ctx).Model(&AccessEvent{})

	if plate != nil {
		query = query.Where("plate = ?", *plate)
	}
	if from != nil {
		query = query.Where("finished_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("finished_at <= ?", *to)
	}

	query = query.Order("finished_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var events []AccessEvent
	err := query.Find(&events).Error
	return events, err
}

// DeleteOldEvents removes access events finished more than days ago.
func (r *AccessRepository) DeleteOldEvents(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).Where("finished_at < ?", cutoff).Delete(&AccessEvent{})
	return res.RowsAffected, res.Error
}

func toDomainVehicle(v Vehicle) *access.Vehicle {
	return &access.Vehicle{
		ID:        v.ID,
		Plate:     v.Plate,
		OwnerName: v.OwnerName,
		ImageKey:  v.ImageKey,
		CreatedAt: v.CreatedAt,
	}
}
