package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// VolumeSample is the projection used for time bucketing.
type VolumeSample struct {
	CreatedAt time.Time
	Amount    float64
	Status    Status
}

// LatencySample is the projection used for percentile math.
type LatencySample struct {
	ProviderName   string
	ResponseTimeMs int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, e *Event) error
	SuccessRates(ctx context.Context, db *gorm.DB, filter Filter) ([]SuccessRate, error)
	VolumeSamples(ctx context.Context, db *gorm.DB, filter Filter) ([]VolumeSample, error)
	ErrorGroups(ctx context.Context, db *gorm.DB, filter Filter) ([]ErrorGroup, error)
	LatencySamples(ctx context.Context, db *gorm.DB, filter Filter) ([]LatencySample, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
