package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	ConfigID   *snowflake.ID
	ActiveOnly bool
	AfterID    snowflake.ID
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, w *Webhook) error
	Update(ctx context.Context, db *gorm.DB, w *Webhook) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Webhook, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Webhook, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)

	// RecordSuccess and RecordFailure mutate counters in a single UPDATE so
	// concurrent attempts are serialized by the store.
	RecordSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason *string, at time.Time) (int64, error)
	ResetRetries(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	DueForRetry(ctx context.Context, db *gorm.DB, triggeredBefore time.Time, limit int) ([]Webhook, error)
}
