package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	ActiveOnly       bool
	TargetProviderID *snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rule *Rule) error
	Update(ctx context.Context, db *gorm.DB, rule *Rule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Rule, error)
	// List returns rules in evaluation order.
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Rule, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
