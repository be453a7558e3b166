package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Provider) error
	Update(ctx context.Context, db *gorm.DB, p *Provider) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Provider, error)
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Provider, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Provider, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
