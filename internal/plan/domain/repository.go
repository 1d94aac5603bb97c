package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindLatestByCode(ctx context.Context, db *gorm.DB, code Code) (*Plan, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	// Insert is a no-op when (code, version) already exists.
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) (bool, error)
}
