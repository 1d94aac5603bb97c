package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	InsertLimits(ctx context.Context, db *gorm.DB, limits *SubscriptionLimits) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindLiveByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*Subscription, error)
	FindLimits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*SubscriptionLimits, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from SubscriptionStatus, to SubscriptionStatus, now time.Time) (bool, error)
	// AdvancePeriod only moves the period if it still starts at expectedStart.
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedStart, newStart, newEnd, now time.Time) (bool, error)
	ResetLimits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, included int64, now time.Time) error
	SetProcessorCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error
}
