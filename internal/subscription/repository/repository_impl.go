package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	dbpkg "github.com/smallbiznis/creditledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, tenant_id, plan_id, plan_code, status, currency, billing_anchor_day,
	current_period_start, current_period_end, processor_customer_id, cancelled_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.TenantID,
		subscription.PlanID,
		subscription.PlanCode,
		subscription.Status,
		subscription.Currency,
		subscription.BillingAnchorDay,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.ProcessorCustomerID,
		subscription.CancelledAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) InsertLimits(ctx context.Context, db *gorm.DB, limits *subscriptiondomain.SubscriptionLimits) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_limits (subscription_id, included_credits, remaining_credits, last_reset_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		limits.SubscriptionID,
		limits.IncludedCredits,
		limits.RemainingCredits,
		limits.LastResetAt,
		limits.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`+dbpkg.ForUpdate(db), id)
}

func (r *repo) FindLiveByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE tenant_id = ? AND status IN (?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusPastDue,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&subscription).Error; err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindLimits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*subscriptiondomain.SubscriptionLimits, error) {
	var limits subscriptiondomain.SubscriptionLimits
	err := db.WithContext(ctx).Raw(
		`SELECT subscription_id, included_credits, remaining_credits, last_reset_at, updated_at
		 FROM subscription_limits
		 WHERE subscription_id = ?`,
		subscriptionID,
	).Scan(&limits).Error
	if err != nil {
		return nil, err
	}
	if limits.SubscriptionID == 0 {
		return nil, nil
	}
	return &limits, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status IN (?, ?) AND current_period_end <= ?
		 ORDER BY current_period_end ASC, id ASC
		 LIMIT ?`,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusPastDue,
		now,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to subscriptiondomain.SubscriptionStatus, now time.Time) (bool, error) {
	var cancelledAt *time.Time
	if to == subscriptiondomain.SubscriptionStatusCancelled {
		cancelledAt = &now
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, cancelled_at = COALESCE(?, cancelled_at), updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		cancelledAt,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedStart, newStart, newEnd, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?, current_period_end = ?, updated_at = ?
		 WHERE id = ? AND current_period_start = ?`,
		newStart,
		newEnd,
		now,
		id,
		expectedStart,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ResetLimits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, included int64, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscription_limits
		 SET included_credits = ?, remaining_credits = ?, last_reset_at = ?, updated_at = ?
		 WHERE subscription_id = ?`,
		included,
		included,
		now,
		now,
		subscriptionID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscriptiondomain.ErrLimitsNotFound
	}
	return nil
}

func (r *repo) SetProcessorCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET processor_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID,
		now,
		id,
	).Error
}
