package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	dbpkg "github.com/smallbiznis/creditledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

const eventColumns = `id, tenant_id, subscription_id, site_id, asset_id, event_type, units,
	credits_consumed, balance_after, idempotency_key, meta, occurred_at, created_at`

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *usagedomain.UsageEvent) (bool, error) {
	query := `INSERT INTO usage_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if event.IdempotencyKey != nil {
		query += ` ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`
	}
	res := db.WithContext(ctx).Exec(query,
		event.ID,
		event.TenantID,
		event.SubscriptionID,
		event.SiteID,
		event.AssetID,
		event.EventType,
		event.Units,
		event.CreditsConsumed,
		event.BalanceAfter,
		event.IdempotencyKey,
		event.Meta,
		event.OccurredAt,
		event.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID, key string) (*usagedomain.UsageEvent, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var event usagedomain.UsageEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM usage_events
		 WHERE tenant_id = ? AND idempotency_key = ?`,
		tenantID,
		key,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) DecrementCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, credits int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscription_limits
		 SET remaining_credits = remaining_credits - ?, updated_at = ?
		 WHERE subscription_id = ?`,
		credits,
		now,
		subscriptionID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) RemainingCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, forUpdate bool) (int64, int64, error) {
	query := `SELECT included_credits, remaining_credits FROM subscription_limits WHERE subscription_id = ?`
	if forUpdate {
		query += dbpkg.ForUpdate(db)
	}
	var row struct {
		IncludedCredits  int64
		RemainingCredits int64
	}
	res := db.WithContext(ctx).Raw(query, subscriptionID).Scan(&row)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, 0, gorm.ErrRecordNotFound
	}
	return row.IncludedCredits, row.RemainingCredits, nil
}

func (r *repo) SetRemainingCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, remaining int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_limits SET remaining_credits = ?, updated_at = ? WHERE subscription_id = ?`,
		remaining,
		now,
		subscriptionID,
	).Error
}

func (r *repo) SumCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start, end time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(credits_consumed), 0)
		 FROM usage_events
		 WHERE subscription_id = ? AND occurred_at >= ? AND occurred_at < ?`,
		subscriptionID,
		start,
		end,
	).Scan(&total).Error
	return total, err
}

func (r *repo) AggregateByType(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start, end time.Time) ([]usagedomain.TypeAggregate, error) {
	var rows []usagedomain.TypeAggregate
	err := db.WithContext(ctx).Raw(
		`SELECT event_type,
		        COUNT(*) AS count,
		        COALESCE(SUM(units), 0) AS units,
		        COALESCE(SUM(credits_consumed), 0) AS credits
		 FROM usage_events
		 WHERE subscription_id = ? AND occurred_at >= ? AND occurred_at < ?
		 GROUP BY event_type
		 ORDER BY event_type`,
		subscriptionID,
		start,
		end,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter usagedomain.ListFilter) ([]*usagedomain.UsageEvent, error) {
	var events []*usagedomain.UsageEvent
	stmt := db.WithContext(ctx).Model(&usagedomain.UsageEvent{}).
		Where("subscription_id = ?", filter.SubscriptionID)

	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		stmt = stmt.Where("event_type = ?", eventType)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)",
			filter.Cursor.OccurredAt,
			filter.Cursor.OccurredAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("occurred_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
