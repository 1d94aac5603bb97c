package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

// Insert is a conditional insert keyed on (subscription_id, period_start).
// It reports false when the period was already invoiced.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(invoice)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []invoicedomain.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db, "subscription_id = ? AND period_start = ?", subscriptionID, periodStart.UTC())
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	var items []invoicedomain.Invoice
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("period_start desc").
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) FindByProcessorID(ctx context.Context, db *gorm.DB, processorInvoiceID string) (*invoicedomain.Invoice, error) {
	processorInvoiceID = strings.TrimSpace(processorInvoiceID)
	if processorInvoiceID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, "processor_invoice_id = ?", processorInvoiceID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*invoicedomain.Invoice, error) {
	var items []invoicedomain.Invoice
	if err := db.WithContext(ctx).Where(where, args...).Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceLine, error) {
	var lines []invoicedomain.InvoiceLine
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("id asc").
		Find(&lines).Error
	return lines, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter invoicedomain.ListFilter) ([]*invoicedomain.Invoice, error) {
	var items []*invoicedomain.Invoice
	stmt := db.WithContext(ctx).Model(&invoicedomain.Invoice{})
	if filter.SubscriptionID != 0 {
		stmt = stmt.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListUnsynced(ctx context.Context, db *gorm.DB, limit int) ([]invoicedomain.Invoice, error) {
	var items []invoicedomain.Invoice
	stmt := db.WithContext(ctx).
		Where("processor_sync_status IN ?", []invoicedomain.SyncStatus{
			invoicedomain.SyncStatusPending,
			invoicedomain.SyncStatusFailed,
		}).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	err := stmt.Find(&items).Error
	return items, err
}

func (r *repo) MarkSynced(ctx context.Context, db *gorm.DB, id snowflake.ID, processorInvoiceID, hostedURL string, now time.Time) error {
	var hosted *string
	if hostedURL != "" {
		hosted = &hostedURL
	}
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET processor_invoice_id = ?, processor_hosted_url = ?, processor_sync_status = ?,
		     processor_sync_error = NULL, processor_sync_attempts = processor_sync_attempts + 1,
		     processor_synced_at = ?, updated_at = ?
		 WHERE id = ?`,
		processorInvoiceID,
		hosted,
		invoicedomain.SyncStatusSynced,
		now,
		now,
		id,
	).Error
}

func (r *repo) MarkSyncFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, processorInvoiceID *string, syncErr string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET processor_invoice_id = COALESCE(?, processor_invoice_id), processor_sync_status = ?,
		     processor_sync_error = ?, processor_sync_attempts = processor_sync_attempts + 1,
		     updated_at = ?
		 WHERE id = ?`,
		processorInvoiceID,
		invoicedomain.SyncStatusFailed,
		syncErr,
		now,
		id,
	).Error
}

func (r *repo) MarkSyncSkipped(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET processor_sync_status = ?, updated_at = ? WHERE id = ?`,
		invoicedomain.SyncStatusSkipped,
		now,
		id,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status invoicedomain.InvoiceStatus, paidAt *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = COALESCE(?, paid_at), updated_at = ? WHERE id = ?`,
		status,
		paidAt,
		now,
		id,
	).Error
}
