package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type GenerateResult struct {
	Invoice  Invoice
	Lines    []InvoiceLine
	Existing bool
}

type SyncResult struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	SubscriptionID string `form:"subscription_id"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Document struct {
	Filename string
	Content  []byte
}

type Service interface {
	// Generate closes the current period of a subscription. A repeated call
	// for an already invoiced period returns the stored invoice.
	Generate(ctx context.Context, subscriptionID string) (*GenerateResult, error)
	SyncPending(ctx context.Context, limit int) (SyncResult, error)
	GetByID(ctx context.Context, id string) (*Invoice, []InvoiceLine, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	RenderPDF(ctx context.Context, id string) (*Document, error)
	ApplyProcessorEvent(ctx context.Context, event processordomain.WebhookEvent) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	InsertLines(ctx context.Context, db *gorm.DB, lines []InvoiceLine) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)
	FindLatest(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Invoice, error)
	FindByProcessorID(ctx context.Context, db *gorm.DB, processorInvoiceID string) (*Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceLine, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	ListUnsynced(ctx context.Context, db *gorm.DB, limit int) ([]Invoice, error)
	MarkSynced(ctx context.Context, db *gorm.DB, id snowflake.ID, processorInvoiceID, hostedURL string, now time.Time) error
	MarkSyncFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, processorInvoiceID *string, syncErr string, now time.Time) error
	MarkSyncSkipped(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	// UpdateStatus only touches status and paid_at.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status InvoiceStatus, paidAt *time.Time, now time.Time) error
}

var (
	ErrInvalidInvoiceID    = errors.New("invalid_invoice_id")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrGenerationInFlight  = errors.New("invoice_generation_in_progress")
	ErrPeriodNotEnded      = errors.New("period_not_ended")
)
