// Package domain defines the payment processor port used to mirror local
// invoices and usage to an external billing system.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type CustomerParams struct {
	TenantID       string
	SubscriptionID string
	Currency       string
}

type InvoiceParams struct {
	CustomerID     string
	Currency       string
	LocalInvoiceID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

type LineItem struct {
	CustomerID       string
	ProcessorInvoice string
	LocalInvoiceID   string
	Key              string
	Description      string
	Amount           decimal.Decimal
	Currency         string
}

type FinalizedInvoice struct {
	ID        string
	HostedURL string
	Status    string
}

type UsageReport struct {
	CustomerID string
	EventID    string
	EventType  string
	Credits    int64
	OccurredAt time.Time
}

// WebhookEvent is a verified processor event reduced to what invoice
// reconciliation needs.
type WebhookEvent struct {
	ID                 string
	Type               string
	ProcessorInvoiceID string
	OccurredAt         time.Time
}

const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventInvoiceVoided        = "invoice.voided"
)

// Processor mirrors billing state to an external system. Each call is
// independently retryable; adapters pass idempotency keys derived from local
// ids so retries do not duplicate remote objects.
type Processor interface {
	Name() string
	Enabled() bool
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreateInvoice(ctx context.Context, params InvoiceParams) (string, error)
	AddLineItem(ctx context.Context, item LineItem) error
	FinalizeInvoice(ctx context.Context, processorInvoiceID string) (*FinalizedInvoice, error)
	ReportUsage(ctx context.Context, report UsageReport) error
}

type WebhookVerifier interface {
	ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

var (
	ErrProcessorDisabled = errors.New("processor_disabled")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrEventIgnored      = errors.New("event_ignored")
)
