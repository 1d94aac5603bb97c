package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditledger/internal/config"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const providerName = "stripe"

// api holds the stripe-go calls used by the adapter so tests can swap them.
type api struct {
	newCustomer     func(*stripelib.CustomerParams) (*stripelib.Customer, error)
	newInvoice      func(*stripelib.InvoiceParams) (*stripelib.Invoice, error)
	newInvoiceItem  func(*stripelib.InvoiceItemParams) (*stripelib.InvoiceItem, error)
	finalizeInvoice func(string, *stripelib.InvoiceFinalizeInvoiceParams) (*stripelib.Invoice, error)
	newMeterEvent   func(*stripelib.BillingMeterEventParams) (*stripelib.BillingMeterEvent, error)
}

type Adapter struct {
	log            *zap.Logger
	api            api
	webhookSecret  string
	meterEventName string
}

func New(cfg config.StripeConfig, log *zap.Logger) *Adapter {
	sc := &client.API{}
	sc.Init(strings.TrimSpace(cfg.SecretKey), nil)

	return &Adapter{
		log: log.Named("processor.stripe"),
		api: api{
			newCustomer:     sc.Customers.New,
			newInvoice:      sc.Invoices.New,
			newInvoiceItem:  sc.InvoiceItems.New,
			finalizeInvoice: sc.Invoices.FinalizeInvoice,
			newMeterEvent:   sc.BillingMeterEvents.New,
		},
		webhookSecret:  strings.TrimSpace(cfg.WebhookSecret),
		meterEventName: strings.TrimSpace(cfg.MeterEventName),
	}
}

func (a *Adapter) Name() string  { return providerName }
func (a *Adapter) Enabled() bool { return true }

func (a *Adapter) CreateCustomer(ctx context.Context, p processordomain.CustomerParams) (string, error) {
	params := &stripelib.CustomerParams{
		Name: stripelib.String(p.TenantID),
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", p.TenantID)
	params.AddMetadata("subscription_id", p.SubscriptionID)
	params.SetIdempotencyKey("customer-" + p.SubscriptionID)

	customer, err := a.api.newCustomer(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return customer.ID, nil
}

func (a *Adapter) CreateInvoice(ctx context.Context, p processordomain.InvoiceParams) (string, error) {
	params := &stripelib.InvoiceParams{
		Customer:                    stripelib.String(p.CustomerID),
		Currency:                    stripelib.String(strings.ToLower(p.Currency)),
		AutoAdvance:                 stripelib.Bool(true),
		CollectionMethod:            stripelib.String(string(stripelib.InvoiceCollectionMethodChargeAutomatically)),
		PendingInvoiceItemsBehavior: stripelib.String("exclude"),
	}
	params.Context = ctx
	params.AddMetadata("invoice_id", p.LocalInvoiceID)
	params.AddMetadata("period_start", p.PeriodStart.UTC().Format(time.RFC3339))
	params.AddMetadata("period_end", p.PeriodEnd.UTC().Format(time.RFC3339))
	params.SetIdempotencyKey("invoice-" + p.LocalInvoiceID)

	inv, err := a.api.newInvoice(params)
	if err != nil {
		return "", fmt.Errorf("stripe create invoice: %w", err)
	}
	return inv.ID, nil
}

func (a *Adapter) AddLineItem(ctx context.Context, item processordomain.LineItem) error {
	params := &stripelib.InvoiceItemParams{
		Customer:    stripelib.String(item.CustomerID),
		Invoice:     stripelib.String(item.ProcessorInvoice),
		Amount:      stripelib.Int64(minorUnits(item.Amount)),
		Currency:    stripelib.String(strings.ToLower(item.Currency)),
		Description: stripelib.String(item.Description),
	}
	params.Context = ctx
	params.AddMetadata("invoice_id", item.LocalInvoiceID)
	params.AddMetadata("line", item.Key)
	params.SetIdempotencyKey("invoice-item-" + item.LocalInvoiceID + "-" + item.Key)

	if _, err := a.api.newInvoiceItem(params); err != nil {
		return fmt.Errorf("stripe add invoice item %s: %w", item.Key, err)
	}
	return nil
}

func (a *Adapter) FinalizeInvoice(ctx context.Context, processorInvoiceID string) (*processordomain.FinalizedInvoice, error) {
	params := &stripelib.InvoiceFinalizeInvoiceParams{}
	params.Context = ctx
	params.SetIdempotencyKey("invoice-finalize-" + processorInvoiceID)

	inv, err := a.api.finalizeInvoice(processorInvoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe finalize invoice: %w", err)
	}
	return &processordomain.FinalizedInvoice{
		ID:        inv.ID,
		HostedURL: inv.HostedInvoiceURL,
		Status:    string(inv.Status),
	}, nil
}

func (a *Adapter) ReportUsage(ctx context.Context, report processordomain.UsageReport) error {
	if a.meterEventName == "" {
		return processordomain.ErrProcessorDisabled
	}
	params := &stripelib.BillingMeterEventParams{
		EventName:  stripelib.String(a.meterEventName),
		Identifier: stripelib.String(report.EventID),
		Timestamp:  stripelib.Int64(report.OccurredAt.Unix()),
		Payload: map[string]string{
			"stripe_customer_id": report.CustomerID,
			"value":              strconv.FormatInt(report.Credits, 10),
			"event_type":         report.EventType,
		},
	}
	params.Context = ctx

	if _, err := a.api.newMeterEvent(params); err != nil {
		return fmt.Errorf("stripe meter event: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the invoice
// id for the invoice lifecycle events reconciliation cares about.
func (a *Adapter) ParseWebhook(payload []byte, signatureHeader string) (*processordomain.WebhookEvent, error) {
	if a.webhookSecret == "" || strings.TrimSpace(signatureHeader) == "" {
		return nil, processordomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, processordomain.ErrInvalidSignature
	}

	switch string(event.Type) {
	case processordomain.EventInvoicePaid, processordomain.EventInvoicePaymentFailed, processordomain.EventInvoiceVoided:
	default:
		return nil, processordomain.ErrEventIgnored
	}
	if event.Data == nil {
		return nil, processordomain.ErrInvalidPayload
	}

	var inv stripelib.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil || strings.TrimSpace(inv.ID) == "" {
		return nil, processordomain.ErrInvalidPayload
	}

	return &processordomain.WebhookEvent{
		ID:                 event.ID,
		Type:               string(event.Type),
		ProcessorInvoiceID: inv.ID,
		OccurredAt:         time.Unix(event.Created, 0).UTC(),
	}, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
