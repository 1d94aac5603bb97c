package noop

import (
	"context"

	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
)

// Processor is used when no payment processor is configured. Invoices are
// marked skipped instead of pending.
type Processor struct{}

func New() *Processor { return &Processor{} }

func (p *Processor) Name() string  { return "none" }
func (p *Processor) Enabled() bool { return false }

func (p *Processor) CreateCustomer(context.Context, processordomain.CustomerParams) (string, error) {
	return "", processordomain.ErrProcessorDisabled
}

func (p *Processor) CreateInvoice(context.Context, processordomain.InvoiceParams) (string, error) {
	return "", processordomain.ErrProcessorDisabled
}

func (p *Processor) AddLineItem(context.Context, processordomain.LineItem) error {
	return processordomain.ErrProcessorDisabled
}

func (p *Processor) FinalizeInvoice(context.Context, string) (*processordomain.FinalizedInvoice, error) {
	return nil, processordomain.ErrProcessorDisabled
}

func (p *Processor) ReportUsage(context.Context, processordomain.UsageReport) error {
	return processordomain.ErrProcessorDisabled
}

func (p *Processor) ParseWebhook([]byte, string) (*processordomain.WebhookEvent, error) {
	return nil, processordomain.ErrProcessorDisabled
}
