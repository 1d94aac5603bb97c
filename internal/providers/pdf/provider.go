package pdf

import (
	"context"

	"go.uber.org/fx"
)

// InvoiceDocument is the display-ready view of an invoice. Amounts are
// preformatted strings so the renderer never does money math.
type InvoiceDocument struct {
	InvoiceID     string
	TenantID      string
	PlanCode      string
	Status        string
	IssueDate     string
	ServicePeriod string
	Currency      string

	Items []InvoiceItem

	Subtotal string
	Tax      string
	Total    string

	HostedURL string
}

type InvoiceItem struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}

type Provider interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error)
}

var Module = fx.Module("pdf.provider",
	fx.Provide(New),
)
