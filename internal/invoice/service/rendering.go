package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gosimple/slug"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"github.com/smallbiznis/creditledger/internal/invoice/format"
	"github.com/smallbiznis/creditledger/internal/providers/pdf"
)

func (s *Service) RenderPDF(ctx context.Context, id string) (*invoicedomain.Document, error) {
	if s.pdf == nil {
		return nil, errors.New("pdf_renderer_not_configured")
	}

	invoice, lines, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	content, err := s.pdf.RenderInvoice(ctx, buildDocument(invoice, lines))
	if err != nil {
		return nil, err
	}
	return &invoicedomain.Document{
		Filename: documentFilename(invoice),
		Content:  content,
	}, nil
}

func buildDocument(invoice *invoicedomain.Invoice, lines []invoicedomain.InvoiceLine) pdf.InvoiceDocument {
	doc := pdf.InvoiceDocument{
		InvoiceID:     invoice.ID.String(),
		TenantID:      invoice.TenantID,
		PlanCode:      invoice.PlanCode,
		Status:        string(invoice.Status),
		IssueDate:     invoice.IssuedAt.UTC().Format("2006-01-02"),
		ServicePeriod: format.Period(invoice.PeriodStart, invoice.PeriodEnd),
		Currency:      invoice.Currency,
		Subtotal:      format.Amount(invoice.Subtotal),
		Tax:           format.Amount(invoice.Tax),
		Total:         format.Amount(invoice.Total),
	}
	if invoice.ProcessorHostedURL != nil {
		doc.HostedURL = *invoice.ProcessorHostedURL
	}
	for _, line := range lines {
		doc.Items = append(doc.Items, pdf.InvoiceItem{
			Description: line.Description,
			Qty:         line.Quantity,
			UnitPrice:   format.Rate(line.UnitAmount),
			Amount:      format.Amount(line.Amount),
		})
	}
	return doc
}

func documentFilename(invoice *invoicedomain.Invoice) string {
	name := fmt.Sprintf("invoice %s %s %s", invoice.TenantID, invoice.PeriodStart.UTC().Format("2006-01"), invoice.ID.String())
	return slug.Make(name) + ".pdf"
}
