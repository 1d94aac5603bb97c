package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
)

const defaultSyncBatch = 50

type generateInvoiceRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type generateInvoiceResponse struct {
	InvoiceID       string                  `json:"invoice_id"`
	SubscriptionID  string                  `json:"subscription_id"`
	Status          string                  `json:"status"`
	Currency        string                  `json:"currency"`
	PeriodStart     time.Time               `json:"period_start"`
	PeriodEnd       time.Time               `json:"period_end"`
	Total           decimal.Decimal         `json:"total"`
	StripeInvoiceID *string                 `json:"stripe_invoice_id,omitempty"`
	StripeHostedURL *string                 `json:"stripe_hosted_url,omitempty"`
	SyncStatus      string                  `json:"processor_sync_status"`
	Breakdown       invoicedomain.Breakdown `json:"breakdown"`
	Existing        bool                    `json:"existing"`
}

type syncInvoicesRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invoiceSvc.Generate(c.Request.Context(), strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice := result.Invoice
	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}

	c.JSON(status, generateInvoiceResponse{
		InvoiceID:       invoice.ID.String(),
		SubscriptionID:  invoice.SubscriptionID.String(),
		Status:          string(invoice.Status),
		Currency:        invoice.Currency,
		PeriodStart:     invoice.PeriodStart,
		PeriodEnd:       invoice.PeriodEnd,
		Total:           invoice.Total,
		StripeInvoiceID: invoice.ProcessorInvoiceID,
		StripeHostedURL: invoice.ProcessorHostedURL,
		SyncStatus:      string(invoice.ProcessorSyncStatus),
		Breakdown:       invoice.Breakdown(),
		Existing:        result.Existing,
	})
}

func (s *Server) SyncInvoices(c *gin.Context) {
	var req syncInvoicesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultSyncBatch
	}

	result, err := s.invoiceSvc.SyncPending(c.Request.Context(), req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListInvoiceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = strings.TrimSpace(req.SubscriptionID)

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Invoices,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) GetInvoice(c *gin.Context) {
	invoice, lines, err := s.invoiceSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"invoice":   invoice,
		"lines":     lines,
		"breakdown": invoice.Breakdown(),
	}})
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	doc, err := s.invoiceSvc.RenderPDF(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, "application/pdf", doc.Content)
}
