package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	"go.uber.org/zap"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodyBytes   = 64 << 10
)

// StripeWebhook applies verified invoice events. Events this service does not
// track are acknowledged so the processor stops retrying them.
func (s *Server) StripeWebhook(c *gin.Context) {
	if s.webhooks == nil {
		AbortWithError(c, processordomain.ErrProcessorDisabled)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	event, err := s.webhooks.ParseWebhook(payload, c.GetHeader(stripeSignatureHeader))
	switch {
	case errors.Is(err, processordomain.ErrEventIgnored):
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	case err != nil:
		log.Warn("stripe webhook rejected", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	if err := s.invoiceSvc.ApplyProcessorEvent(ctx, *event); err != nil {
		if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
			log.Info("stripe webhook for unknown invoice",
				zap.String("event_id", event.ID),
				zap.String("processor_invoice_id", event.ProcessorInvoiceID),
			)
			c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
