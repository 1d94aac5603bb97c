package service

import (
	"context"
	"errors"
	"time"

	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	"go.uber.org/zap"
)

// ApplyProcessorEvent folds a verified processor event into the local
// invoice. Only status and paid_at change; amounts stay frozen.
func (s *Service) ApplyProcessorEvent(ctx context.Context, event processordomain.WebhookEvent) error {
	invoice, err := s.repo.FindByProcessorID(ctx, s.db, event.ProcessorInvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return invoicedomain.ErrInvoiceNotFound
	}

	var (
		target    invoicedomain.InvoiceStatus
		subTarget subscriptiondomain.SubscriptionStatus
	)
	switch event.Type {
	case processordomain.EventInvoicePaid:
		target = invoicedomain.InvoiceStatusPaid
		subTarget = subscriptiondomain.SubscriptionStatusActive
	case processordomain.EventInvoicePaymentFailed:
		target = invoicedomain.InvoiceStatusPaymentFailed
		subTarget = subscriptiondomain.SubscriptionStatusPastDue
	case processordomain.EventInvoiceVoided:
		target = invoicedomain.InvoiceStatusVoid
	default:
		return processordomain.ErrEventIgnored
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)

	// A paid or void invoice is settled; late failure events do not reopen it.
	if invoice.Status == target || invoice.Status == invoicedomain.InvoiceStatusVoid ||
		(invoice.Status == invoicedomain.InvoiceStatusPaid && target != invoicedomain.InvoiceStatusVoid) {
		log.Debug("processor event already applied")
		return nil
	}

	now := s.clock.Now().UTC()
	var paidAt *time.Time
	if target == invoicedomain.InvoiceStatusPaid {
		paidAt = &now
		if !event.OccurredAt.IsZero() {
			at := event.OccurredAt.UTC()
			paidAt = &at
		}
	}
	if err := s.repo.UpdateStatus(ctx, s.db, invoice.ID, target, paidAt, now); err != nil {
		return err
	}
	log.Info("invoice status updated", zap.String("status", string(target)))

	if subTarget != "" && s.subsvc != nil {
		err := s.subsvc.TransitionStatus(ctx, invoice.SubscriptionID, subTarget)
		switch {
		case err == nil:
		case errors.Is(err, subscriptiondomain.ErrInvalidStatusTransition):
			log.Debug("subscription transition skipped", zap.String("target", string(subTarget)))
		default:
			return err
		}
	}
	return nil
}
