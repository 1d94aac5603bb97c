package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	"go.uber.org/zap"
)

const (
	pushTimeout      = 30 * time.Second
	defaultSyncBatch = 50
)

// push mirrors one invoice to the processor and records the outcome on the
// invoice row. It never returns an error to the caller.
func (s *Service) push(ctx context.Context, invoice *invoicedomain.Invoice, lines []invoicedomain.InvoiceLine) bool {
	now := s.clock.Now().UTC()
	if s.processor == nil || !s.processor.Enabled() {
		if err := s.repo.MarkSyncSkipped(ctx, s.db, invoice.ID, now); err != nil {
			logger.WithContext(ctx, s.log).Warn("mark sync skipped failed", zap.String("invoice_id", invoice.ID.String()), zap.Error(err))
		}
		return false
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	processorInvoiceID, finalized, err := s.pushToProcessor(pushCtx, invoice, lines)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("provider", s.processor.Name()),
	)
	if err != nil {
		log.Warn("processor push failed", zap.Error(err))
		s.metrics.RecordProcessorPush(ctx, s.processor.Name(), "failed")

		var idPtr *string
		if processorInvoiceID != "" {
			idPtr = &processorInvoiceID
		}
		if markErr := s.repo.MarkSyncFailed(ctx, s.db, invoice.ID, idPtr, err.Error(), now); markErr != nil {
			log.Error("mark sync failed failed", zap.Error(markErr))
		}
		return false
	}

	if err := s.repo.MarkSynced(ctx, s.db, invoice.ID, finalized.ID, finalized.HostedURL, now); err != nil {
		log.Error("mark synced failed", zap.Error(err))
		return false
	}
	s.metrics.RecordProcessorPush(ctx, s.processor.Name(), "synced")
	log.Info("invoice pushed to processor", zap.String("processor_invoice_id", finalized.ID))
	return true
}

// pushToProcessor runs the four processor steps. Every step carries an
// idempotency key derived from local ids, so a retry after a partial failure
// converges on the same remote objects.
func (s *Service) pushToProcessor(ctx context.Context, invoice *invoicedomain.Invoice, lines []invoicedomain.InvoiceLine) (string, *processordomain.FinalizedInvoice, error) {
	sub, err := s.subrepo.FindByID(ctx, s.db, invoice.SubscriptionID)
	if err != nil {
		return "", nil, err
	}
	if sub == nil {
		return "", nil, errors.New("subscription missing for invoice")
	}

	customerID := ""
	if sub.ProcessorCustomerID != nil {
		customerID = *sub.ProcessorCustomerID
	}
	if customerID == "" {
		customerID, err = s.processor.CreateCustomer(ctx, processordomain.CustomerParams{
			TenantID:       sub.TenantID,
			SubscriptionID: sub.ID.String(),
			Currency:       sub.Currency,
		})
		if err != nil {
			return "", nil, fmt.Errorf("create customer: %w", err)
		}
		if err := s.subrepo.SetProcessorCustomerID(ctx, s.db, sub.ID, customerID, s.clock.Now().UTC()); err != nil {
			return "", nil, err
		}
	}

	processorInvoiceID := ""
	if invoice.ProcessorInvoiceID != nil {
		processorInvoiceID = *invoice.ProcessorInvoiceID
	}
	if processorInvoiceID == "" {
		processorInvoiceID, err = s.processor.CreateInvoice(ctx, processordomain.InvoiceParams{
			CustomerID:     customerID,
			Currency:       invoice.Currency,
			LocalInvoiceID: invoice.ID.String(),
			PeriodStart:    invoice.PeriodStart,
			PeriodEnd:      invoice.PeriodEnd,
		})
		if err != nil {
			return "", nil, fmt.Errorf("create invoice: %w", err)
		}
	}

	for _, line := range lines {
		if !line.Amount.IsPositive() {
			continue
		}
		err := s.processor.AddLineItem(ctx, processordomain.LineItem{
			CustomerID:       customerID,
			ProcessorInvoice: processorInvoiceID,
			LocalInvoiceID:   invoice.ID.String(),
			Key:              line.Key,
			Description:      line.Description,
			Amount:           line.Amount,
			Currency:         invoice.Currency,
		})
		if err != nil {
			return processorInvoiceID, nil, fmt.Errorf("add line %s: %w", line.Key, err)
		}
	}

	finalized, err := s.processor.FinalizeInvoice(ctx, processorInvoiceID)
	if err != nil {
		return processorInvoiceID, nil, fmt.Errorf("finalize invoice: %w", err)
	}
	return processorInvoiceID, finalized, nil
}

func (s *Service) SyncPending(ctx context.Context, limit int) (invoicedomain.SyncResult, error) {
	if limit <= 0 {
		limit = defaultSyncBatch
	}
	var result invoicedomain.SyncResult
	if s.processor == nil || !s.processor.Enabled() {
		return result, nil
	}

	items, err := s.repo.ListUnsynced(ctx, s.db, limit)
	if err != nil {
		return result, err
	}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		invoice := items[i]
		lines, err := s.repo.ListLines(ctx, s.db, invoice.ID)
		if err != nil {
			return result, err
		}

		result.Attempted++
		if s.push(ctx, &invoice, lines) {
			result.Synced++
		} else {
			result.Failed++
		}
	}

	if result.Attempted > 0 {
		logger.WithContext(ctx, s.log).Info("processor sync sweep",
			zap.Int("attempted", result.Attempted),
			zap.Int("synced", result.Synced),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}
