package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	"github.com/smallbiznis/creditledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	"github.com/smallbiznis/creditledger/internal/providers/pdf"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      invoicedomain.Repository
	SubRepo   subscriptiondomain.Repository
	SubSvc    subscriptiondomain.Service
	UsageRepo usagedomain.Repository
	PlanSvc   plandomain.Service
	AssetSvc  assetdomain.Service
	Processor processordomain.Processor

	Tax      invoicedomain.TaxCalculator `optional:"true"`
	Lock     *ratelimit.InvoiceLock      `optional:"true"`
	PDF      pdf.Provider                `optional:"true"`
	AuditSvc auditdomain.Service         `optional:"true"`
	Metrics  *metrics.Metrics            `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	repo      invoicedomain.Repository
	subrepo   subscriptiondomain.Repository
	subsvc    subscriptiondomain.Service
	usagerepo usagedomain.Repository
	plansvc   plandomain.Service
	assetsvc  assetdomain.Service
	processor processordomain.Processor

	tax      invoicedomain.TaxCalculator
	lock     *ratelimit.InvoiceLock
	pdf      pdf.Provider
	auditsvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	tax := p.Tax
	if tax == nil {
		tax = invoicedomain.ZeroTax{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		subrepo:   p.SubRepo,
		subsvc:    p.SubSvc,
		usagerepo: p.UsageRepo,
		plansvc:   p.PlanSvc,
		assetsvc:  p.AssetSvc,
		processor: p.Processor,

		tax:      tax,
		lock:     p.Lock,
		pdf:      p.PDF,
		auditsvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Generate(ctx context.Context, raw string) (*invoicedomain.GenerateResult, error) {
	subscriptionID, err := parseID(raw)
	if err != nil {
		return nil, invoicedomain.ErrInvalidSubscription
	}

	release, err := s.lock.Acquire(ctx, subscriptionID.String())
	if errors.Is(err, ratelimit.ErrLockBusy) {
		return nil, invoicedomain.ErrGenerationInFlight
	}
	if err != nil {
		return nil, err
	}
	defer release()

	// Reads that go through other services happen before the transaction
	// opens; the period is re-checked under the row lock.
	observed, err := s.subrepo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if observed == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if existing, err := s.repo.FindByPeriod(ctx, s.db, subscriptionID, observed.CurrentPeriodStart); err != nil {
		return nil, err
	} else if existing != nil {
		return s.existingResult(ctx, existing)
	}
	if observed.Status == subscriptiondomain.SubscriptionStatusCancelled {
		return nil, subscriptiondomain.ErrSubscriptionInactive
	}

	now := s.clock.Now().UTC()
	if now.Before(observed.CurrentPeriodEnd) {
		// A repeat call right after a rollover lands here; answer with the
		// invoice that closed the previous period.
		latest, err := s.repo.FindLatest(ctx, s.db, subscriptionID)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.PeriodEnd.Equal(observed.CurrentPeriodStart) {
			return s.existingResult(ctx, latest)
		}
		return nil, invoicedomain.ErrPeriodNotEnded
	}

	plan, err := s.plansvc.GetByID(ctx, observed.PlanID.String())
	if err != nil {
		return nil, err
	}
	assetCount, err := s.assetsvc.LatestAssetCount(ctx, observed.TenantID)
	if err != nil {
		return nil, err
	}

	var (
		invoice invoicedomain.Invoice
		lines   []invoicedomain.InvoiceLine
		drift   int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subrepo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if !sub.CurrentPeriodStart.Equal(observed.CurrentPeriodStart) {
			return errPeriodMoved
		}

		included, remaining, err := s.usagerepo.RemainingCredits(ctx, tx, sub.ID, true)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subscriptiondomain.ErrLimitsNotFound
		}
		if err != nil {
			return err
		}

		creditsUsed, err := s.usagerepo.SumCredits(ctx, tx, sub.ID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		if err != nil {
			return err
		}
		newStart, newEnd := subscriptiondomain.NextPeriod(sub.BillingAnchorDay, sub.CurrentPeriodEnd)
		carried, err := s.usagerepo.SumCredits(ctx, tx, sub.ID, newStart, newEnd)
		if err != nil {
			return err
		}
		drift = usagedomain.ComputeConsistency(included, remaining, creditsUsed+carried).Drift

		amounts := invoicedomain.ComputeAmounts(pricingOf(plan), assetCount, creditsUsed)
		tax, err := s.tax.Calculate(ctx, invoicedomain.TaxInput{
			TenantID: sub.TenantID,
			Currency: sub.Currency,
			Subtotal: amounts.Subtotal,
		})
		if err != nil {
			return err
		}

		invoice = invoicedomain.Invoice{
			ID:                  s.genID.Generate(),
			TenantID:            sub.TenantID,
			SubscriptionID:      sub.ID,
			PlanID:              plan.ID,
			PlanCode:            string(plan.Code),
			Currency:            sub.Currency,
			PeriodStart:         sub.CurrentPeriodStart,
			PeriodEnd:           sub.CurrentPeriodEnd,
			Status:              invoicedomain.InvoiceStatusOpen,
			BaseAmount:          amounts.Base,
			AssetUpliftAmount:   amounts.AssetUplift,
			UsageOverageAmount:  amounts.UsageOverage,
			Subtotal:            amounts.Subtotal,
			Tax:                 tax,
			Total:               amounts.Subtotal.Add(tax),
			AssetCount:          assetCount,
			CreditsConsumed:     creditsUsed,
			Meta:                invoiceMeta(plan, amounts, assetCount, creditsUsed, drift),
			ProcessorSyncStatus: invoicedomain.SyncStatusPending,
			IssuedAt:            now,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		inserted, err := s.repo.Insert(ctx, tx, &invoice)
		if err != nil {
			return err
		}
		if !inserted {
			return errPeriodMoved
		}

		lines = s.buildLines(invoice, plan, amounts, now)
		if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
			return err
		}

		if err := s.subrepo.ResetLimits(ctx, tx, sub.ID, plan.IncludedCredits, now); err != nil {
			return err
		}
		if carried > 0 {
			if err := s.usagerepo.SetRemainingCredits(ctx, tx, sub.ID, plan.IncludedCredits-carried, now); err != nil {
				return err
			}
		}

		advanced, err := s.subrepo.AdvancePeriod(ctx, tx, sub.ID, sub.CurrentPeriodStart, newStart, newEnd, now)
		if err != nil {
			return err
		}
		if !advanced {
			return errPeriodMoved
		}
		return nil
	})
	if errors.Is(err, errPeriodMoved) {
		existing, findErr := s.repo.FindByPeriod(ctx, s.db, subscriptionID, observed.CurrentPeriodStart)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return s.existingResult(ctx, existing)
		}
		return nil, invoicedomain.ErrGenerationInFlight
	}
	if err != nil {
		s.metrics.RecordInvoice(ctx, "failed")
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("subscription_id", subscriptionID.String()),
		zap.String("invoice_id", invoice.ID.String()),
	)
	if drift != 0 {
		log.Warn("ledger drift at invoice time", zap.Int64("drift", drift))
	}
	log.Info("invoice generated",
		zap.String("total", invoice.Total.String()),
		zap.Int64("credits_consumed", invoice.CreditsConsumed),
		zap.Int64("asset_count", invoice.AssetCount),
	)
	s.metrics.RecordInvoice(ctx, "created")
	s.audit(ctx, invoice)

	// The local invoice, reset and advance are committed. The processor push
	// cannot undo them; a failure is recorded and left for SyncPending.
	s.push(ctx, &invoice, lines)

	stored, err := s.repo.FindByID(ctx, s.db, invoice.ID)
	if err != nil || stored == nil {
		return &invoicedomain.GenerateResult{Invoice: invoice, Lines: lines}, nil
	}
	return &invoicedomain.GenerateResult{Invoice: *stored, Lines: lines}, nil
}

var errPeriodMoved = errors.New("period already invoiced")

func (s *Service) existingResult(ctx context.Context, existing *invoicedomain.Invoice) (*invoicedomain.GenerateResult, error) {
	lines, err := s.repo.ListLines(ctx, s.db, existing.ID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvoice(ctx, "existing")
	return &invoicedomain.GenerateResult{Invoice: *existing, Lines: lines, Existing: true}, nil
}

func (s *Service) buildLines(invoice invoicedomain.Invoice, plan *plandomain.Plan, amounts invoicedomain.Amounts, now time.Time) []invoicedomain.InvoiceLine {
	lines := []invoicedomain.InvoiceLine{{
		ID:          s.genID.Generate(),
		InvoiceID:   invoice.ID,
		Key:         invoicedomain.LineBase,
		Description: plan.Name + " plan",
		Quantity:    1,
		UnitAmount:  plan.BasePrice,
		Amount:      amounts.Base,
		CreatedAt:   now,
	}}
	if amounts.AssetUplift.IsPositive() {
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:          s.genID.Generate(),
			InvoiceID:   invoice.ID,
			Key:         invoicedomain.LineAssetUplift,
			Description: "Assets above plan allowance",
			Quantity:    amounts.AssetOverage,
			UnitAmount:  plan.AssetUpliftRate,
			Amount:      amounts.AssetUplift,
			CreatedAt:   now,
		})
	}
	if amounts.UsageOverage.IsPositive() {
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:          s.genID.Generate(),
			InvoiceID:   invoice.ID,
			Key:         invoicedomain.LineUsageOverage,
			Description: "Credits above plan allowance",
			Quantity:    amounts.CreditOverage,
			UnitAmount:  plan.OveragePerCreditRate,
			Amount:      amounts.UsageOverage,
			CreatedAt:   now,
		})
	}
	return lines
}

func (s *Service) audit(ctx context.Context, invoice invoicedomain.Invoice) {
	if s.auditsvc == nil {
		return
	}
	_ = s.auditsvc.Record(ctx, auditdomain.Entry{
		TenantID:   invoice.TenantID,
		Action:     auditdomain.ActionInvoiceGenerate,
		TargetType: "invoice",
		TargetID:   invoice.ID.String(),
		Metadata: map[string]any{
			"subscription_id": invoice.SubscriptionID.String(),
			"period_start":    invoice.PeriodStart.Format(time.RFC3339),
			"total":           invoice.Total.String(),
		},
	})
}

func (s *Service) GetByID(ctx context.Context, id string) (*invoicedomain.Invoice, []invoicedomain.InvoiceLine, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, nil, invoicedomain.ErrInvalidInvoiceID
	}

	item, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, invoicedomain.ErrInvoiceNotFound
	}

	lines, err := s.repo.ListLines(ctx, s.db, item.ID)
	if err != nil {
		return nil, nil, err
	}
	return item, lines, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := invoicedomain.ListFilter{Limit: req.Limit()}
	if raw := strings.TrimSpace(req.SubscriptionID); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidSubscription
		}
		filter.SubscriptionID = id
	}

	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		id, err := parseID(cursor.ID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		filter.Cursor = &invoicedomain.InvoiceCursor{ID: id, CreatedAt: createdAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

func pricingOf(plan *plandomain.Plan) invoicedomain.Pricing {
	return invoicedomain.Pricing{
		BasePrice:            plan.BasePrice,
		IncludedAssets:       plan.IncludedAssets,
		IncludedCredits:      plan.IncludedCredits,
		AssetUpliftRate:      plan.AssetUpliftRate,
		OveragePerCreditRate: plan.OveragePerCreditRate,
	}
}

// invoiceMeta records the overage inputs next to the frozen amounts.
func invoiceMeta(plan *plandomain.Plan, amounts invoicedomain.Amounts, assetCount, creditsUsed, drift int64) datatypes.JSONMap {
	meta := datatypes.JSONMap{
		"plan_version":            plan.Version,
		"included_assets":         plan.IncludedAssets,
		"asset_count":             assetCount,
		"asset_overage":           amounts.AssetOverage,
		"asset_uplift_rate":       plan.AssetUpliftRate.String(),
		"included_credits":        plan.IncludedCredits,
		"credits_used":            creditsUsed,
		"credit_overage":          amounts.CreditOverage,
		"overage_per_credit_rate": plan.OveragePerCreditRate.String(),
	}
	if drift != 0 {
		meta["ledger_drift"] = drift
	}
	return meta
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
