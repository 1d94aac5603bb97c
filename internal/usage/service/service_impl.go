package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/creditrule"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	"github.com/smallbiznis/creditledger/internal/observability/metrics"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/pkg/db"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const usageReportTimeout = 5 * time.Second

// errReplay aborts the write transaction when a concurrent request with the
// same idempotency key committed first.
var errReplay = errors.New("usage event replay")

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	subRepo subscriptiondomain.Repository
	rules   *creditrule.Table
	billing *config.BillingConfigHolder

	processor   processordomain.Processor
	reportUsage bool
	auditsvc    auditdomain.Service
	metrics     *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    usagedomain.Repository
	SubRepo subscriptiondomain.Repository
	Rules   *creditrule.Table
	Billing *config.BillingConfigHolder

	Processor processordomain.Processor `optional:"true"`
	AuditSvc  auditdomain.Service       `optional:"true"`
	Metrics   *metrics.Metrics          `optional:"true"`
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		subRepo: p.SubRepo,
		rules:   p.Rules,
		billing: p.Billing,

		processor:   p.Processor,
		reportUsage: p.Cfg.Stripe.ReportUsage,
		auditsvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) Track(ctx context.Context, req usagedomain.TrackRequest) (*usagedomain.TrackResult, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	subscriptionID, err := parseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.EventType) == "" {
		return nil, usagedomain.ErrInvalidEventType
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if len(idempotencyKey) > 255 {
		return nil, usagedomain.ErrInvalidIdempotencyKey
	}

	// Pricing happens before any read or write so an unknown type leaves no trace.
	priced, err := s.rules.Compute(req.EventType, req.Units, req.Meta)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, tenantID, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replay(ctx, existing, subscriptionID)
	}

	subscription, err := s.subRepo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil || subscription.TenantID != tenantID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !subscription.Status.Live() {
		return nil, subscriptiondomain.ErrSubscriptionInactive
	}

	now := s.clock.Now().UTC()
	event := usagedomain.UsageEvent{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		SubscriptionID:  subscriptionID,
		SiteID:          optional(req.SiteID),
		AssetID:         optional(req.AssetID),
		EventType:       string(priced.EventType),
		Units:           priced.Units,
		CreditsConsumed: priced.Credits,
		IdempotencyKey:  optional(idempotencyKey),
		OccurredAt:      now,
		CreatedAt:       now,
	}
	if len(req.Meta) > 0 {
		event.Meta = datatypes.JSONMap(req.Meta)
	}

	var included, remaining int64
	err = db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		affected, err := s.repo.DecrementCredits(ctx, tx, subscriptionID, priced.Credits, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return subscriptiondomain.ErrLimitsNotFound
		}

		included, remaining, err = s.repo.RemainingCredits(ctx, tx, subscriptionID, false)
		if err != nil {
			return err
		}
		event.BalanceAfter = remaining

		inserted, err := s.repo.InsertEvent(ctx, tx, &event)
		if err != nil {
			return err
		}
		if !inserted {
			return errReplay
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		existing, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, tenantID, idempotencyKey)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return s.replay(ctx, existing, subscriptionID)
		}
		return nil, usagedomain.ErrLedgerWriteFailed
	}
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrLimitsNotFound) {
			return nil, err
		}
		logger.WithContext(ctx, s.log).Error("ledger write failed",
			zap.String("subscription_id", subscriptionID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", usagedomain.ErrLedgerWriteFailed, err)
	}

	result := s.buildResult(event.ID, priced.Credits, included, remaining)
	if result.Alert != usagedomain.AlertNone {
		logger.WithContext(ctx, s.log).Info("usage alert",
			zap.String("subscription_id", subscriptionID.String()),
			zap.String("alert", string(result.Alert)),
			zap.Float64("usage_percent", result.UsagePercent),
		)
	}
	s.metrics.RecordUsageTracked(ctx, event.EventType, priced.Credits)
	s.reportToProcessor(ctx, subscription, event)

	return result, nil
}

// replay answers a retried idempotency key with the original result. A key is
// bound to the subscription it was first used with.
func (s *Service) replay(ctx context.Context, existing *usagedomain.UsageEvent, subscriptionID snowflake.ID) (*usagedomain.TrackResult, error) {
	if existing.SubscriptionID != subscriptionID {
		return nil, usagedomain.ErrIdempotencyKeyReused
	}
	included, _, err := s.repo.RemainingCredits(ctx, s.db, existing.SubscriptionID, false)
	if err != nil {
		return nil, err
	}
	result := s.buildResult(existing.ID, existing.CreditsConsumed, included, existing.BalanceAfter)
	result.Replayed = true
	return result, nil
}

func (s *Service) buildResult(eventID snowflake.ID, credits, included, remaining int64) *usagedomain.TrackResult {
	alerts := s.billing.Get().Alerts
	pct := usagedomain.UsagePercent(included, remaining)
	return &usagedomain.TrackResult{
		EventID:          eventID,
		CreditsBurned:    credits,
		RemainingCredits: remaining,
		OverageCredits:   usagedomain.OverageCredits(remaining),
		UsagePercent:     pct,
		Alert:            usagedomain.AlertFor(included, remaining, alerts.WarningPct, alerts.CriticalPct),
	}
}

// reportToProcessor mirrors the event as metered usage. It runs after commit,
// detached from the request, and never affects the response.
func (s *Service) reportToProcessor(ctx context.Context, subscription *subscriptiondomain.Subscription, event usagedomain.UsageEvent) {
	if !s.reportUsage || s.processor == nil || !s.processor.Enabled() {
		return
	}
	if subscription.ProcessorCustomerID == nil || *subscription.ProcessorCustomerID == "" {
		return
	}

	report := processordomain.UsageReport{
		CustomerID: *subscription.ProcessorCustomerID,
		EventID:    event.ID.String(),
		EventType:  event.EventType,
		Credits:    event.CreditsConsumed,
		OccurredAt: event.OccurredAt,
	}
	log := logger.WithContext(ctx, s.log)
	go func() {
		reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageReportTimeout)
		defer cancel()
		if err := s.processor.ReportUsage(reportCtx, report); err != nil {
			log.Warn("usage report to processor failed",
				zap.String("event_id", report.EventID),
				zap.String("provider", s.processor.Name()),
				zap.Error(err),
			)
			s.metrics.RecordProcessorPush(reportCtx, s.processor.Name(), "usage_failed")
			return
		}
		s.metrics.RecordProcessorPush(reportCtx, s.processor.Name(), "usage_reported")
	}()
}

func (s *Service) Summary(ctx context.Context, req usagedomain.SummaryRequest) (*usagedomain.Summary, error) {
	subscriptionID, err := parseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	start, end, err := monthBounds(req.Period)
	if err != nil {
		return nil, err
	}

	subscription, err := s.subRepo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	rows, err := s.repo.AggregateByType(ctx, s.db, subscriptionID, start, end)
	if err != nil {
		return nil, err
	}

	summary := &usagedomain.Summary{
		SubscriptionID: subscriptionID.String(),
		Period:         start.Format("2006-01"),
		ByType:         make(map[string]usagedomain.TypeSummary, len(rows)),
	}
	for _, row := range rows {
		summary.TotalCredits += row.Credits
		summary.ByType[row.EventType] = usagedomain.TypeSummary{
			Count:   row.Count,
			Units:   row.Units,
			Credits: row.Credits,
		}
	}
	return summary, nil
}

func (s *Service) ListEvents(ctx context.Context, req usagedomain.ListEventsRequest) (usagedomain.ListEventsResponse, error) {
	subscriptionID, err := parseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return usagedomain.ListEventsResponse{}, err
	}

	var cursor *usagedomain.UsageCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return usagedomain.ListEventsResponse{}, usagedomain.ErrInvalidPageToken
		}
		occurredAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return usagedomain.ListEventsResponse{}, usagedomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil || id == 0 {
			return usagedomain.ListEventsResponse{}, usagedomain.ErrInvalidPageToken
		}
		cursor = &usagedomain.UsageCursor{ID: id, OccurredAt: occurredAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, usagedomain.ListFilter{
		SubscriptionID: subscriptionID,
		EventType:      req.EventType,
		Cursor:         cursor,
		Limit:          limit,
	})
	if err != nil {
		return usagedomain.ListEventsResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *usagedomain.UsageEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	events := make([]usagedomain.UsageEvent, 0, len(items))
	for _, item := range items {
		events = append(events, *item)
	}
	return usagedomain.ListEventsResponse{PageInfo: *pageInfo, Events: events}, nil
}

func (s *Service) RebuildBalance(ctx context.Context, raw string) (*usagedomain.RebuildResult, error) {
	subscriptionID, err := parseSubscriptionID(raw)
	if err != nil {
		return nil, err
	}

	var (
		result       usagedomain.RebuildResult
		subscription *subscriptiondomain.Subscription
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err = s.subRepo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		included, remaining, err := s.repo.RemainingCredits(ctx, tx, subscriptionID, true)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subscriptiondomain.ErrLimitsNotFound
		}
		if err != nil {
			return err
		}

		sum, err := s.repo.SumCredits(ctx, tx, subscriptionID, subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd)
		if err != nil {
			return err
		}

		consistency := usagedomain.ComputeConsistency(included, remaining, sum)
		result = usagedomain.RebuildResult{
			SubscriptionID: subscriptionID,
			Before:         remaining,
			After:          included - sum,
			Drift:          consistency.Drift,
		}
		if consistency.Consistent() {
			return nil
		}
		return s.repo.SetRemainingCredits(ctx, tx, subscriptionID, result.After, s.clock.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log)
	if result.Drift != 0 {
		log.Warn("ledger balance rebuilt",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Int64("before", result.Before),
			zap.Int64("after", result.After),
			zap.Int64("drift", result.Drift),
		)
	}
	if s.auditsvc != nil {
		_ = s.auditsvc.Record(ctx, auditdomain.Entry{
			TenantID:   subscription.TenantID,
			Action:     auditdomain.ActionLedgerRebuild,
			TargetType: "subscription",
			TargetID:   subscriptionID.String(),
			Metadata: map[string]any{
				"before": result.Before,
				"after":  result.After,
				"drift":  result.Drift,
			},
		})
	}
	return &result, nil
}

func (s *Service) CheckConsistency(ctx context.Context, subscriptionID snowflake.ID) (*usagedomain.Consistency, error) {
	subscription, err := s.subRepo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	included, remaining, err := s.repo.RemainingCredits(ctx, s.db, subscriptionID, false)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrLimitsNotFound
	}
	if err != nil {
		return nil, err
	}
	sum, err := s.repo.SumCredits(ctx, s.db, subscriptionID, subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}

	consistency := usagedomain.ComputeConsistency(included, remaining, sum)
	return &consistency, nil
}

func parseSubscriptionID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, usagedomain.ErrInvalidSubscription
	}
	return id, nil
}

// monthBounds parses YYYY-MM into the UTC month [first day, first day of next month).
func monthBounds(period string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01", strings.TrimSpace(period), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, usagedomain.ErrInvalidPeriod
	}
	return start, start.AddDate(0, 1, 0), nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
