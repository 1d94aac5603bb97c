package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	dbpkg "github.com/smallbiznis/creditledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     subscriptiondomain.Repository
	plansvc  plandomain.Service
	auditsvc auditdomain.Service
	currency string
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     subscriptiondomain.Repository
	PlanSvc  plandomain.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		plansvc:  p.PlanSvc,
		auditsvc: p.AuditSvc,
		currency: p.Cfg.DefaultCurrency,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Detail, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenant
	}

	plan, err := s.plansvc.GetByCode(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	start := startOfDay(now)
	if req.StartDate != nil {
		if req.StartDate.IsZero() {
			return nil, subscriptiondomain.ErrInvalidStartDate
		}
		start = startOfDay(req.StartDate.UTC())
	}
	anchor := start.Day()

	currency := plan.Currency
	if currency == "" {
		currency = s.currency
	}

	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		TenantID:           tenantID,
		PlanID:             plan.ID,
		PlanCode:           string(plan.Code),
		Status:             subscriptiondomain.SubscriptionStatusActive,
		Currency:           currency,
		BillingAnchorDay:   anchor,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   subscriptiondomain.AddMonthsClamped(anchor, start, 1),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	limits := subscriptiondomain.SubscriptionLimits{
		SubscriptionID:   subscription.ID,
		IncludedCredits:  plan.IncludedCredits,
		RemainingCredits: plan.IncludedCredits,
		LastResetAt:      now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindLiveByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrSubscriptionExists
		}
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			if dbpkg.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrSubscriptionExists
			}
			return err
		}
		return s.repo.InsertLimits(ctx, tx, &limits)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("tenant_id", tenantID),
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("plan_code", subscription.PlanCode),
		zap.Time("period_start", subscription.CurrentPeriodStart),
		zap.Time("period_end", subscription.CurrentPeriodEnd),
	)
	s.audit(ctx, subscription, auditdomain.ActionSubscriptionCreate, map[string]any{
		"plan_code":        subscription.PlanCode,
		"included_credits": plan.IncludedCredits,
	})

	return &subscriptiondomain.Detail{Subscription: subscription, Limits: &limits}, nil
}

func (s *Service) GetByID(ctx context.Context, raw string) (*subscriptiondomain.Detail, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}

	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	limits, err := s.repo.FindLimits(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	return &subscriptiondomain.Detail{Subscription: *subscription, Limits: limits}, nil
}

func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListDue(ctx, s.db, now.UTC(), limit)
}

func (s *Service) TransitionStatus(ctx context.Context, id snowflake.ID, target subscriptiondomain.SubscriptionStatus) error {
	_, err := s.transition(ctx, id, target)
	return err
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, target subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if subscription.Status == target {
		return subscription, nil
	}
	if !subscriptiondomain.CanTransition(subscription.Status, target) {
		return nil, subscriptiondomain.ErrInvalidStatusTransition
	}

	now := s.clock.Now().UTC()
	updated, err := s.repo.UpdateStatus(ctx, s.db, id, subscription.Status, target, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost a race with another transition.
		return nil, subscriptiondomain.ErrInvalidStatusTransition
	}

	s.log.Info("subscription status changed",
		zap.String("subscription_id", id.String()),
		zap.String("from", string(subscription.Status)),
		zap.String("to", string(target)),
	)

	subscription.Status = target
	subscription.UpdatedAt = now
	if target == subscriptiondomain.SubscriptionStatusCancelled {
		subscription.CancelledAt = &now
	}
	return subscription, nil
}

func (s *Service) Cancel(ctx context.Context, raw string) (*subscriptiondomain.Subscription, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}

	subscription, err := s.transition(ctx, id, subscriptiondomain.SubscriptionStatusCancelled)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, *subscription, auditdomain.ActionSubscriptionCancel, nil)
	return subscription, nil
}

func (s *Service) SetProcessorCustomerID(ctx context.Context, id snowflake.ID, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return errors.New("processor customer id is required")
	}
	return s.repo.SetProcessorCustomerID(ctx, s.db, id, customerID, s.clock.Now().UTC())
}

func (s *Service) audit(ctx context.Context, subscription subscriptiondomain.Subscription, action string, metadata map[string]any) {
	if s.auditsvc == nil {
		return
	}
	_ = s.auditsvc.Record(ctx, auditdomain.Entry{
		TenantID:   subscription.TenantID,
		Action:     action,
		TargetType: "subscription",
		TargetID:   subscription.ID.String(),
		Metadata:   metadata,
	})
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, subscriptiondomain.ErrInvalidSubscription
	}
	return id, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
