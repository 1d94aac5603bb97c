package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	gainsharedomain "github.com/smallbiznis/creditledger/internal/gainshare/domain"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	"github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    gainsharedomain.Repository
	Billing *config.BillingConfigHolder

	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     gainsharedomain.Repository
	billing  *config.BillingConfigHolder
	auditsvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) gainsharedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("gainshare.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		billing:  p.Billing,
		auditsvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) CreateBaseline(ctx context.Context, req gainsharedomain.CreateBaselineRequest) (*gainsharedomain.KPIBaseline, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, gainsharedomain.ErrInvalidTenant
	}
	if _, ok := s.model(req.Metric); !ok {
		return nil, gainsharedomain.ErrInvalidMetric
	}
	if req.BaselineValue.IsNegative() || req.CostPerUnit.IsNegative() {
		return nil, gainsharedomain.ErrInvalidBaseline
	}

	now := s.clock.Now().UTC()
	from := now
	if req.EffectiveFrom != nil && !req.EffectiveFrom.IsZero() {
		from = req.EffectiveFrom.UTC()
	}
	baseline := gainsharedomain.KPIBaseline{
		ID:            s.genID.Generate(),
		TenantID:      tenantID,
		Metric:        normalizeMetric(req.Metric),
		BaselineValue: req.BaselineValue,
		CostPerUnit:   req.CostPerUnit,
		EffectiveFrom: from,
		CreatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := s.repo.BaselineStartsAt(ctx, tx, tenantID, baseline.Metric, from)
		if err != nil {
			return err
		}
		if taken {
			return gainsharedomain.ErrBaselineExists
		}
		// A backdated revision ends where the next one begins.
		next, err := s.repo.NextBaselineStart(ctx, tx, tenantID, baseline.Metric, from)
		if err != nil {
			return err
		}
		baseline.EffectiveTo = next

		if err := s.repo.CloseOpenBaselines(ctx, tx, tenantID, baseline.Metric, from); err != nil {
			return err
		}
		return s.repo.InsertBaseline(ctx, tx, &baseline)
	})
	if err != nil {
		return nil, err
	}
	return &baseline, nil
}

func (s *Service) RecordMeasurement(ctx context.Context, req gainsharedomain.RecordMeasurementRequest) (*gainsharedomain.KPIMeasurement, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, gainsharedomain.ErrInvalidTenant
	}
	if _, ok := s.model(req.Metric); !ok {
		return nil, gainsharedomain.ErrInvalidMetric
	}

	now := s.clock.Now().UTC()
	measuredAt := now
	if req.MeasuredAt != nil && !req.MeasuredAt.IsZero() {
		measuredAt = req.MeasuredAt.UTC()
	}
	measurement := gainsharedomain.KPIMeasurement{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		Metric:     normalizeMetric(req.Metric),
		Value:      req.Value,
		MeasuredAt: measuredAt,
		CreatedAt:  now,
	}
	if err := s.repo.InsertMeasurement(ctx, s.db, &measurement); err != nil {
		return nil, err
	}
	return &measurement, nil
}

func (s *Service) Calculate(ctx context.Context, req gainsharedomain.CalculateRequest) (*gainsharedomain.GainShareRun, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, gainsharedomain.ErrInvalidTenant
	}
	start, end := req.PeriodStart.UTC(), req.PeriodEnd.UTC()
	if start.IsZero() || !end.After(start) {
		return nil, gainsharedomain.ErrInvalidPeriod
	}

	cfg := s.billing.Get().GainShare
	minPct := decimal.NewFromFloat(cfg.MinSharePct)
	maxPct := decimal.NewFromFloat(cfg.MaxSharePct)
	if req.SharePct.LessThan(minPct) || req.SharePct.GreaterThan(maxPct) {
		return nil, gainsharedomain.ErrInvalidSharePct
	}

	input := gainsharedomain.CalculationInput{
		PeriodStart:             start,
		PeriodEnd:               end,
		DefaultRepairsPer30Days: decimal.NewFromFloat(cfg.DefaultRepairsPer30Days),
	}
	for _, model := range s.models() {
		metric := gainsharedomain.MetricInput{Model: model}

		baseline, err := s.repo.FindEffectiveBaseline(ctx, s.db, tenantID, model.Name, start, end)
		if err != nil {
			return nil, err
		}
		metric.Baseline = baseline

		values, err := s.repo.ListMeasurementValues(ctx, s.db, tenantID, model.Name, start, end)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			metric.Actual = average(values)
			metric.Samples = len(values)
			if model.Formula == gainsharedomain.FormulaMTBF {
				mtbf := metric.Actual
				input.ActualMTBF = &mtbf
			}
		}
		input.Metrics = append(input.Metrics, metric)
	}

	result := gainsharedomain.Calculate(input)
	now := s.clock.Now().UTC()
	run := gainsharedomain.GainShareRun{
		ID:                s.genID.Generate(),
		TenantID:          tenantID,
		PeriodStart:       start,
		PeriodEnd:         end,
		CalculatedSavings: result.Savings,
		SharePct:          req.SharePct,
		Fee:               gainsharedomain.Fee(result.Savings, req.SharePct),
		Status:            gainsharedomain.RunStatusPendingApproval,
		Report: datatypes.JSONMap{
			"period_hours": result.PeriodHours.String(),
			"metrics":      result.Metrics,
			"incomplete":   incompleteMetrics(result.Metrics),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertRun(ctx, s.db, &run); err != nil {
		s.metrics.RecordGainShareRun(ctx, "failed")
		return nil, err
	}

	log := logger.WithContext(ctx, s.log)
	if missing := incompleteMetrics(result.Metrics); len(missing) > 0 {
		log.Info("gain-share calculation incomplete", zap.String("run_id", run.ID.String()), zap.Strings("metrics", missing))
	}
	log.Info("gain-share run calculated",
		zap.String("run_id", run.ID.String()),
		zap.String("tenant_id", tenantID),
		zap.String("savings", run.CalculatedSavings.String()),
		zap.String("fee", run.Fee.String()),
	)
	s.metrics.RecordGainShareRun(ctx, "calculated")
	s.audit(ctx, run, auditdomain.ActionGainShareCalculate, "")
	return &run, nil
}

func (s *Service) Approve(ctx context.Context, req gainsharedomain.DecisionRequest) (*gainsharedomain.GainShareRun, error) {
	return s.decide(ctx, req, gainsharedomain.RunStatusApproved, auditdomain.ActionGainShareApprove)
}

func (s *Service) Reject(ctx context.Context, req gainsharedomain.DecisionRequest) (*gainsharedomain.GainShareRun, error) {
	return s.decide(ctx, req, gainsharedomain.RunStatusRejected, auditdomain.ActionGainShareReject)
}

func (s *Service) decide(ctx context.Context, req gainsharedomain.DecisionRequest, status gainsharedomain.RunStatus, action string) (*gainsharedomain.GainShareRun, error) {
	id, err := parseID(req.RunID)
	if err != nil {
		return nil, gainsharedomain.ErrInvalidRunID
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, gainsharedomain.ErrInvalidActor
	}

	run, err := s.repo.FindRunByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, gainsharedomain.ErrRunNotFound
	}

	now := s.clock.Now().UTC()
	updated, err := s.repo.DecideRun(ctx, s.db, id, status, actor, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, gainsharedomain.ErrInvalidStatusTransition
	}

	run.Status = status
	run.DecidedBy = &actor
	run.DecidedAt = &now
	run.UpdatedAt = now

	s.metrics.RecordGainShareRun(ctx, string(status))
	s.audit(ctx, *run, action, actor)
	return run, nil
}

func (s *Service) GetByID(ctx context.Context, raw string) (*gainsharedomain.GainShareRun, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, gainsharedomain.ErrInvalidRunID
	}
	run, err := s.repo.FindRunByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, gainsharedomain.ErrRunNotFound
	}
	return run, nil
}

func (s *Service) List(ctx context.Context, req gainsharedomain.ListRunsRequest) (gainsharedomain.ListRunsResponse, error) {
	filter := gainsharedomain.RunFilter{
		TenantID: req.TenantID,
		Status:   gainsharedomain.RunStatus(strings.TrimSpace(req.Status)),
		Limit:    req.Limit(),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return gainsharedomain.ListRunsResponse{}, gainsharedomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return gainsharedomain.ListRunsResponse{}, gainsharedomain.ErrInvalidPageToken
		}
		id, err := parseID(cursor.ID)
		if err != nil {
			return gainsharedomain.ListRunsResponse{}, gainsharedomain.ErrInvalidPageToken
		}
		filter.Cursor = &gainsharedomain.RunCursor{ID: id, CreatedAt: createdAt}
	}

	items, err := s.repo.ListRuns(ctx, s.db, filter)
	if err != nil {
		return gainsharedomain.ListRunsResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(run *gainsharedomain.GainShareRun) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        run.ID.String(),
			CreatedAt: run.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	runs := make([]gainsharedomain.GainShareRun, 0, len(items))
	for _, item := range items {
		runs = append(runs, *item)
	}
	return gainsharedomain.ListRunsResponse{PageInfo: *pageInfo, Runs: runs}, nil
}

func (s *Service) models() []gainsharedomain.MetricModel {
	cfg := s.billing.Get().GainShare
	models := make([]gainsharedomain.MetricModel, 0, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		name := normalizeMetric(m.Name)
		if name == "" {
			continue
		}
		formula := gainsharedomain.Formula(strings.ToLower(strings.TrimSpace(m.Formula)))
		switch formula {
		case gainsharedomain.FormulaAvailability, gainsharedomain.FormulaMTBF, gainsharedomain.FormulaMTTR:
		default:
			formula = gainsharedomain.FormulaLinear
		}
		models = append(models, gainsharedomain.MetricModel{
			Name:      name,
			Direction: gainsharedomain.Direction(m.Direction),
			Formula:   formula,
		})
	}
	return models
}

func (s *Service) model(metric string) (gainsharedomain.MetricModel, bool) {
	name := normalizeMetric(metric)
	for _, m := range s.models() {
		if m.Name == name {
			return m, true
		}
	}
	return gainsharedomain.MetricModel{}, false
}

func (s *Service) audit(ctx context.Context, run gainsharedomain.GainShareRun, action, actor string) {
	if s.auditsvc == nil {
		return
	}
	entry := auditdomain.Entry{
		TenantID:   run.TenantID,
		ActorType:  auditdomain.ActorTypeSystem,
		Action:     action,
		TargetType: "gainshare_run",
		TargetID:   run.ID.String(),
		Metadata: map[string]any{
			"calculated_savings": run.CalculatedSavings.String(),
			"share_pct":          run.SharePct.String(),
			"fee":                run.Fee.String(),
		},
	}
	if actor != "" {
		entry.ActorType = auditdomain.ActorTypeUser
		entry.ActorID = actor
	}
	_ = s.auditsvc.Record(ctx, entry)
}

func average(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))
}

func incompleteMetrics(reports []gainsharedomain.MetricReport) []string {
	var out []string
	for _, r := range reports {
		if r.Status == gainsharedomain.MetricStatusNoBaseline || r.Status == gainsharedomain.MetricStatusNoMeasurements {
			out = append(out, r.Metric)
		}
	}
	return out
}

func normalizeMetric(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
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
