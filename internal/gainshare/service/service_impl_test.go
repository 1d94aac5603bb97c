package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	gainsharedomain "github.com/smallbiznis/creditledger/internal/gainshare/domain"
	"github.com/smallbiznis/creditledger/internal/gainshare/repository"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	aprilStart = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	aprilEnd   = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   gainsharedomain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&gainsharedomain.KPIBaseline{},
		&gainsharedomain.KPIMeasurement{},
		&gainsharedomain.GainShareRun{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Repo:    repository.Provide(),
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})
	return &fixture{db: db, clock: fc, svc: svc}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) baseline(t *testing.T, metric, value, cost string, from time.Time) *gainsharedomain.KPIBaseline {
	t.Helper()
	b, err := f.svc.CreateBaseline(context.Background(), gainsharedomain.CreateBaselineRequest{
		TenantID:      "tenant-a",
		Metric:        metric,
		BaselineValue: dec(value),
		CostPerUnit:   dec(cost),
		EffectiveFrom: &from,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) measure(t *testing.T, metric, value string, at time.Time) {
	t.Helper()
	_, err := f.svc.RecordMeasurement(context.Background(), gainsharedomain.RecordMeasurementRequest{
		TenantID:   "tenant-a",
		Metric:     metric,
		Value:      dec(value),
		MeasuredAt: &at,
	})
	require.NoError(t, err)
}

func (f *fixture) calculate(pct string) (*gainsharedomain.GainShareRun, error) {
	return f.svc.Calculate(context.Background(), gainsharedomain.CalculateRequest{
		TenantID:    "tenant-a",
		PeriodStart: aprilStart,
		PeriodEnd:   aprilEnd,
		SharePct:    dec(pct),
	})
}

func TestCalculateProducesPendingRunWithExactFee(t *testing.T) {
	f := setup(t)
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.baseline(t, "availability", "99.0", "1000", jan)
	f.baseline(t, "mttr", "8", "150", jan)

	f.measure(t, "availability", "99.4", aprilStart.Add(24*time.Hour))
	f.measure(t, "availability", "99.6", aprilStart.Add(48*time.Hour))
	f.measure(t, "mttr", "6", aprilStart.Add(72*time.Hour))
	// Outside the period.
	f.measure(t, "availability", "90", aprilEnd.Add(time.Hour))

	run, err := f.calculate("15")
	require.NoError(t, err)

	// availability: 0.5/100 * 720h * 1000 = 3600
	// mttr: 2h * 4 repairs * 150 = 1200 (no mtbf samples)
	assert.True(t, run.CalculatedSavings.Equal(dec("4800")), run.CalculatedSavings.String())
	assert.True(t, run.Fee.Equal(dec("720")), run.Fee.String())
	assert.Equal(t, gainsharedomain.RunStatusPendingApproval, run.Status)
	assert.Equal(t, []string{"mtbf"}, run.Report["incomplete"])

	stored, err := f.svc.GetByID(context.Background(), run.ID.String())
	require.NoError(t, err)
	assert.True(t, stored.Fee.Equal(run.Fee))
	assert.Equal(t, gainsharedomain.RunStatusPendingApproval, stored.Status)
}

func TestCalculateRejectsSharePctOutsideBounds(t *testing.T) {
	f := setup(t)

	for _, pct := range []string{"9.99", "20.01", "0", "-15", "100"} {
		_, err := f.calculate(pct)
		assert.ErrorIs(t, err, gainsharedomain.ErrInvalidSharePct, pct)
	}
	for _, pct := range []string{"10", "20", "12.5"} {
		_, err := f.calculate(pct)
		assert.NoError(t, err, pct)
	}

	var count int64
	require.NoError(t, f.db.Model(&gainsharedomain.GainShareRun{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestCalculateWithoutDataYieldsZeroFee(t *testing.T) {
	f := setup(t)

	run, err := f.calculate("10")
	require.NoError(t, err)
	assert.True(t, run.CalculatedSavings.IsZero())
	assert.True(t, run.Fee.IsZero())
	assert.Len(t, run.Report["incomplete"], 3)
}

func TestCalculateValidatesPeriod(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Calculate(context.Background(), gainsharedomain.CalculateRequest{
		TenantID:    "tenant-a",
		PeriodStart: aprilEnd,
		PeriodEnd:   aprilStart,
		SharePct:    dec("15"),
	})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidPeriod)

	_, err = f.svc.Calculate(context.Background(), gainsharedomain.CalculateRequest{
		PeriodStart: aprilStart,
		PeriodEnd:   aprilEnd,
		SharePct:    dec("15"),
	})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidTenant)
}

func TestBaselineRevisionClosesPreviousOne(t *testing.T) {
	f := setup(t)
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	first := f.baseline(t, "availability", "99.0", "1000", jan)
	second := f.baseline(t, "availability", "99.3", "1000", mar)
	assert.Nil(t, second.EffectiveTo)

	var stored gainsharedomain.KPIBaseline
	require.NoError(t, f.db.First(&stored, "id = ?", first.ID).Error)
	require.NotNil(t, stored.EffectiveTo)
	assert.True(t, stored.EffectiveTo.Equal(mar))

	_, err := f.svc.CreateBaseline(context.Background(), gainsharedomain.CreateBaselineRequest{
		TenantID:      "tenant-a",
		Metric:        "availability",
		BaselineValue: dec("99.9"),
		CostPerUnit:   dec("1000"),
		EffectiveFrom: &mar,
	})
	assert.ErrorIs(t, err, gainsharedomain.ErrBaselineExists)

	// April uses the March revision: 0.2/100 * 720 * 1000 = 1440.
	f.measure(t, "availability", "99.5", aprilStart.Add(time.Hour))
	run, err := f.calculate("10")
	require.NoError(t, err)
	assert.True(t, run.CalculatedSavings.Equal(dec("1440")), run.CalculatedSavings.String())
}

func TestBackdatedBaselineEndsAtNextRevision(t *testing.T) {
	f := setup(t)
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	f.baseline(t, "mttr", "8", "150", mar)
	backdated := f.baseline(t, "mttr", "9", "150", jan)
	require.NotNil(t, backdated.EffectiveTo)
	assert.True(t, backdated.EffectiveTo.Equal(mar))
}

func TestCreateBaselineValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateBaseline(ctx, gainsharedomain.CreateBaselineRequest{TenantID: "tenant-a", Metric: "uptime"})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidMetric)

	_, err = f.svc.CreateBaseline(ctx, gainsharedomain.CreateBaselineRequest{Metric: "mtbf"})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidTenant)

	_, err = f.svc.CreateBaseline(ctx, gainsharedomain.CreateBaselineRequest{
		TenantID:    "tenant-a",
		Metric:      "mtbf",
		CostPerUnit: dec("-1"),
	})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidBaseline)

	_, err = f.svc.RecordMeasurement(ctx, gainsharedomain.RecordMeasurementRequest{TenantID: "tenant-a", Metric: "uptime"})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidMetric)
}

func TestApproveAndRejectAreOneWay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.calculate("15")
	require.NoError(t, err)
	second, err := f.calculate("15")
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, gainsharedomain.DecisionRequest{RunID: first.ID.String(), Actor: "ops@tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, gainsharedomain.RunStatusApproved, approved.Status)
	require.NotNil(t, approved.DecidedBy)
	assert.Equal(t, "ops@tenant-a", *approved.DecidedBy)

	_, err = f.svc.Reject(ctx, gainsharedomain.DecisionRequest{RunID: first.ID.String(), Actor: "ops@tenant-a"})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidStatusTransition)

	rejected, err := f.svc.Reject(ctx, gainsharedomain.DecisionRequest{RunID: second.ID.String(), Actor: "ops@tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, gainsharedomain.RunStatusRejected, rejected.Status)

	_, err = f.svc.Approve(ctx, gainsharedomain.DecisionRequest{RunID: "12345", Actor: "ops@tenant-a"})
	assert.ErrorIs(t, err, gainsharedomain.ErrRunNotFound)

	_, err = f.svc.Approve(ctx, gainsharedomain.DecisionRequest{RunID: "abc", Actor: "ops@tenant-a"})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidRunID)

	_, err = f.svc.Approve(ctx, gainsharedomain.DecisionRequest{RunID: second.ID.String()})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidActor)

	stored, err := f.svc.GetByID(ctx, first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, gainsharedomain.RunStatusApproved, stored.Status)
}

func TestListRunsPaginates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.calculate("10")
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.List(ctx, gainsharedomain.ListRunsRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		TenantID:   "tenant-a",
	})
	require.NoError(t, err)
	require.Len(t, page.Runs, 2)
	assert.True(t, page.HasMore)
	assert.True(t, page.Runs[0].CreatedAt.After(page.Runs[1].CreatedAt))

	next, err := f.svc.List(ctx, gainsharedomain.ListRunsRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken},
		TenantID:   "tenant-a",
	})
	require.NoError(t, err)
	require.Len(t, next.Runs, 1)
	assert.False(t, next.HasMore)

	pending, err := f.svc.List(ctx, gainsharedomain.ListRunsRequest{Status: "approved"})
	require.NoError(t, err)
	assert.Empty(t, pending.Runs)

	_, err = f.svc.List(ctx, gainsharedomain.ListRunsRequest{Pagination: pagination.Pagination{PageToken: "bogus"}})
	assert.ErrorIs(t, err, gainsharedomain.ErrInvalidPageToken)
}
