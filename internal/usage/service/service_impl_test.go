package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/creditrule"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	planrepository "github.com/smallbiznis/creditledger/internal/plan/repository"
	planservice "github.com/smallbiznis/creditledger/internal/plan/service"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	"github.com/smallbiznis/creditledger/internal/seed"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/creditledger/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/creditledger/internal/subscription/service"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type processorMock struct {
	processordomain.Processor
	mock.Mock
}

func (m *processorMock) Name() string  { return "mock" }
func (m *processorMock) Enabled() bool { return true }

func (m *processorMock) ReportUsage(ctx context.Context, report processordomain.UsageReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

type fixture struct {
	db     *gorm.DB
	clock  *clock.FakeClock
	usage  usagedomain.Service
	subs   subscriptiondomain.Service
	subID  string
	tenant string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWithDSN(t, ":memory:")
}

func setupWithDSN(t *testing.T, dsn string) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionLimits{},
		&usagedomain.UsageEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	_, err = seed.EnsureDefaultPlans(db, node, "CAD")
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	subRepo := subscriptionrepository.Provide()
	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Cfg:     config.Config{DefaultCurrency: "CAD"},
		Repo:    subRepo,
		PlanSvc: planservice.NewService(planservice.ServiceParam{DB: db, Log: zap.NewNop(), Repo: planrepository.Provide()}),
	})

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	detail, err := subs.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		TenantID:  "tenant-a",
		PlanCode:  "STARTER",
		StartDate: &start,
	})
	require.NoError(t, err)

	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	usage := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Repo:    repository.Provide(),
		SubRepo: subRepo,
		Rules:   creditrule.NewTable(billing),
		Billing: billing,
	})

	return &fixture{db: db, clock: fc, usage: usage, subs: subs, subID: detail.ID.String(), tenant: "tenant-a"}
}

func (f *fixture) setRemaining(t *testing.T, remaining int64) {
	t.Helper()
	require.NoError(t, f.db.Exec(
		"UPDATE subscription_limits SET remaining_credits = ? WHERE subscription_id = ?",
		remaining, mustID(t, f.subID),
	).Error)
}

func TestTrackDecrementsBalance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.usage.Track(ctx, usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "LLM_token_usage",
		Meta:           map[string]any{"total_tokens": float64(12500)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(13), res.CreditsBurned)
	assert.Equal(t, int64(249987), res.RemainingCredits)
	assert.Equal(t, int64(0), res.OverageCredits)
	assert.Equal(t, usagedomain.AlertNone, res.Alert)
	assert.False(t, res.Replayed)
}

func TestTrackRejectsUnknownEventWithoutWriting(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.usage.Track(ctx, usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "teleport_job",
	})
	assert.ErrorIs(t, err, creditrule.ErrUnknownEventType)

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	assert.Zero(t, count)

	consistency, err := f.usage.CheckConsistency(ctx, snowflake.ParseInt64(mustID(t, f.subID)))
	require.NoError(t, err)
	assert.Equal(t, int64(250000), consistency.RemainingCredits)
}

func TestTrackRejectsForeignTenant(t *testing.T) {
	f := setup(t)

	_, err := f.usage.Track(context.Background(), usagedomain.TrackRequest{
		TenantID:       "tenant-b",
		SubscriptionID: f.subID,
		EventType:      "optimizer_job",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestTrackRejectsCancelledSubscription(t *testing.T) {
	f := setup(t)
	_, err := f.subs.Cancel(context.Background(), f.subID)
	require.NoError(t, err)

	_, err = f.usage.Track(context.Background(), usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "optimizer_job",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionInactive)
}

func TestTrackGoesNegativeWithOverageAlert(t *testing.T) {
	f := setup(t)
	f.setRemaining(t, 300)

	res, err := f.usage.Track(context.Background(), usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "optimizer_job",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-200), res.RemainingCredits)
	assert.Equal(t, int64(200), res.OverageCredits)
	assert.Equal(t, usagedomain.AlertOverage, res.Alert)
}

func TestTrackCriticalAlert(t *testing.T) {
	f := setup(t)
	f.setRemaining(t, 20500)

	res, err := f.usage.Track(context.Background(), usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "simulator_run",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(19500), res.RemainingCredits)
	assert.Equal(t, 92.2, res.UsagePercent)
	assert.Equal(t, usagedomain.AlertCritical, res.Alert)
}

func TestTrackAlertTierIgnoresDisplayRounding(t *testing.T) {
	f := setup(t)
	f.setRemaining(t, 24991)

	res, err := f.usage.Track(context.Background(), usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "LLM_token_usage",
		Meta:           map[string]any{"total_tokens": float64(1000)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(24990), res.RemainingCredits)
	assert.Equal(t, 90.0, res.UsagePercent)
	assert.Equal(t, usagedomain.AlertCritical, res.Alert)
}

func TestTrackReplaysIdempotencyKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "optimizer_job",
		IdempotencyKey: "job-42",
	}

	first, err := f.usage.Track(ctx, req)
	require.NoError(t, err)
	second, err := f.usage.Track(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.RemainingCredits, second.RemainingCredits)

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTrackRejectsIdempotencyKeyFromAnotherSubscription(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "optimizer_job",
		IdempotencyKey: "job-7",
	}
	_, err := f.usage.Track(ctx, req)
	require.NoError(t, err)

	_, err = f.subs.Cancel(ctx, f.subID)
	require.NoError(t, err)
	next, err := f.subs.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		TenantID: f.tenant,
		PlanCode: "STARTER",
	})
	require.NoError(t, err)

	req.SubscriptionID = next.ID.String()
	_, err = f.usage.Track(ctx, req)
	assert.ErrorIs(t, err, usagedomain.ErrIdempotencyKeyReused)

	consistency, err := f.usage.CheckConsistency(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250000), consistency.RemainingCredits)
}

func TestTrackConcurrentDecrementsMatchEventLog(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ledger.db") +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	f := setupWithDSN(t, dsn)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)

	const workers = 24
	ctx := context.Background()
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := f.usage.Track(ctx, usagedomain.TrackRequest{
				TenantID:       f.tenant,
				SubscriptionID: f.subID,
				EventType:      "optimizer_job",
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	consistency, err := f.usage.CheckConsistency(ctx, snowflake.ParseInt64(mustID(t, f.subID)))
	require.NoError(t, err)
	assert.True(t, consistency.Consistent())
	assert.Equal(t, int64(250000-workers*500), consistency.RemainingCredits)
	assert.Equal(t, int64(workers*500), consistency.EventCredits)

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	assert.Equal(t, int64(workers), count)
}

func TestTrackReportsUsageToProcessorAfterCommit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	subID := snowflake.ParseInt64(mustID(t, f.subID))
	require.NoError(t, f.subs.SetProcessorCustomerID(ctx, subID, "cus_9"))

	reported := make(chan processordomain.UsageReport, 1)
	processor := &processorMock{}
	processor.On("ReportUsage", mock.Anything, mock.MatchedBy(func(r processordomain.UsageReport) bool {
		return r.CustomerID == "cus_9" && r.EventType == "optimizer_job" && r.Credits == 500
	})).Return(nil).Run(func(args mock.Arguments) {
		reported <- args.Get(1).(processordomain.UsageReport)
	}).Once()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	usage := NewService(ServiceParam{
		DB:        f.db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     f.clock,
		Cfg:       config.Config{Stripe: config.StripeConfig{ReportUsage: true}},
		Repo:      repository.Provide(),
		SubRepo:   subscriptionrepository.Provide(),
		Rules:     creditrule.NewTable(billing),
		Billing:   billing,
		Processor: processor,
	})

	res, err := usage.Track(ctx, usagedomain.TrackRequest{
		TenantID:       f.tenant,
		SubscriptionID: f.subID,
		EventType:      "optimizer_job",
	})
	require.NoError(t, err)

	select {
	case report := <-reported:
		assert.Equal(t, res.EventID.String(), report.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("usage was not reported to the processor")
	}
	processor.AssertExpectations(t)
}

func TestSummaryAggregatesByType(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.usage.Track(ctx, usagedomain.TrackRequest{
			TenantID:       f.tenant,
			SubscriptionID: f.subID,
			EventType:      "optimizer_job",
		})
		require.NoError(t, err)
	}

	summary, err := f.usage.Summary(ctx, usagedomain.SummaryRequest{SubscriptionID: f.subID, Period: "2025-03"})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), summary.TotalCredits)
	assert.Equal(t, int64(3), summary.ByType["optimizer_job"].Count)

	empty, err := f.usage.Summary(ctx, usagedomain.SummaryRequest{SubscriptionID: f.subID, Period: "2025-04"})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalCredits)

	_, err = f.usage.Summary(ctx, usagedomain.SummaryRequest{SubscriptionID: f.subID, Period: "March"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidPeriod)
}

func TestRebuildBalanceRestoresEventSum(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.usage.Track(ctx, usagedomain.TrackRequest{
			TenantID:       f.tenant,
			SubscriptionID: f.subID,
			EventType:      "simulator_run",
		})
		require.NoError(t, err)
	}
	f.setRemaining(t, 1)

	res, err := f.usage.RebuildBalance(ctx, f.subID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Before)
	assert.Equal(t, int64(248000), res.After)
	assert.NotZero(t, res.Drift)

	consistency, err := f.usage.CheckConsistency(ctx, snowflake.ParseInt64(mustID(t, f.subID)))
	require.NoError(t, err)
	assert.True(t, consistency.Consistent())
	assert.Equal(t, int64(2000), consistency.EventCredits)
}

func TestListEventsPaginates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.usage.Track(ctx, usagedomain.TrackRequest{
			TenantID:       f.tenant,
			SubscriptionID: f.subID,
			EventType:      "optimizer_job",
		})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	req := usagedomain.ListEventsRequest{SubscriptionID: f.subID}
	req.PageSize = 2
	page, err := f.usage.ListEvents(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.True(t, page.HasMore)

	req.PageToken = page.NextPageToken
	next, err := f.usage.ListEvents(ctx, req)
	require.NoError(t, err)
	require.Len(t, next.Events, 1)
	assert.False(t, next.HasMore)
}

func mustID(t *testing.T, raw string) int64 {
	t.Helper()
	id, err := snowflake.ParseString(raw)
	require.NoError(t, err)
	return id.Int64()
}
