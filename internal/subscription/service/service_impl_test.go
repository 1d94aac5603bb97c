package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	planrepository "github.com/smallbiznis/creditledger/internal/plan/repository"
	planservice "github.com/smallbiznis/creditledger/internal/plan/service"
	"github.com/smallbiznis/creditledger/internal/seed"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	"github.com/smallbiznis/creditledger/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Helper to init DB
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionLimits{},
	))
	return db
}

func newTestService(t *testing.T, now time.Time) (subscriptiondomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	_, err = seed.EnsureDefaultPlans(db, node, "CAD")
	require.NoError(t, err)

	fc := clock.NewFakeClock(now)
	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Cfg:     config.Config{DefaultCurrency: "CAD"},
		Repo:    repository.Provide(),
		PlanSvc: planservice.NewService(planservice.ServiceParam{DB: db, Log: zap.NewNop(), Repo: planrepository.Provide()}),
	})
	return svc, db, fc
}

func TestCreateCopiesAllowanceAndSetsCalendarPeriod(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC))
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	detail, err := svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		TenantID:  "tenant-a",
		PlanCode:  "starter",
		StartDate: &start,
	})
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, detail.Status)
	assert.Equal(t, "STARTER", detail.PlanCode)
	assert.Equal(t, 31, detail.BillingAnchorDay)
	assert.Equal(t, start, detail.CurrentPeriodStart)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), detail.CurrentPeriodEnd)
	require.NotNil(t, detail.Limits)
	assert.Equal(t, int64(250000), detail.Limits.IncludedCredits)
	assert.Equal(t, int64(250000), detail.Limits.RemainingCredits)

	loaded, err := svc.GetByID(context.Background(), detail.ID.String())
	require.NoError(t, err)
	assert.Equal(t, detail.ID, loaded.ID)
	assert.Equal(t, int64(250000), loaded.Limits.RemainingCredits)
}

func TestCreateDefaultsStartToToday(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2025, 5, 20, 15, 0, 0, 0, time.UTC))

	detail, err := svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{TenantID: "t", PlanCode: "PRO"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), detail.CurrentPeriodStart)
	assert.Equal(t, time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), detail.CurrentPeriodEnd)
	assert.Equal(t, int64(1000000), detail.Limits.IncludedCredits)
}

func TestCreateRejectsSecondLiveSubscription(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanCode: "STARTER"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanCode: "PRO"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionExists)

	_, err = svc.Cancel(ctx, first.ID.String())
	require.NoError(t, err)

	_, err = svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanCode: "PRO"})
	assert.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{PlanCode: "STARTER"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTenant)

	_, err = svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "t", PlanCode: "GOLD"})
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestTransitionStatus(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	detail, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "t", PlanCode: "STARTER"})
	require.NoError(t, err)

	require.NoError(t, svc.TransitionStatus(ctx, detail.ID, subscriptiondomain.SubscriptionStatusPastDue))
	require.NoError(t, svc.TransitionStatus(ctx, detail.ID, subscriptiondomain.SubscriptionStatusActive))

	cancelled, err := svc.Cancel(ctx, detail.ID.String())
	require.NoError(t, err)
	assert.NotNil(t, cancelled.CancelledAt)

	err = svc.TransitionStatus(ctx, detail.ID, subscriptiondomain.SubscriptionStatusActive)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatusTransition)

	err = svc.TransitionStatus(ctx, snowflake.ID(999), subscriptiondomain.SubscriptionStatusActive)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestListDue(t *testing.T) {
	svc, _, fc := newTestService(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	detail, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "t", PlanCode: "STARTER"})
	require.NoError(t, err)

	due, err := svc.ListDue(ctx, fc.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = svc.ListDue(ctx, detail.CurrentPeriodEnd, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, detail.ID, due[0].ID)
}
