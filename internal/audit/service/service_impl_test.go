package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/audit/repository"
	"github.com/smallbiznis/creditledger/internal/clock"
	obscontext "github.com/smallbiznis/creditledger/internal/observability/context"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	return NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: repository.Provide()}), fc
}

func TestRecordMasksAndEnriches(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")

	err := svc.Record(ctx, auditdomain.Entry{
		TenantID:   "tenant-a",
		Action:     auditdomain.ActionSubscriptionCreate,
		TargetType: "subscription",
		TargetID:   "123",
		Metadata:   map[string]any{"processor_customer_id": "cus_ABCDEFGH", "plan_code": "STARTER"},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "system", entry.ActorType)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "cus_****EFGH", entry.Metadata["processor_customer_id"])
	assert.Equal(t, "STARTER", entry.Metadata["plan_code"])
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Record(context.Background(), auditdomain.Entry{Action: " "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPagesByCursor(t *testing.T) {
	svc, fc := newTestService(t)
	for i := 0; i < 3; i++ {
		fc.Advance(time.Minute)
		require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{
			TenantID: "tenant-a",
			Action:   auditdomain.ActionLedgerRebuild,
		}))
	}

	first, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TenantID: "tenant-a", Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)

	second, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TenantID: "tenant-a", Pagination: paginationOf(first.NextPageToken, 2)})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
}

func paginationOf(token string, size int) pagination.Pagination {
	return pagination.Pagination{PageToken: token, PageSize: size}
}
