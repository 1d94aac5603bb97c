package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
	"github.com/smallbiznis/creditledger/internal/asset/repository"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) assetdomain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&assetdomain.AssetSnapshot{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestLatestAssetCountDefaultsToZero(t *testing.T) {
	svc := newTestService(t)
	count, err := svc.LatestAssetCount(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLatestAssetCountUsesMostRecentCapture(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

	_, err := svc.Record(ctx, assetdomain.RecordSnapshotRequest{TenantID: "tenant-a", AssetCount: 250, CapturedAt: &newer})
	require.NoError(t, err)
	_, err = svc.Record(ctx, assetdomain.RecordSnapshotRequest{TenantID: "tenant-a", AssetCount: 180, CapturedAt: &older})
	require.NoError(t, err)
	_, err = svc.Record(ctx, assetdomain.RecordSnapshotRequest{TenantID: "tenant-b", AssetCount: 9})
	require.NoError(t, err)

	count, err := svc.LatestAssetCount(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)
}

func TestRecordValidation(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Record(context.Background(), assetdomain.RecordSnapshotRequest{TenantID: "", AssetCount: 1})
	assert.ErrorIs(t, err, assetdomain.ErrInvalidTenant)
	_, err = svc.Record(context.Background(), assetdomain.RecordSnapshotRequest{TenantID: "t", AssetCount: -1})
	assert.ErrorIs(t, err, assetdomain.ErrInvalidAssetCount)
}
