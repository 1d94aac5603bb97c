package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  assetdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  assetdomain.Repository
}

func NewService(p ServiceParam) assetdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("asset.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, req assetdomain.RecordSnapshotRequest) (*assetdomain.AssetSnapshot, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, assetdomain.ErrInvalidTenant
	}
	if req.AssetCount < 0 {
		return nil, assetdomain.ErrInvalidAssetCount
	}

	now := s.clock.Now().UTC()
	capturedAt := now
	if req.CapturedAt != nil && !req.CapturedAt.IsZero() {
		capturedAt = req.CapturedAt.UTC()
	}

	snapshot := assetdomain.AssetSnapshot{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		AssetCount: req.AssetCount,
		CapturedAt: capturedAt,
		CreatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *Service) LatestAssetCount(ctx context.Context, tenantID string) (int64, error) {
	snapshot, err := s.repo.FindLatest(ctx, s.db, strings.TrimSpace(tenantID))
	if err != nil {
		return 0, err
	}
	if snapshot == nil {
		s.log.Debug("no asset snapshot, billing zero assets", zap.String("tenant_id", tenantID))
		return 0, nil
	}
	return snapshot.AssetCount, nil
}
