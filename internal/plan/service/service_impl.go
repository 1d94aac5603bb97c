package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/cache"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"github.com/smallbiznis/creditledger/pkg/db/option"
	"github.com/smallbiznis/creditledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Plans are immutable per version, so a short TTL only bounds how long a newly
// provisioned version takes to become the default.
const planCacheTTL = 5 * time.Minute

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo      plandomain.Repository
	planStore repository.Repository[plandomain.Plan]
	cache     *cache.Loader[*plandomain.Plan]
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo plandomain.Repository
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plan.service"),

		repo:      p.Repo,
		planStore: repository.ProvideStore[plandomain.Plan](p.DB),
		cache:     cache.NewLoader[*plandomain.Plan](planCacheTTL),
	}
}

func (s *Service) GetByCode(ctx context.Context, raw string) (*plandomain.Plan, error) {
	code, err := plandomain.NormalizeCode(raw)
	if err != nil {
		return nil, err
	}

	return s.cache.Get(ctx, "code:"+string(code), func(ctx context.Context) (*plandomain.Plan, error) {
		plan, err := s.repo.FindLatestByCode(ctx, s.db, code)
		if err != nil {
			s.log.Error("failed to load plan", zap.String("plan_code", string(code)), zap.Error(err))
			return nil, err
		}
		if plan == nil {
			return nil, plandomain.ErrPlanNotFound
		}
		return plan, nil
	})
}

func (s *Service) GetByID(ctx context.Context, raw string) (*plandomain.Plan, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return nil, plandomain.ErrInvalidPlanID
	}

	return s.cache.Get(ctx, "id:"+id.String(), func(ctx context.Context) (*plandomain.Plan, error) {
		plan, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, plandomain.ErrPlanNotFound
		}
		return plan, nil
	})
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	items, err := s.planStore.Find(ctx, nil,
		option.WithSortBy("code", "asc"),
		option.WithSortBy("version", "desc"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]plandomain.Plan, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}
