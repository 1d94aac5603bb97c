package asset

import (
	"github.com/smallbiznis/creditledger/internal/asset/repository"
	"github.com/smallbiznis/creditledger/internal/asset/service"
	"go.uber.org/fx"
)

var Module = fx.Module("asset.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
