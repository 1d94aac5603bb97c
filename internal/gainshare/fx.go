package gainshare

import (
	"github.com/smallbiznis/creditledger/internal/gainshare/repository"
	"github.com/smallbiznis/creditledger/internal/gainshare/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gainshare.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
