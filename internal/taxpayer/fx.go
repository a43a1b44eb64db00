package taxpayer

import (
	"github.com/mapato/taxcore/internal/taxpayer/repository"
	"github.com/mapato/taxcore/internal/taxpayer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("taxpayer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
