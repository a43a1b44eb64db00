package filing

import (
	"github.com/mapato/taxcore/internal/filing/repository"
	"github.com/mapato/taxcore/internal/filing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("filing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
