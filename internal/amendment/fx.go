package amendment

import (
	"github.com/mapato/taxcore/internal/amendment/repository"
	"github.com/mapato/taxcore/internal/amendment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("amendment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
