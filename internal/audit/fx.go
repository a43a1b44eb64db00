package audit

import (
	"github.com/mapato/taxcore/internal/audit/repository"
	"github.com/mapato/taxcore/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
