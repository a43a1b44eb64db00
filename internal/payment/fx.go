package payment

import (
	"github.com/mapato/taxcore/internal/payment/repository"
	"github.com/mapato/taxcore/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
