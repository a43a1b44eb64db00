package calculator

import (
	"github.com/mapato/taxcore/internal/deduction"
	"go.uber.org/fx"
)

var Module = fx.Module("calculator",
	fx.Provide(deduction.NewEngine),
	fx.Provide(NewService),
)
