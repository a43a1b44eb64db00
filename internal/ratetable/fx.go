package ratetable

import (
	"go.uber.org/fx"
)

var Module = fx.Module("ratetable",
	fx.Provide(NewStore),
)
