package gateway

import (
	"github.com/mapato/taxcore/internal/clock"
	"github.com/mapato/taxcore/internal/config"
	gatewaydomain "github.com/mapato/taxcore/internal/gateway/domain"
	"github.com/mapato/taxcore/internal/gateway/itax"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

var Module = fx.Module("gateway",
	fx.Provide(NewGateway),
)

// NewGateway builds the configured authority gateway wrapped with retry.
// Remote mode is not wired yet, both modes currently serve the simulator.
func NewGateway(p Params) gatewaydomain.Gateway {
	base := itax.New(p.Log, p.Clock)
	return WithRetry(base, p.Cfg.Gateway, p.Log, p.ObsMetrics)
}
