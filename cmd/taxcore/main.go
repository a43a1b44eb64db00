package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/clock"
	"github.com/mapato/taxcore/internal/config"
	"github.com/mapato/taxcore/internal/migration"
	"github.com/mapato/taxcore/internal/observability"
	"github.com/mapato/taxcore/internal/scheduler"
	"github.com/mapato/taxcore/internal/server"
	"github.com/mapato/taxcore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
