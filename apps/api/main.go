package main

import (
	"github.com/airgate-io/airgate/internal/clock"
	"github.com/airgate-io/airgate/internal/config"
	"github.com/airgate-io/airgate/internal/migration"
	"github.com/airgate-io/airgate/internal/observability"
	"github.com/airgate-io/airgate/internal/server"
	"github.com/airgate-io/airgate/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// API-only deployment. Rollup folding and webhook dispatch are left to
// apps/scheduler.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
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
