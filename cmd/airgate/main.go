package main

import (
	"github.com/airgate-io/airgate/internal/clock"
	"github.com/airgate-io/airgate/internal/config"
	"github.com/airgate-io/airgate/internal/migration"
	"github.com/airgate-io/airgate/internal/observability"
	"github.com/airgate-io/airgate/internal/scheduler"
	"github.com/airgate-io/airgate/internal/seed"
	"github.com/airgate-io/airgate/internal/server"
	"github.com/airgate-io/airgate/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// The monolith runs the API and every scheduler job in one process.
// Split deployments use apps/api and apps/scheduler instead.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		seed.Module,

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
