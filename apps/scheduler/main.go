package main

import (
	"github.com/airgate-io/airgate/internal/clock"
	"github.com/airgate-io/airgate/internal/config"
	"github.com/airgate-io/airgate/internal/observability"
	"github.com/airgate-io/airgate/internal/ratelimit"
	"github.com/airgate-io/airgate/internal/rollup"
	"github.com/airgate-io/airgate/internal/scheduler"
	"github.com/airgate-io/airgate/internal/webhook"
	"github.com/airgate-io/airgate/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// Scheduler-only deployment. SCHEDULER_ENABLED_JOBS narrows the job set
// when fanout and dispatch run in their own instances.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		rollup.Module,
		webhook.Module,
		ratelimit.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	// Node 1 belongs to the api process.
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
