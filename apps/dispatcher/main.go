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

// Webhook-only deployment. Runs the scheduler loop pinned to the
// fanout and delivery jobs so endpoint latency never slows folding.
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
		fx.Decorate(func(cfg scheduler.Config) scheduler.Config {
			cfg.EnabledJobs = []string{scheduler.JobWebhookFanout, scheduler.JobWebhookSend}
			return cfg
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	// Nodes 1 and 2 belong to the api and scheduler processes.
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
