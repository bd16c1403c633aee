package sim

import (
	"github.com/airgate-io/airgate/internal/sim/repository"
	"github.com/airgate-io/airgate/internal/sim/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sim.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
