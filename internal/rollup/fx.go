package rollup

import (
	"github.com/airgate-io/airgate/internal/rollup/repository"
	"github.com/airgate-io/airgate/internal/rollup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rollup.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
