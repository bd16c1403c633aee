package usage

import (
	"github.com/airgate-io/airgate/internal/usage/repository"
	"github.com/airgate-io/airgate/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
