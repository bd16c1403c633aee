package audit

import (
	"github.com/airgate-io/airgate/internal/audit/repository"
	"github.com/airgate-io/airgate/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
