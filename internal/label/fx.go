package label

import (
	labeldomain "github.com/airgate-io/airgate/internal/label/domain"
	"github.com/airgate-io/airgate/internal/label/repository"
	"github.com/airgate-io/airgate/internal/label/service"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("label.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(repo labeldomain.Repository) simdomain.LabelWriter {
		return repo
	}),
)
