package webhook

import (
	"github.com/airgate-io/airgate/internal/webhook/repository"
	"github.com/airgate-io/airgate/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewRegistry),
	fx.Provide(service.NewPublisher),
)
