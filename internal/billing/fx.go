package billing

import (
	"github.com/nubomail/nubo/internal/billing/repository"
	"github.com/nubomail/nubo/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
