package ledger

import (
	"github.com/nubomail/nubo/internal/ledger/repository"
	"github.com/nubomail/nubo/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
