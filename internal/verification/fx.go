package verification

import (
	"github.com/nubomail/nubo/internal/verification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("verification.service",
	fx.Provide(service.NewResolver),
	fx.Provide(service.NewService),
)
