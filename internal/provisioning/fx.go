package provisioning

import (
	"github.com/nubomail/nubo/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.service",
	fx.Provide(service.NewOrchestrator),
)
