package apikey

import (
	"github.com/nubomail/nubo/internal/apikey/repository"
	"github.com/nubomail/nubo/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey",
	fx.Provide(
		repository.NewRepository,
		service.New,
	),
)
