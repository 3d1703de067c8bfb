package mailcow

import "go.uber.org/fx"

var Module = fx.Module("mailcow",
	fx.Provide(New),
)
