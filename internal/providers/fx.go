package providers

import (
	"github.com/nubomail/nubo/internal/providers/pdf"
	"github.com/nubomail/nubo/internal/providers/razorpay"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fx.Provide(razorpay.New),
	fx.Provide(pdf.NewProvider),
)
