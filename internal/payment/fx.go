package payment

import (
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/payment/adapters"
	"github.com/creditrail/creditrail/internal/payment/adapters/creem"
	"github.com/creditrail/creditrail/internal/payment/webhook"
	"go.uber.org/fx"
)

func provideRegistry(cfg config.Config) *adapters.Registry {
	return adapters.NewRegistry(
		creem.New(cfg.Creem),
	)
}

var Module = fx.Module("payment",
	fx.Provide(provideRegistry),
	fx.Provide(webhook.NewService),
)
