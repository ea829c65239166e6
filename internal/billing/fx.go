package billing

import (
	"github.com/creditrail/creditrail/internal/billing/repository"
	"github.com/creditrail/creditrail/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
