package subscription

import (
	"github.com/smallbiznis/creditline/internal/subscription/repository"
	"github.com/smallbiznis/creditline/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewResolver),
	fx.Provide(service.NewService),
)
