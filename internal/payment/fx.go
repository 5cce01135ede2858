package payment

import (
	"github.com/smallbiznis/creditline/internal/payment/repository"
	"github.com/smallbiznis/creditline/internal/payment/stripe"
	"github.com/smallbiznis/creditline/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	stripe.Module,
	fx.Provide(repository.Provide),
	fx.Provide(webhook.NewService),
)
