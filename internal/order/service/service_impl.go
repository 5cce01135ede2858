package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/clock"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/internal/order/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req domain.NewOrder) (*domain.Order, bool, error) {
	order, err := s.buildOrder(req)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByProviderOrderID(ctx, s.db, order.Provider, order.ProviderOrderID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.recordDuplicate(ctx, existing)
		return existing, false, nil
	}

	inserted, err := s.repo.Insert(ctx, s.db, order)
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, false, err
	}
	if err != nil || !inserted {
		// lost the race to a concurrent delivery of the same order
		existing, err := s.repo.FindByProviderOrderID(ctx, s.db, order.Provider, order.ProviderOrderID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, domain.ErrOrderNotFound
		}
		s.recordDuplicate(ctx, existing)
		return existing, false, nil
	}

	s.obsMetrics.RecordOrder(ctx, string(order.OrderType), false)
	s.log.Info("order recorded",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID),
		zap.String("provider_order_id", order.ProviderOrderID),
		zap.String("order_type", string(order.OrderType)),
		zap.String("amount_total", order.AmountTotal.StringFixed(2)),
		zap.String("currency", order.Currency),
	)
	return order, true, nil
}

func (s *Service) FindOriginalPurchase(ctx context.Context, provider, paymentIntentID, invoiceID string) (*domain.Order, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	if paymentIntentID = strings.TrimSpace(paymentIntentID); paymentIntentID != "" {
		order, err := s.repo.FindPurchaseByPaymentIntent(ctx, s.db, provider, paymentIntentID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	if invoiceID = strings.TrimSpace(invoiceID); invoiceID != "" {
		order, err := s.repo.FindPurchaseByInvoice(ctx, s.db, provider, invoiceID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *Service) buildOrder(req domain.NewOrder) (*domain.Order, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	providerOrderID := strings.TrimSpace(req.ProviderOrderID)
	if providerOrderID == "" {
		return nil, domain.ErrInvalidProviderOrderID
	}
	if !req.OrderType.Valid() {
		return nil, domain.ErrInvalidOrderType
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidCurrency
	}

	var planID *string
	if v := strings.TrimSpace(req.PlanID); v != "" {
		planID = &v
	}
	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := s.clock.Now().UTC()
	return &domain.Order{
		ID:                    s.genID.Generate(),
		UserID:                userID,
		Provider:              provider,
		ProviderOrderID:       providerOrderID,
		OrderType:             req.OrderType,
		Status:                strings.TrimSpace(req.Status),
		PlanID:                planID,
		StripePaymentIntentID: strings.TrimSpace(req.StripePaymentIntentID),
		StripeInvoiceID:       strings.TrimSpace(req.StripeInvoiceID),
		StripeChargeID:        strings.TrimSpace(req.StripeChargeID),
		SubscriptionID:        strings.TrimSpace(req.SubscriptionID),
		AmountSubtotal:        req.AmountSubtotal,
		AmountDiscount:        req.AmountDiscount,
		AmountTax:             req.AmountTax,
		AmountTotal:           req.AmountTotal,
		Currency:              currency,
		Metadata:              metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

func (s *Service) recordDuplicate(ctx context.Context, existing *domain.Order) {
	s.obsMetrics.RecordOrder(ctx, string(existing.OrderType), true)
	s.log.Info("order already recorded",
		zap.String("order_id", existing.ID.String()),
		zap.String("provider_order_id", existing.ProviderOrderID),
	)
}
