package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/clock"
	"github.com/smallbiznis/creditline/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Processor domain.Processor
	Resolver  *Resolver
	Clock     clock.Clock `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	processor domain.Processor
	resolver  *Resolver
	clock     clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		processor: p.Processor,
		resolver:  p.Resolver,
		clock:     clk,
	}
}

func (s *Service) Sync(ctx context.Context, req domain.SyncRequest) (*domain.Subscription, error) {
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if subscriptionID == "" {
		return nil, domain.ErrInvalidSubscriptionID
	}

	remote, err := s.processor.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}
	if remote == nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	customerID := strings.TrimSpace(remote.CustomerID)
	if customerID == "" {
		customerID = strings.TrimSpace(req.CustomerID)
	}

	userID, err := s.resolver.ResolveUserID(ctx, customerID, remote.Metadata, req.InitialMetadata)
	if err != nil {
		s.log.Error("subscription sync skipped",
			zap.String("subscription_id", subscriptionID),
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return nil, err
	}

	planID, err := s.resolver.ResolvePlanID(ctx, remote.PriceID, remote.Metadata, req.InitialMetadata)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	mirror := &domain.Subscription{
		ID:                   s.genID.Generate(),
		UserID:               userID,
		StripeSubscriptionID: remote.ID,
		StripeCustomerID:     customerID,
		PriceID:              remote.PriceID,
		Status:               remote.Status,
		CurrentPeriodStart:   remote.CurrentPeriodStart,
		CurrentPeriodEnd:     remote.CurrentPeriodEnd,
		CancelAtPeriodEnd:    remote.CancelAtPeriodEnd,
		CanceledAt:           remote.CanceledAt,
		EndedAt:              remote.EndedAt,
		TrialStart:           remote.TrialStart,
		TrialEnd:             remote.TrialEnd,
		Metadata:             toJSONMap(remote.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if mirror.StripeSubscriptionID == "" {
		mirror.StripeSubscriptionID = subscriptionID
	}
	if planID != "" {
		mirror.PlanID = &planID
	}

	if err := s.repo.Upsert(ctx, s.db, mirror); err != nil {
		return nil, err
	}
	stored, err := s.repo.FindByStripeID(ctx, s.db, mirror.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	s.log.Info("subscription synced",
		zap.String("subscription_id", stored.StripeSubscriptionID),
		zap.String("user_id", stored.UserID),
		zap.String("status", stored.Status),
		zap.Stringp("plan_id", stored.PlanID),
	)
	return stored, nil
}

func (s *Service) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	stripeSubscriptionID = strings.TrimSpace(stripeSubscriptionID)
	if stripeSubscriptionID == "" {
		return nil, domain.ErrInvalidSubscriptionID
	}
	item, err := s.repo.FindByStripeID(ctx, s.db, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return item, nil
}

func toJSONMap(m map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range m {
		out[k] = v
	}
	return out
}
