package service

import (
	"context"
	"errors"
	"strings"

	plandomain "github.com/smallbiznis/creditline/internal/plan/domain"
	"github.com/smallbiznis/creditline/internal/subscription/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ResolverParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Processor domain.Processor
	Users     userdomain.Repository
	Plans     plandomain.Service
}

// Resolver maps processor objects to local user and plan ids through ordered
// fallback chains.
type Resolver struct {
	db        *gorm.DB
	log       *zap.Logger
	processor domain.Processor
	users     userdomain.Repository
	plans     plandomain.Service
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		db:        p.DB,
		log:       p.Log.Named("subscription.resolver"),
		processor: p.Processor,
		users:     p.Users,
		plans:     p.Plans,
	}
}

// ResolveUserID tries each metadata map in order, then the processor
// customer's metadata, then the local directory by customer id.
func (r *Resolver) ResolveUserID(ctx context.Context, customerID string, metadata ...map[string]string) (string, error) {
	for _, m := range metadata {
		if userID := metadataValue(m, domain.MetadataUserID); userID != "" {
			return userID, nil
		}
	}

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", domain.ErrUserResolutionFailed
	}

	if r.processor != nil {
		customer, err := r.processor.GetCustomer(ctx, customerID)
		if err != nil {
			r.log.Warn("customer lookup failed", zap.String("customer_id", customerID), zap.Error(err))
		} else if customer != nil && !customer.Deleted {
			if userID := metadataValue(customer.Metadata, domain.MetadataUserID); userID != "" {
				return userID, nil
			}
		}
	}

	user, err := r.users.FindByStripeCustomerID(ctx, r.db, customerID)
	if err != nil {
		return "", err
	}
	if user != nil {
		return user.ID, nil
	}

	r.log.Warn("user resolution failed", zap.String("customer_id", customerID))
	return "", domain.ErrUserResolutionFailed
}

// ResolvePlanID prefers metadata planId and falls back to the price id. An
// unresolved plan yields "" without error.
func (r *Resolver) ResolvePlanID(ctx context.Context, priceID string, metadata ...map[string]string) (string, error) {
	for _, m := range metadata {
		if planID := metadataValue(m, domain.MetadataPlanID); planID != "" {
			return planID, nil
		}
	}

	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return "", nil
	}
	plan, err := r.plans.GetByPriceID(ctx, priceID)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			r.log.Warn("no plan for price", zap.String("price_id", priceID))
			return "", nil
		}
		return "", err
	}
	return plan.ID, nil
}

func metadataValue(m map[string]string, key string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[key])
}
