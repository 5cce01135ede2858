package repository

import (
	"context"

	"github.com/smallbiznis/creditline/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, plan_id, stripe_subscription_id, stripe_customer_id, price_id, status,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at, ended_at,
			trial_start, trial_end, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_id = excluded.user_id,
			plan_id = excluded.plan_id,
			stripe_customer_id = excluded.stripe_customer_id,
			price_id = excluded.price_id,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			canceled_at = excluded.canceled_at,
			ended_at = excluded.ended_at,
			trial_start = excluded.trial_start,
			trial_end = excluded.trial_end,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		subscription.ID,
		subscription.UserID,
		subscription.PlanID,
		subscription.StripeSubscriptionID,
		subscription.StripeCustomerID,
		subscription.PriceID,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.EndedAt,
		subscription.TrialStart,
		subscription.TrialEnd,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, plan_id, stripe_subscription_id, stripe_customer_id, price_id, status,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at, ended_at,
			trial_start, trial_end, metadata, created_at, updated_at
		 FROM subscriptions
		 WHERE stripe_subscription_id = ?
		 LIMIT 1`,
		stripeSubscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
