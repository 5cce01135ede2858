package repository

import (
	"context"

	"github.com/smallbiznis/creditline/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id string) (*domain.Plan, error) {
	return r.findOne(ctx, db,
		`SELECT id, name, payment_type, recurring_interval, stripe_price_id, benefits_jsonb, is_active, created_at
		 FROM pricing_plans
		 WHERE id = ?
		 LIMIT 1`,
		id,
	)
}

func (r *repo) GetByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*domain.Plan, error) {
	return r.findOne(ctx, db,
		`SELECT id, name, payment_type, recurring_interval, stripe_price_id, benefits_jsonb, is_active, created_at
		 FROM pricing_plans
		 WHERE stripe_price_id = ? AND is_active = TRUE
		 ORDER BY created_at DESC
		 LIMIT 1`,
		priceID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Plan, error) {
	var item domain.Plan
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}
