package repository

import (
	"context"

	"github.com/smallbiznis/creditline/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByStripeCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, stripe_customer_id, created_at
		 FROM users
		 WHERE stripe_customer_id = ?
		 LIMIT 1`,
		customerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

// GetStripeCustomerID returns "" when the user has no processor customer yet.
func (r *repo) GetStripeCustomerID(ctx context.Context, db *gorm.DB, userID string) (string, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, stripe_customer_id
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		userID,
	).Scan(&item).Error
	if err != nil {
		return "", err
	}
	if item.ID == "" {
		return "", domain.ErrUserNotFound
	}
	if item.StripeCustomerID == nil {
		return "", nil
	}
	return *item.StripeCustomerID, nil
}
