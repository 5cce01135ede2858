package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// User is the subset of the account directory the ledger reads.
type User struct {
	ID               string    `json:"id" gorm:"primaryKey;type:text"`
	Email            string    `json:"email"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

type Repository interface {
	FindByStripeCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*User, error)
	GetStripeCustomerID(ctx context.Context, db *gorm.DB, userID string) (string, error)
}

var ErrUserNotFound = errors.New("user_not_found")
