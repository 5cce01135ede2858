package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts the mirror row or overwrites every mutable column.
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*Subscription, error)
}

type SyncRequest struct {
	SubscriptionID string
	// CustomerID is used when the processor object omits it.
	CustomerID string
	// InitialMetadata is consulted after the subscription's own metadata,
	// e.g. checkout session or invoice line metadata.
	InitialMetadata map[string]string
}

type Service interface {
	Sync(ctx context.Context, req SyncRequest) (*Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
}

var (
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrUserResolutionFailed  = errors.New("user_resolution_failed")
)
