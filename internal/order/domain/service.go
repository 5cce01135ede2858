package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	FindByProviderOrderID(ctx context.Context, db *gorm.DB, provider, providerOrderID string) (*Order, error)
	// Insert reports false when (provider, provider_order_id) already exists.
	Insert(ctx context.Context, db *gorm.DB, order *Order) (bool, error)
	FindPurchaseByPaymentIntent(ctx context.Context, db *gorm.DB, provider, paymentIntentID string) (*Order, error)
	FindPurchaseByInvoice(ctx context.Context, db *gorm.DB, provider, invoiceID string) (*Order, error)
}

// NewOrder carries amounts already converted from minor units.
type NewOrder struct {
	UserID                string
	Provider              string
	ProviderOrderID       string
	OrderType             OrderType
	Status                string
	PlanID                string
	StripePaymentIntentID string
	StripeInvoiceID       string
	StripeChargeID        string
	SubscriptionID        string
	AmountSubtotal        decimal.Decimal
	AmountDiscount        decimal.Decimal
	AmountTax             decimal.Decimal
	AmountTotal           decimal.Decimal
	Currency              string
	Metadata              map[string]any
}

type Service interface {
	// Record inserts the order once; replays return the stored row with inserted=false.
	Record(ctx context.Context, req NewOrder) (*Order, bool, error)
	// FindOriginalPurchase looks the refunded purchase up by payment intent, then by invoice.
	FindOriginalPurchase(ctx context.Context, provider, paymentIntentID, invoiceID string) (*Order, error)
}

var (
	ErrInvalidUser            = errors.New("invalid_user")
	ErrInvalidProvider        = errors.New("invalid_provider")
	ErrInvalidProviderOrderID = errors.New("invalid_provider_order_id")
	ErrInvalidOrderType       = errors.New("invalid_order_type")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrOrderNotFound          = errors.New("order_not_found")
)
