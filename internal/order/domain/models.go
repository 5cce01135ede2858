package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderType string

const (
	OrderTypeOneTimePurchase     OrderType = "one_time_purchase"
	OrderTypeSubscriptionInitial OrderType = "subscription_initial"
	OrderTypeSubscriptionRenewal OrderType = "subscription_renewal"
	OrderTypeRefund              OrderType = "refund"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeOneTimePurchase, OrderTypeSubscriptionInitial, OrderTypeSubscriptionRenewal, OrderTypeRefund:
		return true
	}
	return false
}

// Purchase reports whether t carries credits that a refund can revoke.
func (t OrderType) Purchase() bool {
	return t == OrderTypeOneTimePurchase || t == OrderTypeSubscriptionInitial || t == OrderTypeSubscriptionRenewal
}

const ProviderStripe = "stripe"

// Order is one row per external financial object. Rows are never updated.
type Order struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID                string            `json:"user_id" gorm:"type:text;not null;index"`
	Provider              string            `json:"provider" gorm:"type:text;not null"`
	ProviderOrderID       string            `json:"provider_order_id" gorm:"type:text;not null"`
	OrderType             OrderType         `json:"order_type" gorm:"type:text;not null"`
	Status                string            `json:"status" gorm:"type:text;not null"`
	PlanID                *string           `json:"plan_id,omitempty"`
	StripePaymentIntentID string            `json:"stripe_payment_intent_id,omitempty"`
	StripeInvoiceID       string            `json:"stripe_invoice_id,omitempty"`
	StripeChargeID        string            `json:"stripe_charge_id,omitempty"`
	SubscriptionID        string            `json:"subscription_id,omitempty"`
	AmountSubtotal        decimal.Decimal   `json:"amount_subtotal" gorm:"type:numeric(12,2)"`
	AmountDiscount        decimal.Decimal   `json:"amount_discount" gorm:"type:numeric(12,2)"`
	AmountTax             decimal.Decimal   `json:"amount_tax" gorm:"type:numeric(12,2)"`
	AmountTotal           decimal.Decimal   `json:"amount_total" gorm:"type:numeric(12,2)"`
	Currency              string            `json:"currency" gorm:"type:text;not null"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time         `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }
