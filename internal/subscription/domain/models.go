// Package domain holds the local mirror of processor subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Subscription is a projection of the processor's subscription. It is
// overwritten on every sync and never treated as the source of truth.
type Subscription struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID               string            `json:"user_id" gorm:"type:text;not null;index"`
	PlanID               *string           `json:"plan_id,omitempty" gorm:"type:text"`
	StripeSubscriptionID string            `json:"stripe_subscription_id" gorm:"type:text;not null;uniqueIndex"`
	StripeCustomerID     string            `json:"stripe_customer_id" gorm:"type:text;not null"`
	PriceID              string            `json:"price_id,omitempty" gorm:"type:text"`
	Status               string            `json:"status" gorm:"type:text;not null"`
	CurrentPeriodStart   *time.Time        `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time        `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool              `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CanceledAt           *time.Time        `json:"canceled_at,omitempty"`
	EndedAt              *time.Time        `json:"ended_at,omitempty"`
	TrialStart           *time.Time        `json:"trial_start,omitempty"`
	TrialEnd             *time.Time        `json:"trial_end,omitempty"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Metadata keys set on processor objects by checkout.
const (
	MetadataUserID = "userId"
	MetadataPlanID = "planId"
)
