package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentTypeOneTime   PaymentType = "one_time"
	PaymentTypeRecurring PaymentType = "recurring"
)

type RecurringInterval string

const (
	IntervalMonth RecurringInterval = "month"
	IntervalYear  RecurringInterval = "year"
)

// Plan is read-only pricing data maintained outside this service.
type Plan struct {
	ID                string            `json:"id" gorm:"primaryKey;type:text"`
	Name              string            `json:"name"`
	PaymentType       PaymentType       `json:"payment_type"`
	RecurringInterval RecurringInterval `json:"recurring_interval,omitempty"`
	StripePriceID     string            `json:"stripe_price_id,omitempty"`
	BenefitsJSON      datatypes.JSON    `json:"benefits_jsonb" gorm:"column:benefits_jsonb;type:jsonb"`
	IsActive          bool              `json:"is_active"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (Plan) TableName() string { return "pricing_plans" }

type Benefits struct {
	OneTimeCredits int64 `json:"oneTimeCredits,omitempty"`
	MonthlyCredits int64 `json:"monthlyCredits,omitempty"`
	TotalMonths    int   `json:"totalMonths,omitempty"`
}

func (p Plan) Benefits() (Benefits, error) {
	var b Benefits
	if len(p.BenefitsJSON) == 0 || string(p.BenefitsJSON) == "null" {
		return b, nil
	}
	if err := json.Unmarshal(p.BenefitsJSON, &b); err != nil {
		return Benefits{}, fmt.Errorf("%w: %v", ErrInvalidBenefits, err)
	}
	if b.OneTimeCredits < 0 || b.MonthlyCredits < 0 || b.TotalMonths < 0 {
		return Benefits{}, ErrInvalidBenefits
	}
	return b, nil
}

func (p Plan) Yearly() bool {
	return p.PaymentType == PaymentTypeRecurring && p.RecurringInterval == IntervalYear
}
