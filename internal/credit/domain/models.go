package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BalanceField names one of the two independent credit pools.
type BalanceField string

const (
	FieldOneTime      BalanceField = "one_time_credits_balance"
	FieldSubscription BalanceField = "subscription_credits_balance"
)

func (f BalanceField) Valid() bool {
	return f == FieldOneTime || f == FieldSubscription
}

type LogType string

const (
	LogTypePurchase          LogType = "purchase"
	LogTypeSubscriptionGrant LogType = "subscription_grant"
	LogTypeCancelRevoke      LogType = "cancel_revoke"
	LogTypeRefundRevoke      LogType = "refund_revoke"
)

func (t LogType) Valid() bool {
	switch t {
	case LogTypePurchase, LogTypeSubscriptionGrant, LogTypeCancelRevoke, LogTypeRefundRevoke:
		return true
	default:
		return false
	}
}

// UsageBalance is the per-user balance row. Both balances stay non-negative.
type UsageBalance struct {
	UserID                     string         `json:"user_id" gorm:"primaryKey;type:text"`
	SubscriptionCreditsBalance int64          `json:"subscription_credits_balance" gorm:"not null"`
	OneTimeCreditsBalance      int64          `json:"one_time_credits_balance" gorm:"not null"`
	BalanceJSON                datatypes.JSON `json:"balance_jsonb,omitempty" gorm:"column:balance_jsonb;type:jsonb"`
	CreatedAt                  time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt                  time.Time      `json:"updated_at" gorm:"not null"`
}

func (UsageBalance) TableName() string { return "usage_balances" }

func (b UsageBalance) Total() int64 {
	return b.SubscriptionCreditsBalance + b.OneTimeCreditsBalance
}

// Get returns the balance held in field.
func (b UsageBalance) Get(field BalanceField) int64 {
	if field == FieldSubscription {
		return b.SubscriptionCreditsBalance
	}
	return b.OneTimeCreditsBalance
}

// Set overwrites field with value.
func (b *UsageBalance) Set(field BalanceField, value int64) {
	if field == FieldSubscription {
		b.SubscriptionCreditsBalance = value
		return
	}
	b.OneTimeCreditsBalance = value
}

// CreditLog is an append-only record of one balance mutation.
type CreditLog struct {
	ID                       snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID                   string        `json:"user_id" gorm:"type:text;not null;index"`
	Field                    BalanceField  `json:"balance_field" gorm:"column:balance_field;type:text;not null"`
	Amount                   int64         `json:"amount" gorm:"not null"`
	OneTimeBalanceAfter      int64         `json:"one_time_balance_after" gorm:"not null"`
	SubscriptionBalanceAfter int64         `json:"subscription_balance_after" gorm:"not null"`
	Type                     LogType       `json:"type" gorm:"type:text;not null"`
	Notes                    string        `json:"notes,omitempty"`
	RelatedOrderID           *snowflake.ID `json:"related_order_id,omitempty"`
	CreatedAt                time.Time     `json:"created_at" gorm:"not null"`
}

func (CreditLog) TableName() string { return "credit_logs" }

// Reconciliation compares the stored balance against the credit log.
// Expected folds every logged delta from zero into the field it touched;
// LastSnapshot is the post-mutation balance recorded on the newest log.
type Reconciliation struct {
	UserID        string         `json:"user_id"`
	Expected      BalanceSummary `json:"expected"`
	ExpectedTotal int64          `json:"expected_total"`
	StoredTotal   int64          `json:"stored_total"`
	LastSnapshot  BalanceSummary `json:"last_snapshot"`
	Stored        BalanceSummary `json:"stored"`
	LogCount      int            `json:"log_count"`
	// BrokenAt is the first log whose snapshot does not follow from its predecessor.
	BrokenAt   *snowflake.ID `json:"broken_at,omitempty"`
	Consistent bool          `json:"consistent"`
}

type BalanceSummary struct {
	OneTime      int64 `json:"one_time"`
	Subscription int64 `json:"subscription"`
}

func (b BalanceSummary) Total() int64 {
	return b.OneTime + b.Subscription
}

// Add returns b with amount applied to field.
func (b BalanceSummary) Add(field BalanceField, amount int64) BalanceSummary {
	switch field {
	case FieldOneTime:
		b.OneTime += amount
	case FieldSubscription:
		b.Subscription += amount
	}
	return b
}
