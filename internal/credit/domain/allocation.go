package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AllocationKind string

const (
	AllocationNone    AllocationKind = ""
	AllocationMonthly AllocationKind = "monthly"
	AllocationYearly  AllocationKind = "yearly"
)

const DateLayout = "2006-01-02"
const MonthLayout = "2006-01"

// Allocation describes how the subscription pool is replenished.
// Exactly one of Monthly or Yearly is set for a non-empty kind.
type Allocation struct {
	Kind    AllocationKind     `json:"kind"`
	Monthly *MonthlyAllocation `json:"monthly,omitempty"`
	Yearly  *YearlyAllocation  `json:"yearly,omitempty"`
}

type MonthlyAllocation struct {
	MonthlyCredits int64        `json:"monthlyCredits"`
	RelatedOrderID snowflake.ID `json:"relatedOrderId"`
	AllocatedAt    time.Time    `json:"allocatedAt"`
}

type YearlyAllocation struct {
	MonthlyCredits     int64        `json:"monthlyCredits"`
	TotalMonths        int          `json:"totalMonths"`
	RemainingMonths    int          `json:"remainingMonths"`
	NextCreditDate     string       `json:"nextCreditDate"`
	LastAllocatedMonth string       `json:"lastAllocatedMonth"`
	RelatedOrderID     snowflake.ID `json:"relatedOrderId"`
}

func NoAllocation() Allocation { return Allocation{} }

func NewMonthlyAllocation(monthlyCredits int64, orderID snowflake.ID, allocatedAt time.Time) Allocation {
	return Allocation{
		Kind: AllocationMonthly,
		Monthly: &MonthlyAllocation{
			MonthlyCredits: monthlyCredits,
			RelatedOrderID: orderID,
			AllocatedAt:    allocatedAt.UTC(),
		},
	}
}

// NewYearlyAllocation seeds a yearly plan at start. The first month is granted
// immediately, so totalMonths-1 remain and the next grant is one calendar month later.
func NewYearlyAllocation(monthlyCredits int64, totalMonths int, start time.Time, orderID snowflake.ID) Allocation {
	start = start.UTC()
	remaining := totalMonths - 1
	if remaining < 0 {
		remaining = 0
	}
	return Allocation{
		Kind: AllocationYearly,
		Yearly: &YearlyAllocation{
			MonthlyCredits:     monthlyCredits,
			TotalMonths:        totalMonths,
			RemainingMonths:    remaining,
			NextCreditDate:     AddMonths(start, 1).Format(DateLayout),
			LastAllocatedMonth: start.Format(MonthLayout),
			RelatedOrderID:     orderID,
		},
	}
}

func (a Allocation) IsNone() bool { return a.Kind == AllocationNone }

func (a Allocation) Validate() error {
	switch a.Kind {
	case AllocationNone:
		if a.Monthly != nil || a.Yearly != nil {
			return ErrInvalidAllocation
		}
	case AllocationMonthly:
		if a.Monthly == nil || a.Yearly != nil || a.Monthly.MonthlyCredits < 0 {
			return ErrInvalidAllocation
		}
	case AllocationYearly:
		if a.Yearly == nil || a.Monthly != nil {
			return ErrInvalidAllocation
		}
		y := a.Yearly
		if y.MonthlyCredits < 0 || y.TotalMonths < 1 || y.RemainingMonths < 0 || y.RemainingMonths >= y.TotalMonths {
			return ErrInvalidAllocation
		}
		if _, err := time.Parse(DateLayout, y.NextCreditDate); err != nil {
			return ErrInvalidAllocation
		}
	default:
		return ErrInvalidAllocation
	}
	return nil
}

// Due reports whether a yearly allocation has a grant pending at now.
func (y YearlyAllocation) Due(now time.Time) bool {
	if y.RemainingMonths <= 0 {
		return false
	}
	next, err := time.Parse(DateLayout, y.NextCreditDate)
	if err != nil {
		return false
	}
	return !now.UTC().Before(next)
}

// Advance returns the allocation after one monthly grant on the scheduled date.
func (y YearlyAllocation) Advance() (YearlyAllocation, error) {
	next, err := time.Parse(DateLayout, y.NextCreditDate)
	if err != nil {
		return y, fmt.Errorf("parse next credit date: %w", err)
	}
	out := y
	out.RemainingMonths--
	out.LastAllocatedMonth = next.Format(MonthLayout)
	out.NextCreditDate = AddMonths(next, 1).Format(DateLayout)
	return out, nil
}

// AddMonths adds n calendar months, clamping to the last day of the target month.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// MarshalAllocation encodes a for the balance_jsonb column; none encodes to nil.
func MarshalAllocation(a Allocation) ([]byte, error) {
	if a.IsNone() {
		return nil, nil
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(a)
}

// UnmarshalAllocation decodes the balance_jsonb column.
func UnmarshalAllocation(raw []byte) (Allocation, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return NoAllocation(), nil
	}
	var a Allocation
	if err := json.Unmarshal(raw, &a); err != nil {
		return NoAllocation(), fmt.Errorf("%w: %v", ErrInvalidAllocation, err)
	}
	if err := a.Validate(); err != nil {
		return NoAllocation(), err
	}
	return a, nil
}
