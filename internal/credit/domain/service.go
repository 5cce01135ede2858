package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// EnsureBalance creates a zero balance row for userID when none exists.
	EnsureBalance(ctx context.Context, db *gorm.DB, userID string, now time.Time) error
	LockBalance(ctx context.Context, db *gorm.DB, userID string) (*UsageBalance, error)
	GetBalance(ctx context.Context, db *gorm.DB, userID string) (*UsageBalance, error)
	UpdateBalance(ctx context.Context, db *gorm.DB, balance *UsageBalance) error
	InsertLog(ctx context.Context, db *gorm.DB, log *CreditLog) error
	ListLogs(ctx context.Context, db *gorm.DB, filter ListLogsFilter) ([]CreditLog, error)
	CountOrderLogs(ctx context.Context, db *gorm.DB, userID string, orderID snowflake.ID, logType LogType) (int64, error)
	// ListAllocated pages through balances carrying an allocation, ordered by user id.
	ListAllocated(ctx context.Context, db *gorm.DB, afterUserID string, limit int) ([]UsageBalance, error)
}

type ListLogsFilter struct {
	UserID  string
	AfterID snowflake.ID
	Limit   int
}

type Service interface {
	Grant(ctx context.Context, req GrantRequest) (*UsageBalance, error)
	SetSubscriptionBalance(ctx context.Context, req SetSubscriptionBalanceRequest) (*UsageBalance, error)
	Revoke(ctx context.Context, req RevokeRequest) (*RevokeResult, error)
	AdvanceYearlyAllocation(ctx context.Context, userID string, now time.Time) (*AdvanceResult, error)
	GetBalance(ctx context.Context, userID string) (*BalanceView, error)
	ListLogs(ctx context.Context, req ListLogsRequest) (*ListLogsResponse, error)
	Reconcile(ctx context.Context, userID string) (*Reconciliation, error)
	// HasOrderLog reports whether an order's ledger effect was already applied.
	HasOrderLog(ctx context.Context, userID string, orderID snowflake.ID, logType LogType) (bool, error)
	ListDueYearlyAllocations(ctx context.Context, afterUserID string, limit int, now time.Time) (*DueAllocations, error)
}

// GrantRequest adds Amount to the one-time pool.
type GrantRequest struct {
	UserID  string
	Amount  int64
	OrderID *snowflake.ID
	Type    LogType
	Notes   string
}

// SetSubscriptionBalanceRequest overwrites the subscription pool with Amount.
type SetSubscriptionBalanceRequest struct {
	UserID     string
	Amount     int64
	OrderID    *snowflake.ID
	Allocation Allocation
	Notes      string
}

// RevokeRequest removes up to Amount from Field, or the whole field when All is set.
type RevokeRequest struct {
	UserID  string
	Field   BalanceField
	Amount  int64
	All     bool
	OrderID *snowflake.ID
	Type    LogType
	Notes   string
}

type RevokeResult struct {
	Balance UsageBalance
	// Revoked is the amount actually removed after clamping.
	Revoked int64
}

type AdvanceResult struct {
	Balance  UsageBalance
	Advanced bool
}

type BalanceView struct {
	UserID       string     `json:"user_id"`
	OneTime      int64      `json:"one_time_credits_balance"`
	Subscription int64      `json:"subscription_credits_balance"`
	Total        int64      `json:"total"`
	Allocation   Allocation `json:"allocation"`
}

type ListLogsRequest struct {
	UserID    string
	PageToken string
	PageSize  int
}

type ListLogsResponse struct {
	Logs          []CreditLog `json:"logs"`
	NextPageToken string      `json:"next_page_token,omitempty"`
}

type DueAllocations struct {
	UserIDs []string
	// NextCursor is empty once the scan reached the end.
	NextCursor string
}
