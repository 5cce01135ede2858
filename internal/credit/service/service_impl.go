package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/clock"
	"github.com/smallbiznis/creditline/internal/config"
	"github.com/smallbiznis/creditline/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/pkg/db/pagination"
	"github.com/smallbiznis/creditline/pkg/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Clock      clock.Clock                 `optional:"true"`
	Config     *config.CreditsConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	cfg        *config.CreditsConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewStaticCreditsConfigHolder(config.DefaultCreditsConfig())
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      clk,
		cfg:        cfg,
		obsMetrics: p.ObsMetrics,
	}
}

// change is what a mutation wants persisted; a nil change leaves the row untouched.
type change struct {
	field   domain.BalanceField
	amount  int64
	logType domain.LogType
	notes   string
	orderID *snowflake.ID
	// skipLog persists the balance row without a credit log.
	skipLog bool
}

type mutateFunc func(now time.Time, balance *domain.UsageBalance) (*change, error)

func (s *Service) Grant(ctx context.Context, req domain.GrantRequest) (*domain.UsageBalance, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	logType := req.Type
	if logType == "" {
		logType = domain.LogTypePurchase
	}
	if !logType.Valid() {
		return nil, domain.ErrInvalidLogType
	}

	return s.mutate(ctx, "grant", userID, func(_ time.Time, balance *domain.UsageBalance) (*change, error) {
		if req.Amount == 0 {
			return nil, nil
		}
		balance.OneTimeCreditsBalance += req.Amount
		return &change{
			field:   domain.FieldOneTime,
			amount:  req.Amount,
			logType: logType,
			notes:   req.Notes,
			orderID: req.OrderID,
		}, nil
	})
}

func (s *Service) SetSubscriptionBalance(ctx context.Context, req domain.SetSubscriptionBalanceRequest) (*domain.UsageBalance, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	allocation, err := domain.MarshalAllocation(req.Allocation)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, "set_subscription", userID, func(_ time.Time, balance *domain.UsageBalance) (*change, error) {
		previous := balance.SubscriptionCreditsBalance
		balance.SubscriptionCreditsBalance = req.Amount
		balance.BalanceJSON = allocation
		return &change{
			field:   domain.FieldSubscription,
			amount:  req.Amount - previous,
			logType: domain.LogTypeSubscriptionGrant,
			notes:   req.Notes,
			orderID: req.OrderID,
		}, nil
	})
}

func (s *Service) Revoke(ctx context.Context, req domain.RevokeRequest) (*domain.RevokeResult, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if !req.Field.Valid() {
		return nil, domain.ErrInvalidField
	}
	if req.Amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.Type != domain.LogTypeCancelRevoke && req.Type != domain.LogTypeRefundRevoke {
		return nil, domain.ErrInvalidLogType
	}

	var revoked int64
	balance, err := s.mutate(ctx, "revoke", userID, func(_ time.Time, balance *domain.UsageBalance) (*change, error) {
		current := balance.Get(req.Field)
		actual := req.Amount
		if req.All || actual > current {
			actual = current
		}
		revoked = actual

		clearAllocation := req.Field == domain.FieldSubscription && hasAllocation(balance)
		if actual == 0 && !clearAllocation {
			return nil, nil
		}

		balance.Set(req.Field, current-actual)
		if req.Field == domain.FieldSubscription {
			balance.BalanceJSON = nil
		}
		return &change{
			field:   req.Field,
			amount:  -actual,
			logType: req.Type,
			notes:   req.Notes,
			orderID: req.OrderID,
			skipLog: actual == 0,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.RevokeResult{Balance: *balance, Revoked: revoked}, nil
}

func (s *Service) AdvanceYearlyAllocation(ctx context.Context, userID string, now time.Time) (*domain.AdvanceResult, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	advanced := false
	balance, err := s.mutate(ctx, "advance_yearly", userID, func(_ time.Time, balance *domain.UsageBalance) (*change, error) {
		allocation, err := domain.UnmarshalAllocation(balance.BalanceJSON)
		if err != nil {
			return nil, err
		}
		if allocation.Kind != domain.AllocationYearly || !allocation.Yearly.Due(now) {
			return nil, nil
		}

		next, err := allocation.Yearly.Advance()
		if err != nil {
			return nil, err
		}
		raw, err := domain.MarshalAllocation(domain.Allocation{Kind: domain.AllocationYearly, Yearly: &next})
		if err != nil {
			return nil, err
		}

		previous := balance.SubscriptionCreditsBalance
		balance.SubscriptionCreditsBalance = next.MonthlyCredits
		balance.BalanceJSON = raw
		advanced = true

		orderID := next.RelatedOrderID
		return &change{
			field:   domain.FieldSubscription,
			amount:  next.MonthlyCredits - previous,
			logType: domain.LogTypeSubscriptionGrant,
			notes:   fmt.Sprintf("yearly allocation %s (%d of %d)", next.LastAllocatedMonth, next.TotalMonths-next.RemainingMonths, next.TotalMonths),
			orderID: &orderID,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.AdvanceResult{Balance: *balance, Advanced: advanced}, nil
}

// mutate runs fn against the locked balance row inside one transaction, retrying
// the whole transaction under the configured policy.
func (s *Service) mutate(ctx context.Context, op string, userID string, fn mutateFunc) (*domain.UsageBalance, error) {
	var result domain.UsageBalance
	var logType domain.LogType

	err := retry.Do(ctx, s.retryPolicy(ctx, op, userID), func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now().UTC()
			if err := s.repo.EnsureBalance(ctx, tx, userID, now); err != nil {
				return err
			}
			balance, err := s.repo.LockBalance(ctx, tx, userID)
			if err != nil {
				return err
			}

			c, err := fn(now, balance)
			if err != nil {
				return retry.Permanent(err)
			}
			if c == nil {
				result = *balance
				return nil
			}
			if balance.OneTimeCreditsBalance < 0 || balance.SubscriptionCreditsBalance < 0 {
				return retry.Permanent(domain.ErrInvalidAmount)
			}

			balance.UpdatedAt = now
			if err := s.repo.UpdateBalance(ctx, tx, balance); err != nil {
				return err
			}
			if !c.skipLog {
				entry := &domain.CreditLog{
					ID:                       s.genID.Generate(),
					UserID:                   userID,
					Field:                    c.field,
					Amount:                   c.amount,
					OneTimeBalanceAfter:      balance.OneTimeCreditsBalance,
					SubscriptionBalanceAfter: balance.SubscriptionCreditsBalance,
					Type:                     c.logType,
					Notes:                    c.notes,
					RelatedOrderID:           c.orderID,
					CreatedAt:                now,
				}
				if err := s.repo.InsertLog(ctx, tx, entry); err != nil {
					return err
				}
				logType = c.logType
			}

			result = *balance
			return nil
		})
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			s.obsMetrics.RecordRetryExhausted(ctx, op)
			s.log.Error("credit mutation failed after retries",
				zap.String("op", op),
				zap.String("user_id", userID),
				zap.Int("attempts", exhausted.Attempts),
				zap.Error(exhausted.Err),
			)
		}
		return nil, err
	}

	if logType != "" {
		s.obsMetrics.RecordCreditMutation(ctx, op, string(logType))
	}
	return &result, nil
}

func (s *Service) retryPolicy(ctx context.Context, op string, userID string) retry.Policy {
	cfg := s.cfg.Get().Ledger.Retry
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     retry.Linear(cfg.BackoffStep),
		OnRetry: func(attempt int, err error) {
			s.obsMetrics.RecordRetryAttempt(ctx, op)
			s.log.Warn("credit mutation attempt failed",
				zap.String("op", op),
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}
}

func (s *Service) GetBalance(ctx context.Context, userID string) (*domain.BalanceView, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.GetBalance(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	view := &domain.BalanceView{UserID: userID}
	if balance == nil {
		return view, nil
	}

	allocation, err := domain.UnmarshalAllocation(balance.BalanceJSON)
	if err != nil {
		s.log.Warn("unreadable allocation", zap.String("user_id", userID), zap.Error(err))
		allocation = domain.NoAllocation()
	}
	view.OneTime = balance.OneTimeCreditsBalance
	view.Subscription = balance.SubscriptionCreditsBalance
	view.Total = balance.Total()
	view.Allocation = allocation
	return view, nil
}

func (s *Service) ListLogs(ctx context.Context, req domain.ListLogsRequest) (*domain.ListLogsResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	limit := page.Limit()

	var afterID snowflake.ID
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
	}

	items, err := s.repo.ListLogs(ctx, s.db, domain.ListLogsFilter{
		UserID:  userID,
		AfterID: afterID,
		Limit:   limit + 1,
	})
	if err != nil {
		return nil, err
	}

	items, info, err := pagination.Trim(items, limit, func(item domain.CreditLog) string {
		return item.ID.String()
	})
	if err != nil {
		return nil, err
	}
	return &domain.ListLogsResponse{Logs: items, NextPageToken: info.NextPageToken}, nil
}

func (s *Service) Reconcile(ctx context.Context, userID string) (*domain.Reconciliation, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.GetBalance(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	logs, err := s.repo.ListLogs(ctx, s.db, domain.ListLogsFilter{UserID: userID})
	if err != nil {
		return nil, err
	}

	out := &domain.Reconciliation{UserID: userID, LogCount: len(logs)}
	if balance != nil {
		out.Stored = domain.BalanceSummary{
			OneTime:      balance.OneTimeCreditsBalance,
			Subscription: balance.SubscriptionCreditsBalance,
		}
	}
	out.StoredTotal = out.Stored.Total()

	var previous domain.BalanceSummary
	for _, entry := range logs {
		out.Expected = out.Expected.Add(entry.Field, entry.Amount)
		snapshot := domain.BalanceSummary{
			OneTime:      entry.OneTimeBalanceAfter,
			Subscription: entry.SubscriptionBalanceAfter,
		}
		if out.BrokenAt == nil && (!entry.Field.Valid() || previous.Add(entry.Field, entry.Amount) != snapshot) {
			id := entry.ID
			out.BrokenAt = &id
		}
		previous = snapshot
	}
	out.LastSnapshot = previous
	out.ExpectedTotal = out.Expected.Total()

	out.Consistent = out.BrokenAt == nil &&
		out.Expected == out.Stored &&
		out.LastSnapshot == out.Stored
	if !out.Consistent {
		s.log.Warn("credit ledger mismatch",
			zap.String("user_id", userID),
			zap.Int64("expected_one_time", out.Expected.OneTime),
			zap.Int64("expected_subscription", out.Expected.Subscription),
			zap.Int64("stored_one_time", out.Stored.OneTime),
			zap.Int64("stored_subscription", out.Stored.Subscription),
		)
	}
	return out, nil
}

// HasOrderLog reports whether orderID already produced a logType entry for userID.
func (s *Service) HasOrderLog(ctx context.Context, userID string, orderID snowflake.ID, logType domain.LogType) (bool, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return false, err
	}
	count, err := s.repo.CountOrderLogs(ctx, s.db, userID, orderID, logType)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) ListDueYearlyAllocations(ctx context.Context, afterUserID string, limit int, now time.Time) (*domain.DueAllocations, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.repo.ListAllocated(ctx, s.db, afterUserID, limit)
	if err != nil {
		return nil, err
	}

	out := &domain.DueAllocations{}
	for _, row := range rows {
		allocation, err := domain.UnmarshalAllocation(row.BalanceJSON)
		if err != nil {
			s.log.Warn("skipping unreadable allocation", zap.String("user_id", row.UserID), zap.Error(err))
			continue
		}
		if allocation.Kind == domain.AllocationYearly && allocation.Yearly.Due(now) {
			out.UserIDs = append(out.UserIDs, row.UserID)
		}
	}
	if len(rows) == limit {
		out.NextCursor = rows[len(rows)-1].UserID
	}
	return out, nil
}

func hasAllocation(balance *domain.UsageBalance) bool {
	raw := balance.BalanceJSON
	return len(raw) > 0 && string(raw) != "null"
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.ErrInvalidUser
	}
	return userID, nil
}
