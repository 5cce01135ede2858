package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/credit/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureBalance(ctx context.Context, db *gorm.DB, userID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_balances (
			user_id, subscription_credits_balance, one_time_credits_balance,
			balance_jsonb, created_at, updated_at
		) VALUES (?, 0, 0, NULL, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		userID,
		now,
		now,
	).Error
}

func (r *repo) LockBalance(ctx context.Context, db *gorm.DB, userID string) (*domain.UsageBalance, error) {
	var balance domain.UsageBalance
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

func (r *repo) GetBalance(ctx context.Context, db *gorm.DB, userID string) (*domain.UsageBalance, error) {
	var balance domain.UsageBalance
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, subscription_credits_balance, one_time_credits_balance,
			balance_jsonb, created_at, updated_at
		 FROM usage_balances
		 WHERE user_id = ?
		 LIMIT 1`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.UserID == "" {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, balance *domain.UsageBalance) error {
	var allocation any
	if raw := balance.BalanceJSON; len(raw) > 0 && string(raw) != "null" {
		allocation = raw
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_balances
		 SET subscription_credits_balance = ?,
			one_time_credits_balance = ?,
			balance_jsonb = ?,
			updated_at = ?
		 WHERE user_id = ?`,
		balance.SubscriptionCreditsBalance,
		balance.OneTimeCreditsBalance,
		allocation,
		balance.UpdatedAt,
		balance.UserID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrBalanceNotFound
	}
	return nil
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, log *domain.CreditLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_logs (
			id, user_id, balance_field, amount, one_time_balance_after,
			subscription_balance_after, type, notes, related_order_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.UserID,
		log.Field,
		log.Amount,
		log.OneTimeBalanceAfter,
		log.SubscriptionBalanceAfter,
		log.Type,
		log.Notes,
		log.RelatedOrderID,
		log.CreatedAt,
	).Error
}

func (r *repo) ListLogs(ctx context.Context, db *gorm.DB, filter domain.ListLogsFilter) ([]domain.CreditLog, error) {
	query := db.WithContext(ctx).
		Model(&domain.CreditLog{}).
		Where("user_id = ?", filter.UserID)
	if filter.AfterID != 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	// snowflake ids sort in creation order
	query = query.Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []domain.CreditLog
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountOrderLogs(ctx context.Context, db *gorm.DB, userID string, orderID snowflake.ID, logType domain.LogType) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM credit_logs
		 WHERE user_id = ? AND related_order_id = ? AND type = ?`,
		userID,
		orderID,
		logType,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ListAllocated(ctx context.Context, db *gorm.DB, afterUserID string, limit int) ([]domain.UsageBalance, error) {
	var items []domain.UsageBalance
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, subscription_credits_balance, one_time_credits_balance,
			balance_jsonb, created_at, updated_at
		 FROM usage_balances
		 WHERE balance_jsonb IS NOT NULL AND user_id > ?
		 ORDER BY user_id ASC
		 LIMIT ?`,
		afterUserID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
