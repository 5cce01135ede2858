package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	GetByID(ctx context.Context, db *gorm.DB, id string) (*Plan, error)
	GetByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*Plan, error)
}

type Service interface {
	GetByID(ctx context.Context, id string) (*Plan, error)
	GetByPriceID(ctx context.Context, priceID string) (*Plan, error)
}

var (
	ErrInvalidID       = errors.New("invalid_plan_id")
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrInvalidBenefits = errors.New("invalid_plan_benefits")
)
