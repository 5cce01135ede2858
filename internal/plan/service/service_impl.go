package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditline/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	defaultCacheTTL = 5 * time.Minute
	keyPlanByID     = "creditline:plan:id:"
	keyPlanByPrice  = "creditline:plan:price:"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Redis *redis.Client `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	redis *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		repo:  p.Repo,
		redis: p.Redis,
		ttl:   defaultCacheTTL,
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidID
	}
	return s.load(ctx, keyPlanByID+id, func(ctx context.Context) (*domain.Plan, error) {
		return s.repo.GetByID(ctx, s.db, id)
	})
}

func (s *Service) GetByPriceID(ctx context.Context, priceID string) (*domain.Plan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.load(ctx, keyPlanByPrice+priceID, func(ctx context.Context) (*domain.Plan, error) {
		return s.repo.GetByPriceID(ctx, s.db, priceID)
	})
}

// load reads through redis; misses are collapsed per key so a burst of
// webhooks for the same plan hits the database once.
func (s *Service) load(ctx context.Context, key string, fetch func(context.Context) (*domain.Plan, error)) (*domain.Plan, error) {
	if plan, ok := s.cached(ctx, key); ok {
		return plan, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// shared by every caller waiting on key; one caller canceling must
		// not fail the others
		fetchCtx := context.WithoutCancel(ctx)
		plan, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, domain.ErrPlanNotFound
		}
		s.store(fetchCtx, key, plan)
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	plan := *v.(*domain.Plan)
	return &plan, nil
}

func (s *Service) cached(ctx context.Context, key string) (*domain.Plan, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("plan cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var plan domain.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		s.log.Warn("plan cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &plan, true
}

func (s *Service) store(ctx context.Context, key string, plan *domain.Plan) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.Warn("plan cache write failed", zap.String("key", key), zap.Error(err))
	}
}
