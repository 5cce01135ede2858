package service

import (
	"context"
	"testing"

	"github.com/smallbiznis/creditline/internal/plan/domain"
	"github.com/smallbiznis/creditline/internal/plan/repository"
	"github.com/smallbiznis/creditline/internal/testutil/sqlitetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPlanLookups(t *testing.T) {
	db := sqlitetest.Open(t)
	require.NoError(t, db.Exec(
		`INSERT INTO pricing_plans (id, name, payment_type, recurring_interval, stripe_price_id, benefits_jsonb, is_active)
		 VALUES
		 ('plan_pack', 'Credit pack', 'one_time', NULL, 'price_pack', '{"oneTimeCredits":500}', TRUE),
		 ('plan_yearly', 'Pro yearly', 'recurring', 'year', 'price_yearly', '{"monthlyCredits":100,"totalMonths":12}', TRUE),
		 ('plan_retired', 'Old pack', 'one_time', NULL, 'price_old', '{}', FALSE)`,
	).Error)

	svc := NewService(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
	ctx := context.Background()

	plan, err := svc.GetByID(ctx, "plan_pack")
	require.NoError(t, err)
	benefits, err := plan.Benefits()
	require.NoError(t, err)
	assert.Equal(t, int64(500), benefits.OneTimeCredits)
	assert.False(t, plan.Yearly())

	plan, err = svc.GetByPriceID(ctx, "price_yearly")
	require.NoError(t, err)
	assert.Equal(t, "plan_yearly", plan.ID)
	assert.True(t, plan.Yearly())
	benefits, err = plan.Benefits()
	require.NoError(t, err)
	assert.Equal(t, int64(100), benefits.MonthlyCredits)
	assert.Equal(t, 12, benefits.TotalMonths)

	_, err = svc.GetByPriceID(ctx, "price_old")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	_, err = svc.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	_, err = svc.GetByID(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestBenefitsRejectsNegativeCredits(t *testing.T) {
	plan := domain.Plan{BenefitsJSON: []byte(`{"oneTimeCredits":-5}`)}
	_, err := plan.Benefits()
	assert.ErrorIs(t, err, domain.ErrInvalidBenefits)

	empty := domain.Plan{}
	benefits, err := empty.Benefits()
	require.NoError(t, err)
	assert.Zero(t, benefits.OneTimeCredits)
}

func TestLoadSurvivesFirstCallerCancel(t *testing.T) {
	svc := NewService(Params{DB: sqlitetest.Open(t), Log: zap.NewNop(), Repo: repository.Provide()}).(*Service)

	ctx, cancel := context.WithCancel(context.Background())
	var fetchErr error
	plan, err := svc.load(ctx, keyPlanByID+"plan_pack", func(fetchCtx context.Context) (*domain.Plan, error) {
		cancel()
		fetchErr = fetchCtx.Err()
		return &domain.Plan{ID: "plan_pack"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "plan_pack", plan.ID)
	assert.NoError(t, fetchErr)
}

func TestLookupWithCanceledContextStillReadsPlan(t *testing.T) {
	db := sqlitetest.Open(t)
	require.NoError(t, db.Exec(
		`INSERT INTO pricing_plans (id, name, payment_type, stripe_price_id, benefits_jsonb, is_active)
		 VALUES ('plan_pack', 'Credit pack', 'one_time', 'price_pack', '{"oneTimeCredits":500}', TRUE)`,
	).Error)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan, err := svc.GetByPriceID(ctx, "price_pack")
	require.NoError(t, err)
	assert.Equal(t, "plan_pack", plan.ID)
}
