package repository

import (
	"context"
	"testing"

	"github.com/smallbiznis/creditline/internal/testutil/sqlitetest"
	"github.com/smallbiznis/creditline/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDirectory(t *testing.T) {
	db := sqlitetest.Open(t)
	require.NoError(t, db.Exec(
		`INSERT INTO users (id, email, stripe_customer_id) VALUES
		 ('user_1', 'a@example.com', 'cus_1'),
		 ('user_2', 'b@example.com', NULL)`,
	).Error)

	repo := Provide()
	ctx := context.Background()

	user, err := repo.FindByStripeCustomerID(ctx, db, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user_1", user.ID)

	user, err = repo.FindByStripeCustomerID(ctx, db, "cus_missing")
	require.NoError(t, err)
	assert.Nil(t, user)

	customerID, err := repo.GetStripeCustomerID(ctx, db, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", customerID)

	customerID, err = repo.GetStripeCustomerID(ctx, db, "user_2")
	require.NoError(t, err)
	assert.Empty(t, customerID)

	_, err = repo.GetStripeCustomerID(ctx, db, "user_404")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
