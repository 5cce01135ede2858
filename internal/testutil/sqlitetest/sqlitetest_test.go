package sqlitetest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesMigrations(t *testing.T) {
	db := Open(t)

	for _, table := range []string{"users", "pricing_plans", "orders", "subscriptions", "usage_balances", "credit_logs", "payment_events"} {
		AssertCount(t, db, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, 1, table)
	}

	var columns []string
	require.NoError(t, db.Raw(`SELECT name FROM pragma_table_info('credit_logs')`).Scan(&columns).Error)
	assert.Contains(t, columns, "balance_field")
	assert.Contains(t, columns, "related_order_id")

	AssertCount(t, db, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, 1, "ix_credit_logs_related_order_id")
}

func TestOpenKeepsMigrationConstraints(t *testing.T) {
	db := Open(t)

	err := db.Exec(`INSERT INTO usage_balances (user_id, one_time_credits_balance) VALUES ('user_1', -1)`).Error
	assert.Error(t, err)

	require.NoError(t, db.Exec(
		`INSERT INTO users (id, email, stripe_customer_id) VALUES ('user_1', 'a@example.com', NULL), ('user_2', 'b@example.com', NULL)`,
	).Error)
	require.NoError(t, db.Exec(`UPDATE users SET stripe_customer_id = 'cus_1' WHERE id = 'user_1'`).Error)
	err = db.Exec(`UPDATE users SET stripe_customer_id = 'cus_1' WHERE id = 'user_2'`).Error
	assert.Error(t, err)

	require.NoError(t, db.Exec(
		`INSERT INTO payment_events (id, provider, provider_event_id, event_type, payload, received_at)
		 VALUES (1, 'stripe', 'evt_1', 'invoice.paid', '{}', CURRENT_TIMESTAMP)`,
	).Error)
	err = db.Exec(
		`INSERT INTO payment_events (id, provider, provider_event_id, event_type, payload, received_at)
		 VALUES (2, 'stripe', 'evt_1', 'invoice.paid', '{}', CURRENT_TIMESTAMP)`,
	).Error
	assert.Error(t, err)
}
