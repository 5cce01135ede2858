package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/clock"
	"github.com/smallbiznis/creditline/internal/config"
	creditdomain "github.com/smallbiznis/creditline/internal/credit/domain"
	creditrepo "github.com/smallbiznis/creditline/internal/credit/repository"
	creditservice "github.com/smallbiznis/creditline/internal/credit/service"
	"github.com/smallbiznis/creditline/internal/notify"
	orderrepo "github.com/smallbiznis/creditline/internal/order/repository"
	orderservice "github.com/smallbiznis/creditline/internal/order/service"
	"github.com/smallbiznis/creditline/internal/payment/domain"
	"github.com/smallbiznis/creditline/internal/payment/repository"
	"github.com/smallbiznis/creditline/internal/payment/stripe"
	planrepo "github.com/smallbiznis/creditline/internal/plan/repository"
	planservice "github.com/smallbiznis/creditline/internal/plan/service"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/creditline/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/creditline/internal/subscription/service"
	"github.com/smallbiznis/creditline/internal/testutil/sqlitetest"
	userrepo "github.com/smallbiznis/creditline/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

type processorMock struct {
	mock.Mock
}

func (m *processorMock) GetSubscription(ctx context.Context, id string) (*subscriptiondomain.ProcessorSubscription, error) {
	args := m.Called(ctx, id)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*subscriptiondomain.ProcessorSubscription), args.Error(1)
}

func (m *processorMock) GetCustomer(ctx context.Context, id string) (*subscriptiondomain.ProcessorCustomer, error) {
	args := m.Called(ctx, id)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*subscriptiondomain.ProcessorCustomer), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, alert notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

type testEnv struct {
	svc       domain.Service
	db        *gorm.DB
	credits   creditdomain.Service
	processor *processorMock
	notifier  *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := sqlitetest.Open(t)
	require.NoError(t, db.Exec(
		`INSERT INTO users (id, email, stripe_customer_id) VALUES ('user_1', 'one@example.com', 'cus_1')`,
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO pricing_plans (id, name, payment_type, recurring_interval, stripe_price_id, benefits_jsonb) VALUES
		 ('plan_pack', 'Credit pack', 'one_time', '', 'price_pack', '{"oneTimeCredits":500}'),
		 ('plan_monthly', 'Pro monthly', 'recurring', 'month', 'price_monthly', '{"monthlyCredits":300}'),
		 ('plan_yearly', 'Pro yearly', 'recurring', 'year', 'price_yearly', '{"monthlyCredits":100,"totalMonths":12}')`,
	).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))

	creditsCfg := config.DefaultCreditsConfig()
	creditsCfg.Ledger.Retry.BackoffStep = 0

	processor := &processorMock{}
	notifier := &recordingNotifier{}
	plans := planservice.NewService(planservice.Params{DB: db, Log: log, Repo: planrepo.Provide()})
	credits := creditservice.NewService(creditservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Repo:   creditrepo.Provide(),
		Clock:  clk,
		Config: config.NewStaticCreditsConfigHolder(creditsCfg),
	})
	resolver := subscriptionservice.NewResolver(subscriptionservice.ResolverParams{
		DB:        db,
		Log:       log,
		Processor: processor,
		Users:     userrepo.Provide(),
		Plans:     plans,
	})
	subscriptions := subscriptionservice.NewService(subscriptionservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Repo:      subscriptionrepo.Provide(),
		Processor: processor,
		Resolver:  resolver,
		Clock:     clk,
	})

	cfg := config.Config{}
	cfg.Stripe.WebhookSecret = webhookSecret
	svc := NewService(Params{
		DB:            db,
		Log:           log,
		GenID:         node,
		Repo:          repository.Provide(),
		Verifier:      stripe.NewVerifier(cfg),
		Orders:        orderservice.NewService(orderservice.Params{DB: db, Log: log, GenID: node, Repo: orderrepo.Provide(), Clock: clk}),
		Credits:       credits,
		Subscriptions: subscriptions,
		Resolver:      resolver,
		Plans:         plans,
		Notifier:      notifier,
		Clock:         clk,
	})
	return &testEnv{svc: svc, db: db, credits: credits, processor: processor, notifier: notifier}
}

func signedEvent(t *testing.T, id, eventType string, object any) ([]byte, string) {
	t.Helper()

	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload := []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","type":%q,"created":1705309200,"api_version":"2024-06-20","data":{"object":%s}}`,
		id, eventType, raw,
	))

	timestamp := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func (e *testEnv) ingest(t *testing.T, id, eventType string, object any) error {
	t.Helper()
	payload, header := signedEvent(t, id, eventType, object)
	return e.svc.Ingest(context.Background(), payload, header)
}

func (e *testEnv) balance(t *testing.T, userID string) *creditdomain.BalanceView {
	t.Helper()
	view, err := e.credits.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return view
}

func checkoutSession(paymentIntentID string, amount int64) map[string]any {
	return map[string]any{
		"id":              "cs_" + paymentIntentID,
		"mode":            "payment",
		"payment_status":  "paid",
		"payment_intent":  paymentIntentID,
		"customer":        "cus_1",
		"currency":        "usd",
		"amount_subtotal": amount,
		"amount_total":    amount,
		"metadata":        map[string]string{"userId": "user_1", "planId": "plan_pack"},
	}
}

func refundedCharge(paymentIntentID string, amount, refunded int64) map[string]any {
	return map[string]any{
		"id":              "ch_1",
		"payment_intent":  paymentIntentID,
		"customer":        "cus_1",
		"currency":        "usd",
		"amount":          amount,
		"amount_refunded": refunded,
		"refunds": map[string]any{
			"data": []map[string]any{{"id": fmt.Sprintf("re_%d", refunded), "status": "succeeded", "created": 1705309300}},
		},
	}
}

func yearlySubscription() *subscriptiondomain.ProcessorSubscription {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return &subscriptiondomain.ProcessorSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_yearly",
		Metadata:           map[string]string{"userId": "user_1", "planId": "plan_yearly"},
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}
}

func TestCheckoutGrantsOnceAcrossReplays(t *testing.T) {
	env := newTestEnv(t)

	payload, header := signedEvent(t, "evt_checkout", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000))
	require.NoError(t, env.svc.Ingest(context.Background(), payload, header))
	require.NoError(t, env.svc.Ingest(context.Background(), payload, header))

	// same payment delivered under a new event id
	require.NoError(t, env.ingest(t, "evt_checkout_again", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000)))

	assert.Equal(t, int64(500), env.balance(t, "user_1").OneTime)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders", 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM credit_logs", 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL", 2)
	assert.Empty(t, env.notifier.alerts)
}

func TestCheckoutSkipsNonPaymentModes(t *testing.T) {
	env := newTestEnv(t)

	session := checkoutSession("pi_1", 10000)
	session["mode"] = "subscription"
	require.NoError(t, env.ingest(t, "evt_1", domain.TypeCheckoutCompleted, session))

	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders", 0)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL", 1)
}

func TestCheckoutWithoutPlanNotifies(t *testing.T) {
	env := newTestEnv(t)

	session := checkoutSession("pi_1", 10000)
	session["metadata"] = map[string]string{"userId": "user_1"}
	require.NoError(t, env.ingest(t, "evt_1", domain.TypeCheckoutCompleted, session))

	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders", 1)
	require.Len(t, env.notifier.alerts, 1)
	assert.Equal(t, notify.KindCreditGrantFailed, env.notifier.alerts[0].Kind)
	assert.ErrorIs(t, env.notifier.alerts[0].Err, ErrPlanUnresolved)
}

func TestCheckoutUnresolvedUserFails(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("GetCustomer", mock.Anything, "cus_unknown").Return(nil, assert.AnError)

	session := checkoutSession("pi_1", 10000)
	session["customer"] = "cus_unknown"
	session["metadata"] = map[string]string{"planId": "plan_pack"}

	err := env.ingest(t, "evt_1", domain.TypeCheckoutCompleted, session)
	assert.ErrorIs(t, err, ErrUserUnresolved)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders", 0)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM payment_events WHERE processed_at IS NULL", 1)
}

func TestGrantFailureNotifiesOnceAndPropagates(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Exec(`DROP TABLE credit_logs`).Error)

	err := env.ingest(t, "evt_1", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000))
	require.Error(t, err)

	require.Len(t, env.notifier.alerts, 1)
	alert := env.notifier.alerts[0]
	assert.Equal(t, notify.KindCreditGrantFailed, alert.Kind)
	assert.Equal(t, "user_1", alert.UserID)
	assert.Equal(t, "plan_pack", alert.PlanID)
	assert.NotEmpty(t, alert.OrderID)
	assert.ErrorContains(t, err, alert.Err.Error())
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM payment_events WHERE processed_at IS NULL", 1)
}

// breakCreditLogs makes every ledger mutation fail until the returned func runs.
func (e *testEnv) breakCreditLogs(t *testing.T) func() {
	t.Helper()
	require.NoError(t, e.db.Exec(`ALTER TABLE credit_logs RENAME TO credit_logs_offline`).Error)
	return func() {
		require.NoError(t, e.db.Exec(`ALTER TABLE credit_logs_offline RENAME TO credit_logs`).Error)
	}
}

func TestRedeliveryCompletesFailedGrant(t *testing.T) {
	env := newTestEnv(t)
	restore := env.breakCreditLogs(t)

	require.Error(t, env.ingest(t, "evt_1", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000)))
	require.Len(t, env.notifier.alerts, 1)
	assert.Equal(t, int64(0), env.balance(t, "user_1").OneTime)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders", 1)

	restore()
	require.NoError(t, env.ingest(t, "evt_1", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000)))

	assert.Equal(t, int64(500), env.balance(t, "user_1").OneTime)
	assert.Len(t, env.notifier.alerts, 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders", 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM credit_logs WHERE type = 'purchase' AND related_order_id IS NOT NULL", 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL", 1)

	// a later delivery of the same payment finds the grant already applied
	require.NoError(t, env.ingest(t, "evt_2", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000)))
	assert.Equal(t, int64(500), env.balance(t, "user_1").OneTime)
}

func TestRedeliveryCompletesFailedSubscriptionAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("GetSubscription", mock.Anything, "sub_1").Return(yearlySubscription(), nil)
	invoice := map[string]any{
		"id":             "in_1",
		"subscription":   "sub_1",
		"customer":       "cus_1",
		"billing_reason": "subscription_cycle",
		"status":         "paid",
		"currency":       "usd",
		"amount_paid":    12000,
	}

	restore := env.breakCreditLogs(t)
	require.Error(t, env.ingest(t, "evt_invoice", domain.TypeInvoicePaid, invoice))
	require.Len(t, env.notifier.alerts, 1)
	assert.Equal(t, notify.KindCreditGrantFailed, env.notifier.alerts[0].Kind)

	restore()
	require.NoError(t, env.ingest(t, "evt_invoice", domain.TypeInvoicePaid, invoice))

	view := env.balance(t, "user_1")
	assert.Equal(t, int64(100), view.Subscription)
	assert.Equal(t, creditdomain.AllocationYearly, view.Allocation.Kind)
	assert.Len(t, env.notifier.alerts, 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders WHERE order_type = 'subscription_renewal'", 1)
}

func TestRefundRevokeFailureNotifiesAndRecovers(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ingest(t, "evt_checkout", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000)))

	restore := env.breakCreditLogs(t)
	err := env.ingest(t, "evt_refund", domain.TypeChargeRefunded, refundedCharge("pi_1", 10000, 10000))
	require.Error(t, err)

	require.Len(t, env.notifier.alerts, 1)
	alert := env.notifier.alerts[0]
	assert.Equal(t, notify.KindCreditRevokeFailed, alert.Kind)
	assert.Equal(t, "user_1", alert.UserID)
	assert.Equal(t, "plan_pack", alert.PlanID)
	assert.Equal(t, "500", alert.Details["amount"])
	assert.ErrorContains(t, err, alert.Err.Error())
	assert.Equal(t, int64(500), env.balance(t, "user_1").OneTime)

	restore()
	require.NoError(t, env.ingest(t, "evt_refund", domain.TypeChargeRefunded, refundedCharge("pi_1", 10000, 10000)))

	assert.Equal(t, int64(0), env.balance(t, "user_1").OneTime)
	assert.Len(t, env.notifier.alerts, 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders WHERE order_type = 'refund'", 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM credit_logs WHERE type = 'refund_revoke' AND amount = -500", 1)
}

func TestFullRefundRevokesPlanCredits(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.ingest(t, "evt_checkout", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000)))
	assert.Equal(t, int64(500), env.balance(t, "user_1").OneTime)

	// a partial refund is recorded without touching credits
	require.NoError(t, env.ingest(t, "evt_partial", domain.TypeChargeRefunded, refundedCharge("pi_1", 10000, 5000)))
	assert.Equal(t, int64(500), env.balance(t, "user_1").OneTime)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders WHERE order_type = 'refund'", 1)

	require.NoError(t, env.ingest(t, "evt_full", domain.TypeChargeRefunded, refundedCharge("pi_1", 10000, 10000)))
	assert.Equal(t, int64(0), env.balance(t, "user_1").OneTime)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders WHERE order_type = 'refund'", 2)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM credit_logs WHERE type = 'refund_revoke' AND amount = -500", 1)

	// redelivery of the same refund under a new event id revokes nothing more
	require.NoError(t, env.ingest(t, "evt_full_again", domain.TypeChargeRefunded, refundedCharge("pi_1", 10000, 10000)))
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM credit_logs WHERE type = 'refund_revoke'", 1)
}

func TestRefundWithoutOriginalIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("GetCustomer", mock.Anything, "cus_1").Return(nil, assert.AnError)

	require.NoError(t, env.ingest(t, "evt_1", domain.TypeChargeRefunded, refundedCharge("pi_missing", 10000, 10000)))

	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders WHERE order_type = 'refund' AND user_id = 'user_1'", 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM credit_logs", 0)
}

func TestInvoicePaidSeedsYearlyAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("GetSubscription", mock.Anything, "sub_1").Return(yearlySubscription(), nil)

	invoice := map[string]any{
		"id":             "in_1",
		"subscription":   "sub_1",
		"customer":       "cus_1",
		"billing_reason": "subscription_create",
		"status":         "paid",
		"payment_intent": "pi_sub",
		"currency":       "usd",
		"subtotal":       12000,
		"amount_paid":    12000,
		"lines": map[string]any{
			"data": []map[string]any{{
				"period": map[string]any{"start": time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).Unix()},
				"price":  map[string]any{"id": "price_yearly"},
			}},
		},
	}
	require.NoError(t, env.ingest(t, "evt_invoice", domain.TypeInvoicePaid, invoice))
	require.NoError(t, env.ingest(t, "evt_invoice", domain.TypeInvoicePaid, invoice))

	view := env.balance(t, "user_1")
	assert.Equal(t, int64(100), view.Subscription)
	require.Equal(t, creditdomain.AllocationYearly, view.Allocation.Kind)
	assert.Equal(t, 11, view.Allocation.Yearly.RemainingMonths)
	assert.Equal(t, "2024-02-15", view.Allocation.Yearly.NextCreditDate)

	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM orders WHERE order_type = 'subscription_initial' AND plan_id = 'plan_yearly'", 1)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM subscriptions WHERE stripe_subscription_id = 'sub_1'", 1)
	env.processor.AssertNumberOfCalls(t, "GetSubscription", 1)
}

func TestSubscriptionDeletedRevokesAll(t *testing.T) {
	env := newTestEnv(t)
	env.processor.On("GetSubscription", mock.Anything, "sub_1").Return(yearlySubscription(), nil)

	_, err := env.credits.SetSubscriptionBalance(context.Background(), creditdomain.SetSubscriptionBalanceRequest{
		UserID: "user_1",
		Amount: 300,
	})
	require.NoError(t, err)

	require.NoError(t, env.ingest(t, "evt_deleted", domain.TypeSubscriptionDeleted, map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "canceled",
	}))

	view := env.balance(t, "user_1")
	assert.Equal(t, int64(0), view.Subscription)
	assert.True(t, view.Allocation.IsNone())
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM credit_logs WHERE type = 'cancel_revoke' AND amount = -300", 1)
}

func TestFraudWarningNotifies(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ingest(t, "evt_checkout", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000)))

	require.NoError(t, env.ingest(t, "evt_fraud", domain.TypeFraudWarningCreated, map[string]any{
		"id":             "issfr_1",
		"charge":         "ch_1",
		"payment_intent": "pi_1",
		"fraud_type":     "card_never_received",
		"actionable":     true,
	}))

	require.Len(t, env.notifier.alerts, 1)
	alert := env.notifier.alerts[0]
	assert.Equal(t, notify.KindFraudWarning, alert.Kind)
	assert.Equal(t, "user_1", alert.UserID)
	assert.Equal(t, "card_never_received", alert.Details["fraud_type"])
	assert.Equal(t, int64(500), env.balance(t, "user_1").OneTime)
}

func TestIgnoredEventsSkipInbox(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.ingest(t, "evt_1", "customer.created", map[string]any{"id": "cus_1"}))
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM payment_events", 0)
}

func TestRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := signedEvent(t, "evt_1", domain.TypeCheckoutCompleted, checkoutSession("pi_1", 10000))
	err := env.svc.Ingest(context.Background(), payload, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	sqlitetest.AssertCount(t, env.db, "SELECT COUNT(*) FROM payment_events", 0)
}

func TestRejectsUndecodableObject(t *testing.T) {
	env := newTestEnv(t)

	err := env.ingest(t, "evt_1", domain.TypeChargeRefunded, map[string]any{"id": 42})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
