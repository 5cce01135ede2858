package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "invoice.paid"),
		attribute.String("user_id", "user_1"),
		attribute.String("outcome", "ok"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("event_type"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordPaymentEvent(ctx, "stripe", "invoice.paid", "ok")
		m.RecordOrder(ctx, "refund", true)
		m.RecordCreditMutation(ctx, "grant", "purchase")
		m.RecordRetryAttempt(ctx, "grant")
		m.RecordRetryExhausted(ctx, "grant")
		m.RecordAlert(ctx, "credit_grant_failed", "email", errors.New("smtp down"))
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "creditline"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordPaymentEvent(context.Background(), "stripe", "charge.refunded", "ok")
	})
}
