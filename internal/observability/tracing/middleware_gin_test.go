package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedRouter(t *testing.T) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	router := gin.New()
	router.Use(GinMiddleware(MiddlewareConfig{
		SkipRoutes: []string{"/health"},
		Annotate: func(c *gin.Context) []attribute.KeyValue {
			return []attribute.KeyValue{
				attribute.String("creditline.webhook.provider", "stripe"),
				attribute.String("email", "ops@example.com"),
			}
		},
	}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/webhooks/:provider", func(c *gin.Context) {
		switch c.Query("outcome") {
		case "reject":
			c.Status(http.StatusBadRequest)
		case "fail":
			_ = c.Error(errors.New("ledger write failed"))
			c.Status(http.StatusInternalServerError)
		default:
			c.Status(http.StatusOK)
		}
	})
	return router, recorder
}

func serve(router *gin.Engine, method, target string) {
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, target, nil))
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, attr := range span.Attributes() {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestGinMiddlewareSkipsUntracedRoutes(t *testing.T) {
	router, recorder := newTracedRouter(t)

	serve(router, http.MethodGet, "/health")
	assert.Empty(t, recorder.Ended())
}

func TestGinMiddlewareNamesSpanByRoute(t *testing.T) {
	router, recorder := newTracedRouter(t)

	serve(router, http.MethodPost, "/webhooks/stripe")
	spans := recorder.Ended()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "POST /webhooks/:provider", span.Name())
	route, ok := spanAttr(span, "http.route")
	require.True(t, ok)
	assert.Equal(t, "/webhooks/:provider", route.AsString())
	provider, ok := spanAttr(span, "creditline.webhook.provider")
	require.True(t, ok)
	assert.Equal(t, "stripe", provider.AsString())
	_, ok = spanAttr(span, "email")
	assert.False(t, ok)
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestGinMiddlewareRecordsOutcome(t *testing.T) {
	router, recorder := newTracedRouter(t)

	serve(router, http.MethodPost, "/webhooks/stripe?outcome=reject")
	serve(router, http.MethodPost, "/webhooks/stripe?outcome=fail")
	serve(router, http.MethodGet, "/nowhere")
	spans := recorder.Ended()
	require.Len(t, spans, 3)

	rejected := spans[0]
	assert.Equal(t, codes.Unset, rejected.Status().Code)
	require.Len(t, rejected.Events(), 1)
	assert.Equal(t, "request rejected", rejected.Events()[0].Name)

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	require.NotEmpty(t, failed.Events())
	assert.Equal(t, "exception", failed.Events()[0].Name)

	assert.Equal(t, "GET unmatched", spans[2].Name())
}
