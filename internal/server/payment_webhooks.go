package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/creditline/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	stripeWebhookRoute    = "/api/payments/webhooks/stripe"
)

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	if err := s.webhookSvc.Ingest(c.Request.Context(), payload, c.GetHeader(stripeSignatureHeader)); err != nil {
		AbortWithError(c, webhookError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// webhookError answers 400 only for deliveries that can never verify or
// decode; every other failure is a 500 so Stripe redelivers.
func webhookError(err error) error {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return err
	}
	if status, _ := mapError(err); status == http.StatusInternalServerError {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// traceAttributes tags webhook spans with the provider and every failed
// request with its public error code.
func traceAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if c.FullPath() == stripeWebhookRoute {
		attrs = append(attrs,
			attribute.String("creditline.webhook.provider", "stripe"),
			attribute.Bool("creditline.webhook.signed", c.GetHeader(stripeSignatureHeader) != ""),
		)
	}
	if lastErr := c.Errors.Last(); lastErr != nil {
		errType, code := classifyErrorForLog(lastErr.Err)
		attrs = append(attrs,
			attribute.String("creditline.error.type", errType),
			attribute.String("creditline.error.code", code),
		)
	}
	return attrs
}
