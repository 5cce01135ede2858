// Package stripe adapts the Stripe API to the payment and subscription domains.
package stripe

import (
	"strings"
	"time"

	"github.com/smallbiznis/creditline/internal/config"
	"github.com/smallbiznis/creditline/internal/payment/domain"
	"github.com/stripe/stripe-go/v81/webhook"
)

const Provider = "stripe"

type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(cfg config.Config) *Verifier {
	return &Verifier{
		secret:    strings.TrimSpace(cfg.Stripe.WebhookSecret),
		tolerance: webhook.DefaultTolerance,
	}
}

// Verify checks the Stripe-Signature header against the raw body. Every
// failure, including a missing secret or an unparseable body, is reported as
// ErrInvalidSignature.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (*domain.Envelope, error) {
	if v.secret == "" || strings.TrimSpace(signatureHeader) == "" {
		return nil, domain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		return nil, domain.ErrInvalidPayload
	}

	env := &domain.Envelope{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
		Payload: payload,
	}
	if event.Data != nil {
		env.Object = event.Data.Raw
	}
	return env, nil
}
