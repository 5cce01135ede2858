package stripe

import (
	"encoding/json"
	"time"

	"github.com/smallbiznis/creditline/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v81"
)

var decoders = map[string]func(json.RawMessage) (domain.Event, error){
	domain.TypeCheckoutCompleted:    decodeCheckoutCompleted,
	domain.TypeInvoicePaid:          decodeInvoicePaid,
	domain.TypeInvoicePaymentFailed: decodeInvoicePaymentFailed,
	domain.TypeSubscriptionCreated: func(raw json.RawMessage) (domain.Event, error) {
		ref, err := decodeSubscriptionRef(raw)
		return domain.SubscriptionCreated{SubscriptionRef: ref}, err
	},
	domain.TypeSubscriptionUpdated: func(raw json.RawMessage) (domain.Event, error) {
		ref, err := decodeSubscriptionRef(raw)
		return domain.SubscriptionUpdated{SubscriptionRef: ref}, err
	},
	domain.TypeSubscriptionDeleted: func(raw json.RawMessage) (domain.Event, error) {
		ref, err := decodeSubscriptionRef(raw)
		return domain.SubscriptionDeleted{SubscriptionRef: ref}, err
	},
	domain.TypeChargeRefunded:      decodeChargeRefunded,
	domain.TypeFraudWarningCreated: decodeFraudWarning,
}

// Decode turns a verified envelope into its typed event. Unknown types decode
// to domain.Ignored.
func Decode(env *domain.Envelope) (domain.Event, error) {
	decode, ok := decoders[env.Type]
	if !ok {
		return domain.Ignored{Type: env.Type}, nil
	}
	if len(env.Object) == 0 {
		return nil, domain.ErrInvalidPayload
	}
	event, err := decode(env.Object)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return event, nil
}

func decodeCheckoutCompleted(raw json.RawMessage) (domain.Event, error) {
	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, domain.ErrInvalidEvent
	}

	event := domain.CheckoutCompleted{
		SessionID:      session.ID,
		Mode:           string(session.Mode),
		PaymentStatus:  string(session.PaymentStatus),
		CustomerID:     customerID(session.Customer),
		Currency:       string(session.Currency),
		AmountSubtotal: session.AmountSubtotal,
		AmountTotal:    session.AmountTotal,
		Metadata:       session.Metadata,
	}
	if session.PaymentIntent != nil {
		event.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.TotalDetails != nil {
		event.AmountDiscount = session.TotalDetails.AmountDiscount
		event.AmountTax = session.TotalDetails.AmountTax
	}
	return event, nil
}

func decodeInvoice(raw json.RawMessage) (*stripeapi.Invoice, error) {
	var inv stripeapi.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, domain.ErrInvalidEvent
	}
	return &inv, nil
}

func decodeInvoicePaid(raw json.RawMessage) (domain.Event, error) {
	inv, err := decodeInvoice(raw)
	if err != nil {
		return nil, err
	}

	event := domain.InvoicePaid{
		InvoiceID:      inv.ID,
		SubscriptionID: subscriptionID(inv.Subscription),
		CustomerID:     customerID(inv.Customer),
		BillingReason:  string(inv.BillingReason),
		Status:         string(inv.Status),
		Currency:       string(inv.Currency),
		AmountSubtotal: inv.Subtotal,
		AmountTax:      inv.Tax,
		AmountTotal:    inv.AmountPaid,
		Metadata:       invoiceMetadata(inv),
	}
	if inv.PaymentIntent != nil {
		event.PaymentIntentID = inv.PaymentIntent.ID
	}
	if inv.Charge != nil {
		event.ChargeID = inv.Charge.ID
	}
	for _, d := range inv.TotalDiscountAmounts {
		if d != nil {
			event.AmountDiscount += d.Amount
		}
	}

	periodStart := inv.PeriodStart
	if line := firstLine(inv); line != nil {
		if line.Price != nil {
			event.PriceID = line.Price.ID
		}
		// the line period is the service period; the invoice period trails it
		if line.Period != nil && line.Period.Start > 0 {
			periodStart = line.Period.Start
		}
	}
	if periodStart > 0 {
		event.PeriodStart = time.Unix(periodStart, 0).UTC()
	}
	return event, nil
}

func decodeInvoicePaymentFailed(raw json.RawMessage) (domain.Event, error) {
	inv, err := decodeInvoice(raw)
	if err != nil {
		return nil, err
	}
	return domain.InvoicePaymentFailed{
		InvoiceID:      inv.ID,
		SubscriptionID: subscriptionID(inv.Subscription),
		CustomerID:     customerID(inv.Customer),
		Metadata:       invoiceMetadata(inv),
	}, nil
}

func firstLine(inv *stripeapi.Invoice) *stripeapi.InvoiceLineItem {
	if inv.Lines == nil || len(inv.Lines.Data) == 0 {
		return nil
	}
	return inv.Lines.Data[0]
}

// invoiceMetadata merges subscription, line and invoice metadata; earlier
// sources win.
func invoiceMetadata(inv *stripeapi.Invoice) map[string]string {
	out := map[string]string{}
	merge := func(m map[string]string) {
		for k, v := range m {
			if _, ok := out[k]; !ok && v != "" {
				out[k] = v
			}
		}
	}
	if inv.SubscriptionDetails != nil {
		merge(inv.SubscriptionDetails.Metadata)
	}
	if line := firstLine(inv); line != nil {
		merge(line.Metadata)
	}
	merge(inv.Metadata)
	return out
}

func decodeSubscriptionRef(raw json.RawMessage) (domain.SubscriptionRef, error) {
	var sub stripeapi.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return domain.SubscriptionRef{}, err
	}
	if sub.ID == "" {
		return domain.SubscriptionRef{}, domain.ErrInvalidEvent
	}
	return domain.SubscriptionRef{
		SubscriptionID: sub.ID,
		CustomerID:     customerID(sub.Customer),
		Status:         string(sub.Status),
		Metadata:       sub.Metadata,
	}, nil
}

func decodeChargeRefunded(raw json.RawMessage) (domain.Event, error) {
	var ch stripeapi.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, err
	}
	if ch.ID == "" {
		return nil, domain.ErrInvalidEvent
	}

	event := domain.ChargeRefunded{
		ChargeID:       ch.ID,
		CustomerID:     customerID(ch.Customer),
		Currency:       string(ch.Currency),
		Amount:         ch.Amount,
		AmountRefunded: ch.AmountRefunded,
		Metadata:       ch.Metadata,
	}
	if ch.PaymentIntent != nil {
		event.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.Invoice != nil {
		event.InvoiceID = ch.Invoice.ID
	}
	if ch.Refunds != nil {
		var latest int64 = -1
		for _, r := range ch.Refunds.Data {
			if r != nil && r.Created > latest {
				latest = r.Created
				event.LatestRefundID = r.ID
				event.RefundStatus = string(r.Status)
			}
		}
	}
	return event, nil
}

func decodeFraudWarning(raw json.RawMessage) (domain.Event, error) {
	var w stripeapi.RadarEarlyFraudWarning
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, domain.ErrInvalidEvent
	}

	event := domain.FraudWarningCreated{
		WarningID:  w.ID,
		FraudType:  string(w.FraudType),
		Actionable: w.Actionable,
	}
	if w.Charge != nil {
		event.ChargeID = w.Charge.ID
	}
	if w.PaymentIntent != nil {
		event.PaymentIntentID = w.PaymentIntent.ID
	}
	return event, nil
}

func customerID(c *stripeapi.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func subscriptionID(s *stripeapi.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID
}
