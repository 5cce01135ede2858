package domain

import "time"

// Event is one of the typed processor events below.
type Event interface {
	EventType() string
}

const (
	TypeCheckoutCompleted    = "checkout.session.completed"
	TypeInvoicePaid          = "invoice.paid"
	TypeInvoicePaymentFailed = "invoice.payment_failed"
	TypeSubscriptionCreated  = "customer.subscription.created"
	TypeSubscriptionUpdated  = "customer.subscription.updated"
	TypeSubscriptionDeleted  = "customer.subscription.deleted"
	TypeChargeRefunded       = "charge.refunded"
	TypeFraudWarningCreated  = "radar.early_fraud_warning.created"
)

// Amounts below are in the currency's minor unit, as sent by the processor.

type CheckoutCompleted struct {
	SessionID       string
	Mode            string
	PaymentStatus   string
	PaymentIntentID string
	CustomerID      string
	Currency        string
	AmountSubtotal  int64
	AmountDiscount  int64
	AmountTax       int64
	AmountTotal     int64
	Metadata        map[string]string
}

func (CheckoutCompleted) EventType() string { return TypeCheckoutCompleted }

type InvoicePaid struct {
	InvoiceID       string
	SubscriptionID  string
	CustomerID      string
	BillingReason   string
	Status          string
	PaymentIntentID string
	ChargeID        string
	Currency        string
	AmountSubtotal  int64
	AmountDiscount  int64
	AmountTax       int64
	AmountTotal     int64
	PriceID         string
	PeriodStart     time.Time
	Metadata        map[string]string
}

func (InvoicePaid) EventType() string { return TypeInvoicePaid }

type InvoicePaymentFailed struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

func (InvoicePaymentFailed) EventType() string { return TypeInvoicePaymentFailed }

// SubscriptionRef is the part of a subscription event the handlers read; the
// full object is always refetched from the processor.
type SubscriptionRef struct {
	SubscriptionID string
	CustomerID     string
	Status         string
	Metadata       map[string]string
}

type SubscriptionCreated struct{ SubscriptionRef }

func (SubscriptionCreated) EventType() string { return TypeSubscriptionCreated }

type SubscriptionUpdated struct{ SubscriptionRef }

func (SubscriptionUpdated) EventType() string { return TypeSubscriptionUpdated }

type SubscriptionDeleted struct{ SubscriptionRef }

func (SubscriptionDeleted) EventType() string { return TypeSubscriptionDeleted }

type ChargeRefunded struct {
	ChargeID        string
	PaymentIntentID string
	InvoiceID       string
	CustomerID      string
	Currency        string
	Amount          int64
	AmountRefunded  int64
	LatestRefundID  string
	RefundStatus    string
	Metadata        map[string]string
}

func (ChargeRefunded) EventType() string { return TypeChargeRefunded }

type FraudWarningCreated struct {
	WarningID       string
	ChargeID        string
	PaymentIntentID string
	FraudType       string
	Actionable      bool
}

func (FraudWarningCreated) EventType() string { return TypeFraudWarningCreated }

// Ignored is any event type without a handler.
type Ignored struct {
	Type string
}

func (e Ignored) EventType() string { return e.Type }
