package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	creditdomain "github.com/smallbiznis/creditline/internal/credit/domain"
	"github.com/smallbiznis/creditline/internal/notify"
	orderdomain "github.com/smallbiznis/creditline/internal/order/domain"
	"github.com/smallbiznis/creditline/internal/payment/domain"
	plandomain "github.com/smallbiznis/creditline/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"go.uber.org/zap"
)

const (
	checkoutModePayment = "payment"
	checkoutPaid        = "paid"

	billingReasonSubscriptionCreate = "subscription_create"
)

func (s *Service) handleCheckoutCompleted(ctx context.Context, e domain.CheckoutCompleted) error {
	log := s.logger(ctx).With(zap.String("checkout_session_id", e.SessionID))
	if e.Mode != checkoutModePayment || e.PaymentStatus != checkoutPaid {
		log.Debug("checkout session skipped", zap.String("mode", e.Mode), zap.String("payment_status", e.PaymentStatus))
		return nil
	}

	userID, err := s.resolveUser(ctx, e.CustomerID, e.Metadata)
	if err != nil {
		return err
	}
	planID, err := s.resolver.ResolvePlanID(ctx, "", e.Metadata)
	if err != nil {
		return err
	}

	providerOrderID := e.PaymentIntentID
	if providerOrderID == "" {
		providerOrderID = e.SessionID
	}
	order, inserted, err := s.orders.Record(ctx, orderdomain.NewOrder{
		UserID:                userID,
		Provider:              orderdomain.ProviderStripe,
		ProviderOrderID:       providerOrderID,
		OrderType:             orderdomain.OrderTypeOneTimePurchase,
		Status:                e.PaymentStatus,
		PlanID:                planID,
		StripePaymentIntentID: e.PaymentIntentID,
		AmountSubtotal:        orderdomain.FromMinorUnits(e.AmountSubtotal, e.Currency),
		AmountDiscount:        orderdomain.FromMinorUnits(e.AmountDiscount, e.Currency),
		AmountTax:             orderdomain.FromMinorUnits(e.AmountTax, e.Currency),
		AmountTotal:           orderdomain.FromMinorUnits(e.AmountTotal, e.Currency),
		Currency:              e.Currency,
		Metadata:              metadataAny(e.Metadata, "checkout_session_id", e.SessionID),
	})
	if err != nil {
		return err
	}
	if !inserted {
		done, err := s.credits.HasOrderLog(ctx, order.UserID, order.ID, creditdomain.LogTypePurchase)
		if err != nil {
			return err
		}
		if done {
			log.Info("checkout order already credited", zap.String("order_id", order.ID.String()))
			return nil
		}
		log.Warn("checkout order recorded without credits", zap.String("order_id", order.ID.String()))
	}

	plan, ok := s.grantPlan(ctx, order, planID)
	if !ok {
		return nil
	}
	benefits, _ := plan.Benefits()

	_, err = s.credits.Grant(ctx, creditdomain.GrantRequest{
		UserID:  order.UserID,
		Amount:  benefits.OneTimeCredits,
		OrderID: &order.ID,
		Type:    creditdomain.LogTypePurchase,
		Notes:   "one-time purchase " + plan.Name,
	})
	if err != nil {
		s.notifyGrantFailed(ctx, order, planID, err)
		return fmt.Errorf("grant one-time credits: %w", err)
	}
	return nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, e domain.InvoicePaid) error {
	log := s.logger(ctx).With(zap.String("invoice_id", e.InvoiceID))
	if e.SubscriptionID == "" {
		log.Debug("invoice without subscription skipped")
		return nil
	}

	sub, err := s.sync(ctx, e.SubscriptionID, e.CustomerID, e.Metadata)
	if err != nil {
		return err
	}

	planID := ""
	if sub.PlanID != nil {
		planID = *sub.PlanID
	} else if planID, err = s.resolver.ResolvePlanID(ctx, e.PriceID, e.Metadata); err != nil {
		return err
	}

	orderType := orderdomain.OrderTypeSubscriptionRenewal
	if e.BillingReason == billingReasonSubscriptionCreate {
		orderType = orderdomain.OrderTypeSubscriptionInitial
	}
	order, inserted, err := s.orders.Record(ctx, orderdomain.NewOrder{
		UserID:                sub.UserID,
		Provider:              orderdomain.ProviderStripe,
		ProviderOrderID:       e.InvoiceID,
		OrderType:             orderType,
		Status:                e.Status,
		PlanID:                planID,
		StripePaymentIntentID: e.PaymentIntentID,
		StripeInvoiceID:       e.InvoiceID,
		StripeChargeID:        e.ChargeID,
		SubscriptionID:        e.SubscriptionID,
		AmountSubtotal:        orderdomain.FromMinorUnits(e.AmountSubtotal, e.Currency),
		AmountDiscount:        orderdomain.FromMinorUnits(e.AmountDiscount, e.Currency),
		AmountTax:             orderdomain.FromMinorUnits(e.AmountTax, e.Currency),
		AmountTotal:           orderdomain.FromMinorUnits(e.AmountTotal, e.Currency),
		Currency:              e.Currency,
		Metadata:              metadataAny(e.Metadata, "billing_reason", e.BillingReason),
	})
	if err != nil {
		return err
	}
	if !inserted {
		done, err := s.credits.HasOrderLog(ctx, order.UserID, order.ID, creditdomain.LogTypeSubscriptionGrant)
		if err != nil {
			return err
		}
		if done {
			log.Info("invoice order already credited", zap.String("order_id", order.ID.String()))
			return nil
		}
		log.Warn("invoice order recorded without credits", zap.String("order_id", order.ID.String()))
	}

	plan, ok := s.grantPlan(ctx, order, planID)
	if !ok {
		return nil
	}
	benefits, _ := plan.Benefits()

	allocation := creditdomain.NewMonthlyAllocation(benefits.MonthlyCredits, order.ID, s.now())
	if plan.Yearly() && benefits.TotalMonths > 0 {
		start := e.PeriodStart
		if start.IsZero() {
			start = s.now()
		}
		allocation = creditdomain.NewYearlyAllocation(benefits.MonthlyCredits, benefits.TotalMonths, start, order.ID)
	}

	_, err = s.credits.SetSubscriptionBalance(ctx, creditdomain.SetSubscriptionBalanceRequest{
		UserID:     order.UserID,
		Amount:     benefits.MonthlyCredits,
		OrderID:    &order.ID,
		Allocation: allocation,
		Notes:      string(orderType) + " " + plan.Name,
	})
	if err != nil {
		s.notifyGrantFailed(ctx, order, planID, err)
		return fmt.Errorf("set subscription credits: %w", err)
	}
	return nil
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, e domain.InvoicePaymentFailed) error {
	if e.SubscriptionID == "" {
		return nil
	}
	_, err := s.sync(ctx, e.SubscriptionID, e.CustomerID, e.Metadata)
	return err
}

func (s *Service) syncSubscription(ctx context.Context, ref domain.SubscriptionRef) error {
	_, err := s.sync(ctx, ref.SubscriptionID, ref.CustomerID, ref.Metadata)
	return err
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, e domain.SubscriptionDeleted) error {
	sub, err := s.sync(ctx, e.SubscriptionID, e.CustomerID, e.Metadata)
	if err != nil {
		return err
	}

	result, err := s.credits.Revoke(ctx, creditdomain.RevokeRequest{
		UserID: sub.UserID,
		Field:  creditdomain.FieldSubscription,
		All:    true,
		Type:   creditdomain.LogTypeCancelRevoke,
		Notes:  "subscription " + e.SubscriptionID + " canceled",
	})
	if err != nil {
		s.notifyLedgerFailure(ctx, notify.KindCreditRevokeFailed, notify.Alert{
			UserID:  sub.UserID,
			PlanID:  stringValue(sub.PlanID),
			Details: map[string]string{"subscription_id": e.SubscriptionID, "log_type": string(creditdomain.LogTypeCancelRevoke)},
		}, err)
		return fmt.Errorf("revoke subscription credits: %w", err)
	}
	s.logger(ctx).Info("subscription credits revoked",
		zap.String("user_id", sub.UserID),
		zap.String("subscription_id", e.SubscriptionID),
		zap.Int64("revoked", result.Revoked),
	)
	return nil
}

func (s *Service) handleChargeRefunded(ctx context.Context, e domain.ChargeRefunded) error {
	log := s.logger(ctx).With(zap.String("charge_id", e.ChargeID))

	original, err := s.orders.FindOriginalPurchase(ctx, orderdomain.ProviderStripe, e.PaymentIntentID, e.InvoiceID)
	if err != nil && !errors.Is(err, orderdomain.ErrOrderNotFound) {
		return err
	}

	userID := ""
	if original != nil {
		userID = original.UserID
	} else {
		userID, err = s.resolver.ResolveUserID(ctx, e.CustomerID, e.Metadata)
		if err != nil {
			if errors.Is(err, subscriptiondomain.ErrUserResolutionFailed) {
				log.Warn("refund for unknown purchase and user; not recorded")
				return nil
			}
			return err
		}
	}

	refundID := e.LatestRefundID
	if refundID == "" {
		refundID = "refund_" + e.ChargeID
	}
	status := e.RefundStatus
	if status == "" {
		status = "succeeded"
	}
	refund := orderdomain.NewOrder{
		UserID:                userID,
		Provider:              orderdomain.ProviderStripe,
		ProviderOrderID:       refundID,
		OrderType:             orderdomain.OrderTypeRefund,
		Status:                status,
		StripePaymentIntentID: e.PaymentIntentID,
		StripeInvoiceID:       e.InvoiceID,
		StripeChargeID:        e.ChargeID,
		AmountTotal:           orderdomain.FromMinorUnits(e.AmountRefunded, e.Currency),
		Currency:              e.Currency,
		Metadata:              metadataAny(e.Metadata, "charge_amount", strconv.FormatInt(e.Amount, 10)),
	}
	if original != nil {
		if original.PlanID != nil {
			refund.PlanID = *original.PlanID
		}
		refund.SubscriptionID = original.SubscriptionID
		refund.Metadata["original_order_id"] = original.ID.String()
	}

	order, inserted, err := s.orders.Record(ctx, refund)
	if err != nil {
		return err
	}
	if !inserted && original != nil {
		done, err := s.credits.HasOrderLog(ctx, original.UserID, order.ID, creditdomain.LogTypeRefundRevoke)
		if err != nil {
			return err
		}
		if done {
			log.Info("refund already revoked", zap.String("order_id", order.ID.String()))
			return nil
		}
	}
	if original == nil {
		log.Warn("refund without original purchase", zap.String("payment_intent_id", e.PaymentIntentID))
		return nil
	}

	refunded := orderdomain.FromMinorUnits(e.AmountRefunded, e.Currency)
	if !refunded.Equal(original.AmountTotal) {
		log.Info("partial refund recorded",
			zap.String("refunded", refunded.String()),
			zap.String("original_total", original.AmountTotal.String()),
		)
		return nil
	}
	if original.PlanID == nil {
		log.Warn("refunded order has no plan", zap.String("order_id", original.ID.String()))
		return nil
	}

	plan, err := s.plans.GetByID(ctx, *original.PlanID)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			log.Warn("refunded plan not found", zap.String("plan_id", *original.PlanID))
			return nil
		}
		return err
	}
	benefits, err := plan.Benefits()
	if err != nil {
		return err
	}

	field, amount := creditdomain.FieldSubscription, benefits.MonthlyCredits
	if original.OrderType == orderdomain.OrderTypeOneTimePurchase {
		field, amount = creditdomain.FieldOneTime, benefits.OneTimeCredits
	}
	result, err := s.credits.Revoke(ctx, creditdomain.RevokeRequest{
		UserID:  original.UserID,
		Field:   field,
		Amount:  amount,
		OrderID: &order.ID,
		Type:    creditdomain.LogTypeRefundRevoke,
		Notes:   "full refund of order " + original.ID.String(),
	})
	if err != nil {
		s.notifyLedgerFailure(ctx, notify.KindCreditRevokeFailed, notify.Alert{
			UserID:  original.UserID,
			OrderID: order.ID.String(),
			PlanID:  *original.PlanID,
			Details: map[string]string{
				"original_order_id": original.ID.String(),
				"provider_order_id": order.ProviderOrderID,
				"balance_field":     string(field),
				"amount":            strconv.FormatInt(amount, 10),
			},
		}, err)
		return fmt.Errorf("revoke refunded credits: %w", err)
	}
	log.Info("refunded credits revoked",
		zap.String("user_id", original.UserID),
		zap.String("field", string(field)),
		zap.Int64("revoked", result.Revoked),
	)
	return nil
}

func (s *Service) handleFraudWarning(ctx context.Context, e domain.FraudWarningCreated) error {
	alert := notify.Alert{
		Kind: notify.KindFraudWarning,
		Details: map[string]string{
			"warning_id":        e.WarningID,
			"charge_id":         e.ChargeID,
			"payment_intent_id": e.PaymentIntentID,
			"fraud_type":        e.FraudType,
			"actionable":        strconv.FormatBool(e.Actionable),
		},
	}
	if e.PaymentIntentID != "" {
		original, err := s.orders.FindOriginalPurchase(ctx, orderdomain.ProviderStripe, e.PaymentIntentID, "")
		if err == nil {
			alert.UserID = original.UserID
			alert.OrderID = original.ID.String()
			if original.PlanID != nil {
				alert.PlanID = *original.PlanID
			}
		}
	}
	s.notifier.Notify(ctx, alert)
	return nil
}

func (s *Service) resolveUser(ctx context.Context, customerID string, metadata map[string]string) (string, error) {
	userID, err := s.resolver.ResolveUserID(ctx, customerID, metadata)
	if errors.Is(err, subscriptiondomain.ErrUserResolutionFailed) {
		return "", fmt.Errorf("%w: customer %q", ErrUserUnresolved, customerID)
	}
	return userID, err
}

func (s *Service) sync(ctx context.Context, subscriptionID, customerID string, metadata map[string]string) (*subscriptiondomain.Subscription, error) {
	sub, err := s.subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{
		SubscriptionID:  subscriptionID,
		CustomerID:      customerID,
		InitialMetadata: metadata,
	})
	if errors.Is(err, subscriptiondomain.ErrUserResolutionFailed) {
		return nil, fmt.Errorf("%w: subscription %q", ErrUserUnresolved, subscriptionID)
	}
	return sub, err
}

// grantPlan loads the plan a freshly recorded order should credit. A paid
// order that cannot be credited is escalated and acknowledged.
func (s *Service) grantPlan(ctx context.Context, order *orderdomain.Order, planID string) (*plandomain.Plan, bool) {
	if planID == "" {
		s.notifyGrantFailed(ctx, order, planID, ErrPlanUnresolved)
		return nil, false
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err == nil {
		_, err = plan.Benefits()
	}
	if err != nil {
		s.notifyGrantFailed(ctx, order, planID, fmt.Errorf("%w: %v", ErrPlanUnresolved, err))
		return nil, false
	}
	return plan, true
}

func (s *Service) notifyGrantFailed(ctx context.Context, order *orderdomain.Order, planID string, err error) {
	s.notifyLedgerFailure(ctx, notify.KindCreditGrantFailed, notify.Alert{
		UserID:  order.UserID,
		OrderID: order.ID.String(),
		PlanID:  planID,
		Details: map[string]string{
			"order_type":        string(order.OrderType),
			"provider_order_id": order.ProviderOrderID,
		},
	}, err)
}

func (s *Service) notifyLedgerFailure(ctx context.Context, kind notify.Kind, alert notify.Alert, err error) {
	s.logger(ctx).Error("credit ledger mutation failed",
		zap.String("kind", string(kind)),
		zap.String("user_id", alert.UserID),
		zap.String("order_id", alert.OrderID),
		zap.String("plan_id", alert.PlanID),
		zap.Error(err),
	)
	alert.Kind = kind
	alert.Err = err
	s.notifier.Notify(ctx, alert)
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func metadataAny(m map[string]string, extra ...string) map[string]any {
	out := make(map[string]any, len(m)+len(extra)/2)
	for k, v := range m {
		out[k] = v
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if v := strings.TrimSpace(extra[i+1]); v != "" {
			out[extra[i]] = v
		}
	}
	return out
}
