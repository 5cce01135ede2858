package repository

import (
	"context"

	"github.com/smallbiznis/creditline/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, user_id, provider, provider_order_id, order_type, status, plan_id,
	stripe_payment_intent_id, stripe_invoice_id, stripe_charge_id, subscription_id,
	amount_subtotal, amount_discount, amount_tax, amount_total, currency, metadata,
	created_at, updated_at`

var purchaseTypes = []domain.OrderType{
	domain.OrderTypeOneTimePurchase,
	domain.OrderTypeSubscriptionInitial,
	domain.OrderTypeSubscriptionRenewal,
}

func (r *repo) FindByProviderOrderID(ctx context.Context, db *gorm.DB, provider, providerOrderID string) (*domain.Order, error) {
	return r.findOne(ctx, db,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE provider = ? AND provider_order_id = ?
		 LIMIT 1`,
		provider,
		providerOrderID,
	)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_order_id) DO NOTHING`,
		order.ID,
		order.UserID,
		order.Provider,
		order.ProviderOrderID,
		order.OrderType,
		order.Status,
		order.PlanID,
		order.StripePaymentIntentID,
		order.StripeInvoiceID,
		order.StripeChargeID,
		order.SubscriptionID,
		order.AmountSubtotal,
		order.AmountDiscount,
		order.AmountTax,
		order.AmountTotal,
		order.Currency,
		order.Metadata,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPurchaseByPaymentIntent(ctx context.Context, db *gorm.DB, provider, paymentIntentID string) (*domain.Order, error) {
	return r.findOne(ctx, db,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE provider = ? AND stripe_payment_intent_id = ? AND order_type IN ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		provider,
		paymentIntentID,
		purchaseTypes,
	)
}

func (r *repo) FindPurchaseByInvoice(ctx context.Context, db *gorm.DB, provider, invoiceID string) (*domain.Order, error) {
	return r.findOne(ctx, db,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE provider = ? AND stripe_invoice_id = ? AND order_type IN ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		provider,
		invoiceID,
		purchaseTypes,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Order, error) {
	var item domain.Order
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
