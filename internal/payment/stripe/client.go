package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/creditline/internal/config"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	stripeapi "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

var ErrClientNotConfigured = errors.New("stripe_client_not_configured")

// Client reads canonical objects from the Stripe API.
type Client struct {
	api *client.API
}

func NewClient(cfg config.Config) subscriptiondomain.Processor {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		return &Client{}
	}
	return &Client{api: client.New(key, nil)}
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*subscriptiondomain.ProcessorSubscription, error) {
	if c.api == nil {
		return nil, ErrClientNotConfigured
	}
	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, err
	}
	return toProcessorSubscription(sub), nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*subscriptiondomain.ProcessorCustomer, error) {
	if c.api == nil {
		return nil, ErrClientNotConfigured
	}
	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	cus, err := c.api.Customers.Get(id, params)
	if err != nil {
		return nil, err
	}
	return &subscriptiondomain.ProcessorCustomer{
		ID:       cus.ID,
		Metadata: cus.Metadata,
		Deleted:  cus.Deleted,
	}, nil
}

func toProcessorSubscription(sub *stripeapi.Subscription) *subscriptiondomain.ProcessorSubscription {
	out := &subscriptiondomain.ProcessorSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		Metadata:           sub.Metadata,
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         unixTime(sub.CanceledAt),
		EndedAt:            unixTime(sub.EndedAt),
		TrialStart:         unixTime(sub.TrialStart),
		TrialEnd:           unixTime(sub.TrialEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}

func unixTime(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
