package domain

import (
	"context"
	"time"
)

// ProcessorSubscription is the canonical subscription as the processor reports it.
type ProcessorSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	Metadata           map[string]string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	EndedAt            *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
}

type ProcessorCustomer struct {
	ID       string
	Metadata map[string]string
	Deleted  bool
}

// Processor is the narrow read API of the payment processor.
type Processor interface {
	GetSubscription(ctx context.Context, id string) (*ProcessorSubscription, error)
	GetCustomer(ctx context.Context, id string) (*ProcessorCustomer, error)
}
