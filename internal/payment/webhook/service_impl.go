package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/clock"
	creditdomain "github.com/smallbiznis/creditline/internal/credit/domain"
	"github.com/smallbiznis/creditline/internal/notify"
	obscontext "github.com/smallbiznis/creditline/internal/observability/context"
	obslogger "github.com/smallbiznis/creditline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/creditline/internal/order/domain"
	"github.com/smallbiznis/creditline/internal/payment/domain"
	"github.com/smallbiznis/creditline/internal/payment/stripe"
	plandomain "github.com/smallbiznis/creditline/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/creditline/internal/subscription/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeProcessed = "processed"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          domain.Repository
	Verifier      *stripe.Verifier
	Orders        orderdomain.Service
	Credits       creditdomain.Service
	Subscriptions subscriptiondomain.Service
	Resolver      *subscriptionservice.Resolver
	Plans         plandomain.Service
	Notifier      notify.Notifier
	Clock         clock.Clock         `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	verifier      *stripe.Verifier
	orders        orderdomain.Service
	credits       creditdomain.Service
	subscriptions subscriptiondomain.Service
	resolver      *subscriptionservice.Resolver
	plans         plandomain.Service
	notifier      notify.Notifier
	clock         clock.Clock
	obsMetrics    *obsmetrics.Metrics
	router        *Router
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	s := &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.webhook"),
		genID:         p.GenID,
		repo:          p.Repo,
		verifier:      p.Verifier,
		orders:        p.Orders,
		credits:       p.Credits,
		subscriptions: p.Subscriptions,
		resolver:      p.Resolver,
		plans:         p.Plans,
		notifier:      p.Notifier,
		clock:         clk,
		obsMetrics:    p.ObsMetrics,
	}
	s.router = s.routes()
	return s
}

func (s *Service) routes() *Router {
	r := NewRouter()
	Handle(r, domain.TypeCheckoutCompleted, s.handleCheckoutCompleted)
	Handle(r, domain.TypeInvoicePaid, s.handleInvoicePaid)
	Handle(r, domain.TypeInvoicePaymentFailed, s.handleInvoicePaymentFailed)
	Handle(r, domain.TypeSubscriptionCreated, func(ctx context.Context, e domain.SubscriptionCreated) error {
		return s.syncSubscription(ctx, e.SubscriptionRef)
	})
	Handle(r, domain.TypeSubscriptionUpdated, func(ctx context.Context, e domain.SubscriptionUpdated) error {
		return s.syncSubscription(ctx, e.SubscriptionRef)
	})
	Handle(r, domain.TypeSubscriptionDeleted, s.handleSubscriptionDeleted)
	Handle(r, domain.TypeChargeRefunded, s.handleChargeRefunded)
	Handle(r, domain.TypeFraudWarningCreated, s.handleFraudWarning)
	return r
}

// Ingest verifies, decodes and applies one webhook delivery. A nil error
// means the delivery may be acknowledged.
func (s *Service) Ingest(ctx context.Context, payload []byte, signatureHeader string) (err error) {
	env, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, stripe.Provider, "unknown", outcomeRejected)
		return err
	}

	ctx = obscontext.WithEventID(ctx, env.ID)
	ctx, span := otel.Tracer("creditline/payment/webhook").Start(ctx, "payment.webhook.ingest")
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("payment.provider", stripe.Provider),
		attribute.String("payment.event_type", env.Type),
	)...)
	defer func() {
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "webhook failed")
		}
		span.End()
	}()
	log := obslogger.WithEvent(obslogger.WithContext(ctx, s.log), env.ID, env.Type)

	event, err := stripe.Decode(env)
	if err != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, stripe.Provider, env.Type, outcomeRejected)
		log.Warn("undecodable payment event", zap.Error(err))
		return err
	}
	if !s.router.Handles(env.Type) {
		s.obsMetrics.RecordPaymentEvent(ctx, stripe.Provider, env.Type, outcomeIgnored)
		log.Debug("payment event ignored")
		return nil
	}

	record, processed, err := s.receive(ctx, env)
	if err != nil {
		return err
	}
	if processed {
		s.obsMetrics.RecordPaymentEvent(ctx, stripe.Provider, env.Type, outcomeDuplicate)
		log.Info("payment event already processed")
		return nil
	}

	if err := s.router.Dispatch(ctx, event); err != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, stripe.Provider, env.Type, outcomeFailed)
		log.Error("payment event failed", zap.Error(err))
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now().UTC()); err != nil {
		return err
	}
	s.obsMetrics.RecordPaymentEvent(ctx, stripe.Provider, env.Type, outcomeProcessed)
	log.Info("payment event processed")
	return nil
}

// receive stores the delivery in the inbox and reports whether an earlier
// delivery already completed.
func (s *Service) receive(ctx context.Context, env *domain.Envelope) (*domain.EventRecord, bool, error) {
	existing, err := s.repo.FindEvent(ctx, s.db, stripe.Provider, env.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, existing.ProcessedAt != nil, nil
	}

	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        stripe.Provider,
		ProviderEventID: env.ID,
		EventType:       env.Type,
		Payload:         datatypes.JSON(env.Payload),
		ReceivedAt:      s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return record, false, nil
	}

	existing, err = s.repo.FindEvent(ctx, s.db, stripe.Provider, env.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("payment event vanished after conflict")
	}
	return existing, existing.ProcessedAt != nil, nil
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
