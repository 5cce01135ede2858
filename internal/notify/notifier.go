// Package notify escalates failures that need an operator.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/creditline/internal/config"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/internal/providers/email"
	"github.com/smallbiznis/creditline/internal/providers/telegram"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	email.Module,
	telegram.Module,
	fx.Provide(New),
)

// deliveryTimeout bounds how long Notify holds its caller.
const deliveryTimeout = 10 * time.Second

type Kind string

const (
	// KindCreditGrantFailed means a user paid and was not credited.
	KindCreditGrantFailed Kind = "credit_grant_failed"
	// KindCreditRevokeFailed means a refund or cancellation left credits in place.
	KindCreditRevokeFailed Kind = "credit_revoke_failed"
	KindFraudWarning       Kind = "fraud_warning"
)

type Alert struct {
	Kind    Kind
	UserID  string
	OrderID string
	PlanID  string
	Err     error
	Details map[string]string
}

// Notifier delivers alerts. Delivery failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Email      email.Provider
	Telegram   telegram.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	email      email.Provider
	telegram   telegram.Provider
	recipients []string
	appName    string
	timeout    time.Duration
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) Notifier {
	return &Service{
		log:        p.Log.Named("notify"),
		email:      p.Email,
		telegram:   p.Telegram,
		recipients: p.Cfg.AlertEmails,
		appName:    p.Cfg.AppName,
		timeout:    deliveryTimeout,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Notify(ctx context.Context, alert Alert) {
	fields := []zap.Field{
		zap.String("kind", string(alert.Kind)),
		zap.String("user_id", alert.UserID),
		zap.String("order_id", alert.OrderID),
		zap.String("plan_id", alert.PlanID),
	}
	if alert.Err != nil {
		fields = append(fields, zap.Error(alert.Err))
	}
	s.log.Error("operator alert", fields...)

	// deliveries outlive a canceled request but never the timeout
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	subject := s.subject(alert)
	var wg sync.WaitGroup
	deliver := func(channel string, send func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.record(ctx, alert, channel, send(ctx))
		}()
	}
	if s.email != nil && len(s.recipients) > 0 {
		deliver("email", func(ctx context.Context) error {
			return s.email.SendTemplate(ctx, s.recipients, subject, "operator_alert", templateData(alert))
		})
	}
	if s.telegram != nil {
		deliver("telegram", func(ctx context.Context) error {
			return s.telegram.SendMessage(ctx, subject+"\n"+plainText(alert))
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("alert delivery timed out",
			zap.String("kind", string(alert.Kind)),
			zap.Duration("timeout", s.timeout),
		)
	}
}

func (s *Service) record(ctx context.Context, alert Alert, channel string, err error) {
	s.obsMetrics.RecordAlert(ctx, string(alert.Kind), channel, err)
	if err != nil {
		s.log.Warn("alert delivery failed",
			zap.String("kind", string(alert.Kind)),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}

func (s *Service) subject(alert Alert) string {
	app := s.appName
	if app == "" {
		app = "creditline"
	}
	return fmt.Sprintf("[%s] %s", app, title(alert.Kind))
}

func title(kind Kind) string {
	switch kind {
	case KindCreditGrantFailed:
		return "Credit grant failed after payment"
	case KindCreditRevokeFailed:
		return "Credit revoke failed"
	case KindFraudWarning:
		return "Early fraud warning"
	default:
		return string(kind)
	}
}

type row struct {
	Label string
	Value string
}

func rows(alert Alert) []row {
	out := make([]row, 0, 3+len(alert.Details))
	if alert.UserID != "" {
		out = append(out, row{Label: "User", Value: alert.UserID})
	}
	if alert.OrderID != "" {
		out = append(out, row{Label: "Order", Value: alert.OrderID})
	}
	if alert.PlanID != "" {
		out = append(out, row{Label: "Plan", Value: alert.PlanID})
	}
	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, row{Label: k, Value: alert.Details[k]})
	}
	return out
}

func templateData(alert Alert) map[string]any {
	data := map[string]any{
		"Title": title(alert.Kind),
		"Rows":  rows(alert),
	}
	if alert.Err != nil {
		data["Error"] = alert.Err.Error()
	}
	return data
}

func plainText(alert Alert) string {
	var b strings.Builder
	for _, r := range rows(alert) {
		fmt.Fprintf(&b, "%s: %s\n", r.Label, r.Value)
	}
	if alert.Err != nil {
		fmt.Fprintf(&b, "error: %s\n", alert.Err.Error())
	}
	return strings.TrimRight(b.String(), "\n")
}
