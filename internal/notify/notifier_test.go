package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/creditline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type emailMock struct {
	mock.Mock
}

func (m *emailMock) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return m.Called(ctx, to, subject, htmlBody).Error(0)
}

func (m *emailMock) SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error {
	return m.Called(ctx, to, subject, templateName, data).Error(0)
}

type telegramMock struct {
	mock.Mock
}

func (m *telegramMock) SendMessage(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func TestNotifyFansOutToChannels(t *testing.T) {
	mailer := &emailMock{}
	bot := &telegramMock{}
	core, logs := observer.New(zap.WarnLevel)

	n := New(Params{
		Cfg:      config.Config{AppName: "creditline", AlertEmails: []string{"ops@example.com"}},
		Log:      zap.New(core),
		Email:    mailer,
		Telegram: bot,
	})

	mailer.On("SendTemplate", mock.Anything, []string{"ops@example.com"}, "[creditline] Credit grant failed after payment", "operator_alert", mock.Anything).
		Return(nil).Once()
	bot.On("SendMessage", mock.Anything, mock.MatchedBy(func(text string) bool {
		return assert.Contains(t, text, "User: user_1") && assert.Contains(t, text, "error: deadlock")
	})).Return(errors.New("bot api down")).Once()

	n.Notify(context.Background(), Alert{
		Kind:    KindCreditGrantFailed,
		UserID:  "user_1",
		OrderID: "42",
		Err:     errors.New("deadlock"),
	})

	mailer.AssertExpectations(t)
	bot.AssertExpectations(t)

	failures := logs.FilterMessage("alert delivery failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "telegram", failures[0].ContextMap()["channel"])
}

func TestNotifySkipsEmailWithoutRecipients(t *testing.T) {
	mailer := &emailMock{}
	bot := &telegramMock{}
	bot.On("SendMessage", mock.Anything, mock.Anything).Return(nil).Once()

	n := New(Params{Cfg: config.Config{}, Log: zap.NewNop(), Email: mailer, Telegram: bot})
	n.Notify(context.Background(), Alert{Kind: KindFraudWarning, Details: map[string]string{"charge": "ch_1"}})

	mailer.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	bot.AssertExpectations(t)
}

func TestNotifyReturnsWhenChannelHangs(t *testing.T) {
	bot := &telegramMock{}
	release := make(chan time.Time)
	defer close(release)
	bot.On("SendMessage", mock.Anything, mock.Anything).WaitUntil(release).Return(nil).Once()
	core, logs := observer.New(zap.WarnLevel)

	n := New(Params{Cfg: config.Config{}, Log: zap.New(core), Telegram: bot})
	n.(*Service).timeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	n.Notify(ctx, Alert{Kind: KindCreditRevokeFailed, UserID: "user_1", Err: errors.New("no such table")})

	assert.Less(t, time.Since(started), time.Second)
	assert.Len(t, logs.FilterMessage("alert delivery timed out").All(), 1)
}

func TestNotifyDeliversAfterRequestCanceled(t *testing.T) {
	bot := &telegramMock{}
	bot.On("SendMessage", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil).Once()

	n := New(Params{Cfg: config.Config{}, Log: zap.NewNop(), Telegram: bot})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, Alert{Kind: KindCreditGrantFailed, UserID: "user_1"})

	bot.AssertExpectations(t)
}

func TestPlainTextOrdersDetails(t *testing.T) {
	text := plainText(Alert{
		Kind:    KindFraudWarning,
		Details: map[string]string{"reason": "card_stolen", "charge": "ch_1"},
	})
	assert.Equal(t, "charge: ch_1\nreason: card_stolen", text)
}
