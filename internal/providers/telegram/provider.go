// Package telegram posts operator messages to a chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/smallbiznis/creditline/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.telegram",
	fx.Provide(NewFromConfig),
)

// requestTimeout caps each Bot API call, which takes no context.
const requestTimeout = 10 * time.Second

type Provider interface {
	SendMessage(ctx context.Context, text string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendMessage(ctx context.Context, text string) error {
	return nil
}

// sender is the part of *tgbotapi.BotAPI the provider needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type BotProvider struct {
	token  string
	chatID int64

	mu  sync.Mutex
	api sender
}

func NewFromConfig(cfg config.Config) (Provider, error) {
	token := strings.TrimSpace(cfg.Telegram.BotToken)
	if token == "" {
		return &NoOpProvider{}, nil
	}
	if cfg.Telegram.ChatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	return &BotProvider{token: token, chatID: cfg.Telegram.ChatID}, nil
}

// SendMessage connects on first use so a Bot API outage never blocks startup.
func (p *BotProvider) SendMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	api, err := p.client()
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(p.chatID, text)
	msg.DisableWebPagePreview = true
	_, err = api.Send(msg)
	return err
}

func (p *BotProvider) client() (sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.api != nil {
		return p.api, nil
	}
	api, err := tgbotapi.NewBotAPIWithClient(p.token, tgbotapi.APIEndpoint, &http.Client{Timeout: requestTimeout})
	if err != nil {
		return nil, err
	}
	p.api = api
	return p.api, nil
}
