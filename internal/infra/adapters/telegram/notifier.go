package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/ports/adapter"
)

var (
	_ adapter.Notifier = (*Notifier)(nil)
	_ adapter.Notifier = (*NoopNotifier)(nil)
)

// Sender is the outbound half of *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers messages to Telegram users. Identities are numeric user ids,
// which equal the private chat id.
type Notifier struct {
	api Sender
}

func NewNotifier(api Sender) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) Send(ctx context.Context, identity string, text string) error {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: identity %q is not a telegram id", domain.ErrInvalidArgument, identity)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// NoopNotifier logs messages instead of sending them. Used in dev and when no bot is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	compLog := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &compLog}
}

func (n *NoopNotifier) Send(ctx context.Context, identity string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().Str("identity", identity).Str("text", text).Msg("notification")
	return nil
}
