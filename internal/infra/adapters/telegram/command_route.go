package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-course-streams/internal/infra/logging"
	"telegram-course-streams/internal/infra/metrics"
	red "telegram-course-streams/internal/infra/redis"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

// commandRoutes defines all available bot commands and their handlers.
func (r *RealTelegramBotAdapter) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start": r.handleStartCommand,
		"help":  r.handleHelpCommand,
	}
}

// handleStartCommand activates the invite from "/start <token> [promo]".
func (r *RealTelegramBotAdapter) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	metrics.IncTelegramCommand("start")
	identity := identityOf(message)
	ctx = logging.WithIdentity(ctx, identity)

	if r.rateLimiter != nil && message.CommandArguments() != "" {
		allowed, err := r.rateLimiter.Allow(ctx, red.ActivationKey("bot", identity), r.activation.RateLimit, r.activation.RateWindow)
		if err != nil {
			// Fail open: throttling is a guard, not a dependency of activation.
			logging.With(ctx, r.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			metrics.IncRateLimitTriggered("bot")
			return r.reply(message.Chat.ID, r.facade.RateLimited())
		}
	}

	text, err := r.facade.HandleStart(ctx, identity, message.CommandArguments())
	if err != nil {
		logging.With(ctx, r.log).Info().Err(err).Msg("activation via bot rejected")
	}
	return r.reply(message.Chat.ID, text)
}

func (r *RealTelegramBotAdapter) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	metrics.IncTelegramCommand("help")
	text, _ := r.facade.HandleStart(ctx, identityOf(message), "")
	return r.reply(message.Chat.ID, text)
}
