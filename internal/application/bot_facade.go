package application

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/usecase"
)

// payloadSeparator joins token and promo code inside a single deep-link payload.
// Telegram only allows [A-Za-z0-9_-] there and tokens never contain '-'.
const payloadSeparator = "-"

// Activator is the part of the activation use case the facade needs.
type Activator interface {
	Activate(ctx context.Context, token, identity, promoCode string) (*usecase.ActivationResult, error)
}

// BotFacade composes usecases into high-level bot commands.
// Keep the facade methods returning strings so the Telegram adapter just forwards them to the chat.
type BotFacade struct {
	activation Activator
	msgs       usecase.Messages
	log        *zerolog.Logger
}

func NewBotFacade(activation Activator, msgs usecase.Messages, logger *zerolog.Logger) *BotFacade {
	compLog := logger.With().Str("component", "BotFacade").Logger()
	return &BotFacade{activation: activation, msgs: msgs, log: &compLog}
}

// ParseStartArgs splits the /start argument into an invite token and an optional promo code.
// Both "TOKEN PROMO" and the deep-link form "TOKEN-PROMO" are accepted.
func ParseStartArgs(args string) (token, promo string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", ""
	}
	token = fields[0]
	if len(fields) > 1 {
		return token, fields[1]
	}
	if i := strings.Index(token, payloadSeparator); i > 0 {
		return token[:i], token[i+1:]
	}
	return token, ""
}

// HandleStart activates the invite carried by args for identity and renders the reply.
// A fresh activation returns only the promo outcome because the welcome text is
// delivered by the notifier; the reply may then be empty.
func (b *BotFacade) HandleStart(ctx context.Context, identity, args string) (string, error) {
	token, promo := ParseStartArgs(args)
	if token == "" {
		return b.msgs.T("start_usage"), nil
	}

	res, err := b.activation.Activate(ctx, token, identity, promo)
	if err != nil {
		return b.renderError(err), err
	}
	if !res.Activated {
		return b.msgs.T("already_active", res.Stream.Title), nil
	}

	switch {
	case res.Promo != nil && res.Promo.IsFree:
		return b.msgs.T("promo_applied_free"), nil
	case res.Promo != nil:
		return b.msgs.T("promo_applied", res.Promo.FinalPrice, res.Promo.OriginalPrice), nil
	case res.PromoErr != nil:
		return b.msgs.T("promo_rejected", domain.Reason(res.PromoErr)), nil
	}
	return "", nil
}

// RateLimited is the reply for throttled activation attempts.
func (b *BotFacade) RateLimited() string {
	return b.msgs.T("rate_limited")
}

func (b *BotFacade) renderError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidArgument):
		return b.msgs.T("activation_not_found")
	case errors.Is(err, domain.ErrForbidden):
		return b.msgs.T("activation_forbidden")
	case errors.Is(err, domain.ErrInvalidState):
		// Strict promo mode rejects the whole activation.
		return b.msgs.T("promo_rejected", domain.Reason(err))
	case errors.Is(err, domain.ErrRateLimited):
		return b.msgs.T("rate_limited")
	default:
		b.log.Error().Err(err).Msg("activation failed")
		return b.msgs.T("internal_error")
	}
}
