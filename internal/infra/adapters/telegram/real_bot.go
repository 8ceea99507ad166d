package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/config"
	"telegram-course-streams/internal/domain/ports/adapter"
)

// BotAPI is the subset of *tgbotapi.BotAPI used by the adapter.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StartHandler turns a /start command into a reply.
type StartHandler interface {
	HandleStart(ctx context.Context, identity, args string) (string, error)
	RateLimited() string
}

// NewBotAPI connects to Telegram with token. It is meant for long polling and keeps
// the library's client, which has no overall timeout.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

// NewSenderAPI connects a bot used for outbound messages only. Every request gives up
// after timeout, so a hung call cannot hold a release sweep past its lock.
// An empty endpoint means the public Bot API.
func NewSenderAPI(token, endpoint string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
}

// RealTelegramBotAdapter polls updates and delegates commands to the bot facade.
type RealTelegramBotAdapter struct {
	api         BotAPI
	facade      StartHandler
	rateLimiter adapter.RateLimiter
	activation  config.ActivationConfig
	log         *zerolog.Logger

	updateWorkers int
	mu            sync.Mutex
	cancelPolling context.CancelFunc
}

func NewRealTelegramBotAdapter(
	api BotAPI,
	facade StartHandler,
	rateLimiter adapter.RateLimiter,
	activation config.ActivationConfig,
	updateWorkers int,
	logger *zerolog.Logger,
) (*RealTelegramBotAdapter, error) {
	if api == nil {
		return nil, errors.New("bot api is nil")
	}
	if facade == nil {
		return nil, errors.New("bot facade is nil")
	}
	if updateWorkers <= 0 {
		updateWorkers = 5
	}
	compLog := logger.With().Str("component", "TelegramBot").Logger()
	return &RealTelegramBotAdapter{
		api:           api,
		facade:        facade,
		rateLimiter:   rateLimiter,
		activation:    activation,
		log:           &compLog,
		updateWorkers: updateWorkers,
	}, nil
}

// StartPolling blocks until ctx is cancelled or StopPolling is called.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelPolling = cancel
	r.mu.Unlock()
	defer r.api.StopReceivingUpdates()

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < r.updateWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for up := range updateChan {
				if err := r.handleUpdate(ctx, up); err != nil {
					r.log.Warn().Err(err).Int("worker", id).Msg("update handling failed")
				}
			}
		}(i)
	}

	r.log.Info().Int("workers", r.updateWorkers).Msg("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			close(updateChan)
			wg.Wait()
			r.log.Info().Msg("telegram polling stopped")
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				close(updateChan)
				wg.Wait()
				return nil
			}
			select {
			case updateChan <- up:
			case <-ctx.Done():
			}
		}
	}
}

func (r *RealTelegramBotAdapter) StopPolling() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelPolling != nil {
		r.cancelPolling()
	}
}

func (r *RealTelegramBotAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return nil
	}
	handler, ok := r.commandRoutes()[msg.Command()]
	if !ok {
		return nil
	}
	return handler(ctx, msg)
}

func (r *RealTelegramBotAdapter) reply(chatID int64, text string) error {
	if text == "" {
		return nil
	}
	_, err := r.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func identityOf(msg *tgbotapi.Message) string {
	return strconv.FormatInt(msg.From.ID, 10)
}
