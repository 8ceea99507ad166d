package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/adapter"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/usecase"
)

// Sweeper runs one release tick through the single-flight runner. *scheduler.Scheduler satisfies it.
type Sweeper interface {
	Trigger(ctx context.Context) error
}

// EnrollmentReader resolves the stream of an enrollment for ownership checks.
type EnrollmentReader interface {
	FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Enrollment, error)
}

// HealthChecker reports storage readiness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the use cases and collaborators served over HTTP.
type Deps struct {
	Activation  usecase.ActivationUseCase
	Streams     usecase.StreamUseCase
	Promos      usecase.PromoUseCase
	Payments    usecase.PaymentUseCase
	Schedules   usecase.ScheduleUseCase
	Release     usecase.ReleaseUseCase
	Access      usecase.AccessUseCase
	Enrollments EnrollmentReader
	Sweeper     Sweeper
	// RateLimiter is optional; without it activation is not throttled.
	RateLimiter adapter.RateLimiter
	Health      HealthChecker
	Auth        *AuthManager
}

type Options struct {
	Port           int
	CallbackSecret string
	BotUsername    string
	RateLimit      int
	RateWindow     time.Duration
	RequestTimeout time.Duration
}

type Server struct {
	deps Deps
	opts Options
	now  func() time.Time
	log  *zerolog.Logger
	srv  *http.Server
}

func NewServer(deps Deps, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	compLog := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{deps: deps, opts: opts, now: time.Now, log: &compLog}
}

// Routes builds the chi router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log), TraceID(), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.opts.RequestTimeout))

		r.Post("/activate", s.handleActivate)
		r.Post("/payments/callback", s.handlePaymentCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.Authenticate)

			r.Route("/streams/{streamID}", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(RequireRole(RoleCreator), s.requireStreamOwner)
					r.Post("/enrollments", s.handleInvite)
					r.Post("/invite-token", s.handleRotateInviteToken)
					r.Put("/settings", s.handleUpdateSettings)
					r.Post("/promo/validate", s.handlePromoValidate)
					r.Get("/schedule", s.handleListSchedule)
					r.Put("/schedule", s.handleConfigureSchedule)
					r.Post("/schedule/generate", s.handleGenerateSchedule)
					r.Post("/schedule/open-all", s.handleOpenAll)
				})
				r.Group(func(r chi.Router) {
					r.Use(RequireRole(RoleCreator, RoleService), s.requireStreamOwner)
					r.Get("/students/{identity}", s.handleStreamView)
					r.Get("/students/{identity}/lessons/{lessonID}", s.handleLessonAccess)
				})
			})

			r.With(RequireRole(RoleCreator)).Post("/enrollments/{enrollmentID}/payment/confirm", s.handleConfirmPayment)
			r.With(RequireRole(RoleCreator, RoleService)).Post("/sweeps", s.handleSweep)
		})
	})
	return r
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", s.opts.Port).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// InviteLink builds the Telegram deep link for token.
func InviteLink(botUsername, token string) string {
	if botUsername == "" || token == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, token)
}
