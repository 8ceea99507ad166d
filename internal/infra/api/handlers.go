package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/logging"
	"telegram-course-streams/internal/infra/metrics"
	red "telegram-course-streams/internal/infra/redis"
)

// CallbackSecretHeader carries the shared secret of the payment provider.
const CallbackSecretHeader = "X-Callback-Secret"

type streamKey struct{}

// requireStreamOwner loads the stream of the route and lets only its creator
// (or a service token) through.
func (s *Server) requireStreamOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamID := chi.URLParam(r, "streamID")
		ctx := logging.WithStreamID(r.Context(), streamID)
		stream, err := s.deps.Streams.Get(ctx, streamID)
		if err != nil {
			writeError(w, r, s.log, err)
			return
		}
		c := claimsFrom(ctx)
		if c == nil || (c.Role != RoleService && c.Subject != stream.CreatorID) {
			writeError(w, r, s.log, domain.Forbidden("stream belongs to another creator"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, streamKey{}, stream)))
	})
}

func streamFrom(ctx context.Context) *model.Stream {
	st, _ := ctx.Value(streamKey{}).(*model.Stream)
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	identity := strings.TrimSpace(req.Identity)
	ctx := logging.WithIdentity(r.Context(), identity)

	if s.deps.RateLimiter != nil && identity != "" {
		ok, err := s.deps.RateLimiter.Allow(ctx, red.ActivationKey("http", identity), s.opts.RateLimit, s.opts.RateWindow)
		if err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			metrics.IncRateLimitTriggered("http")
			writeError(w, r, s.log, domain.ErrRateLimited)
			return
		}
	}

	res, err := s.deps.Activation.Activate(ctx, req.Token, identity, req.PromoCode)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	resp := activateResponse{
		Enrollment:     toEnrollmentDTO(res.Enrollment),
		Path:           string(res.Path),
		Activated:      res.Activated,
		Created:        res.Created,
		CanViewContent: model.CanViewContent(res.Enrollment, res.Stream),
		Promo:          toQuoteDTO(res.Promo),
	}
	if res.PromoErr != nil {
		resp.PromoError = domain.Reason(res.PromoErr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(CallbackSecretHeader)
	if s.opts.CallbackSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.opts.CallbackSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}
	var req paymentCallbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	e, err := s.deps.Payments.HandleStatusCallback(r.Context(), req.EnrollmentID, req.Status)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(e))
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	stream := streamFrom(r.Context())
	e, created, err := s.deps.Streams.Invite(r.Context(), stream.ID, req.Identity)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	dto := toEnrollmentDTO(e)
	dto.InviteLink = InviteLink(s.opts.BotUsername, e.AccessToken)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dto)
}

func (s *Server) handleRotateInviteToken(w http.ResponseWriter, r *http.Request) {
	stream := streamFrom(r.Context())
	token, err := s.deps.Streams.RotateInviteToken(r.Context(), stream.ID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"invite_link": InviteLink(s.opts.BotUsername, token)})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	st, err := s.deps.Streams.UpdateSettings(r.Context(), streamFrom(r.Context()).ID, req.ScheduleEnabled, req.NotifyOnRelease)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, streamDTO{
		ID:              st.ID,
		CourseID:        st.CourseID,
		Title:           st.Title,
		Price:           st.Price,
		ScheduleEnabled: st.ScheduleEnabled,
		NotifyOnRelease: st.NotifyOnRelease,
		InviteLink:      InviteLink(s.opts.BotUsername, st.InviteToken),
	})
}

func (s *Server) handlePromoValidate(w http.ResponseWriter, r *http.Request) {
	var req promoValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	q, err := s.deps.Promos.Validate(r.Context(), req.Code, streamFrom(r.Context()).ID, req.EnrollmentID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

func (s *Server) handleListSchedule(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Schedules.List(r.Context(), streamFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTOs(entries))
}

func (s *Server) handleConfigureSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	items := make([]model.ScheduleItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.ScheduleItem{LessonID: it.LessonID, ScheduledOpenAt: it.ScheduledOpenAt})
	}
	entries, err := s.deps.Schedules.Configure(r.Context(), streamFrom(r.Context()).ID, items)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTOs(entries))
}

func (s *Server) handleGenerateSchedule(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil || interval <= 0 {
		writeError(w, r, s.log, &domain.ReasonError{Kind: domain.ErrInvalidArgument, Reason: "interval must be a positive duration"})
		return
	}
	entries, err := s.deps.Schedules.Generate(r.Context(), streamFrom(r.Context()).ID, req.StartAt, interval)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTOs(entries))
}

func (s *Server) handleOpenAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Release.OpenAllNow(r.Context(), streamFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	ids := res.LessonIDs
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, openAllResponse{StreamID: res.StreamID, LessonIDs: ids, Recipients: res.Recipients})
}

func (s *Server) handleStreamView(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Access.StreamView(r.Context(), streamFrom(r.Context()).ID, chi.URLParam(r, "identity"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, streamViewDTO{
		StreamID:       view.StreamID,
		Title:          view.Title,
		Price:          view.Price,
		CreatorName:    view.CreatorName,
		CanViewContent: view.CanViewContent,
	})
}

func (s *Server) handleLessonAccess(w http.ResponseWriter, r *http.Request) {
	acc, err := s.deps.Access.CheckLessonAccess(r.Context(),
		streamFrom(r.Context()).ID, chi.URLParam(r, "identity"), chi.URLParam(r, "lessonID"), s.now())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonAccessDTO(acc))
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	enrollmentID := chi.URLParam(r, "enrollmentID")
	e, err := s.deps.Enrollments.FindByID(r.Context(), repository.NoTX, enrollmentID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	stream, err := s.deps.Streams.Get(r.Context(), e.StreamID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if stream.CreatorID != claimsFrom(r.Context()).Subject {
		writeError(w, r, s.log, domain.Forbidden("enrollment belongs to another creator"))
		return
	}
	e, err = s.deps.Payments.ConfirmPaid(r.Context(), enrollmentID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(e))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		writeError(w, r, s.log, errors.New("sweeper not configured"))
		return
	}
	if err := s.deps.Sweeper.Trigger(r.Context()); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
