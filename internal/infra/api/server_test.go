//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/api"
	"telegram-course-streams/internal/usecase"
)

//
// ---------------- use case stubs ----------------
//

type stubActivation struct {
	res *usecase.ActivationResult
	err error
}

func (s *stubActivation) Activate(ctx context.Context, token, identity, promoCode string) (*usecase.ActivationResult, error) {
	return s.res, s.err
}

type stubStreams struct {
	streams map[string]*model.Stream
	invited map[string]bool
}

func (s *stubStreams) Get(ctx context.Context, id string) (*model.Stream, error) {
	st, ok := s.streams[id]
	if !ok {
		return nil, domain.NotFound("stream not found")
	}
	return st, nil
}

func (s *stubStreams) Invite(ctx context.Context, streamID, identity string) (*model.Enrollment, bool, error) {
	if identity == "" {
		return nil, false, domain.ErrInvalidArgument
	}
	created := !s.invited[identity]
	s.invited[identity] = true
	return &model.Enrollment{ID: "e-" + identity, StreamID: streamID, Identity: identity,
		InvitationStatus: model.InvitationStatusInvited, PaymentStatus: model.PaymentStatusUnpaid, AccessToken: "PERSONAL"}, created, nil
}

func (s *stubStreams) RotateInviteToken(ctx context.Context, streamID string) (string, error) {
	return "ROTATED", nil
}

func (s *stubStreams) UpdateSettings(ctx context.Context, streamID string, scheduleEnabled, notifyOnRelease bool) (*model.Stream, error) {
	st := *s.streams[streamID]
	st.ScheduleEnabled, st.NotifyOnRelease = scheduleEnabled, notifyOnRelease
	return &st, nil
}

type stubPromos struct{ err error }

func (s *stubPromos) Validate(ctx context.Context, code, streamID, enrollmentID string) (*model.PromoQuote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.PromoQuote{PromoCodeID: "p1", Type: model.PromoTypePercent, OriginalPrice: 1000, DiscountAmount: 200, FinalPrice: 800}, nil
}

func (s *stubPromos) Apply(ctx context.Context, code, streamID, enrollmentID string) (*model.PromoQuote, error) {
	return s.Validate(ctx, code, streamID, enrollmentID)
}

type stubPayments struct{ lastStatus string }

func (s *stubPayments) ConfirmPaid(ctx context.Context, enrollmentID string) (*model.Enrollment, error) {
	now := time.Now()
	return &model.Enrollment{ID: enrollmentID, PaymentStatus: model.PaymentStatusPaid, PaidAt: &now}, nil
}

func (s *stubPayments) HandleStatusCallback(ctx context.Context, enrollmentID, status string) (*model.Enrollment, error) {
	s.lastStatus = status
	return &model.Enrollment{ID: enrollmentID, PaymentStatus: model.PaymentStatusPaid}, nil
}

type stubSchedules struct{ err error }

func (s *stubSchedules) Configure(ctx context.Context, streamID string, items []model.ScheduleItem) ([]*model.ScheduleEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*model.ScheduleEntry, 0, len(items))
	for _, it := range items {
		out = append(out, &model.ScheduleEntry{StreamID: streamID, LessonID: it.LessonID, ScheduledOpenAt: it.ScheduledOpenAt})
	}
	return out, nil
}

func (s *stubSchedules) Generate(ctx context.Context, streamID string, start time.Time, interval time.Duration) ([]*model.ScheduleEntry, error) {
	return []*model.ScheduleEntry{
		{LessonID: "l1", ScheduledOpenAt: start},
		{LessonID: "l2", ScheduledOpenAt: start.Add(interval)},
	}, nil
}

func (s *stubSchedules) List(ctx context.Context, streamID string) ([]*model.ScheduleEntry, error) {
	return nil, nil
}

type stubRelease struct{}

func (stubRelease) Sweep(ctx context.Context, now time.Time) (usecase.SweepResult, error) {
	return usecase.SweepResult{}, nil
}

func (stubRelease) OpenAllNow(ctx context.Context, streamID string) (*usecase.OpenAllResult, error) {
	return &usecase.OpenAllResult{StreamID: streamID, LessonIDs: []string{"l2", "l3"}, Recipients: 4}, nil
}

type stubAccess struct{}

func (stubAccess) StreamView(ctx context.Context, streamID, identity string) (*model.StreamView, error) {
	return &model.StreamView{StreamID: streamID, Title: "Go Spring", Price: 1000, CreatorName: "Ada", CanViewContent: identity == "paid"}, nil
}

func (stubAccess) CheckLessonAccess(ctx context.Context, streamID, identity, lessonID string, now time.Time) (*usecase.LessonAccess, error) {
	if lessonID == "foreign" {
		return nil, domain.NotFound("lesson not found")
	}
	return &usecase.LessonAccess{StreamID: streamID, LessonID: lessonID, Enrolled: true, CanViewContent: true, LessonOpen: true, Visible: true}, nil
}

type stubEnrollments struct{}

func (stubEnrollments) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Enrollment, error) {
	switch id {
	case "e1":
		return &model.Enrollment{ID: "e1", StreamID: "s1"}, nil
	case "e2":
		return &model.Enrollment{ID: "e2", StreamID: "s2"}, nil
	}
	return nil, domain.ErrNotFound
}

type stubSweeper struct{ err error }

func (s stubSweeper) Trigger(ctx context.Context) error { return s.err }

type stubLimiter struct{ allow bool }

func (s stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return s.allow, nil
}

type stubHealth struct{ err error }

func (s stubHealth) Ping(ctx context.Context) error { return s.err }

//
// -------------------- test helpers --------------------
//

const secret = "test-secret"

type env struct {
	deps    api.Deps
	auth    *api.AuthManager
	payment *stubPayments
}

func newEnv() *env {
	auth := api.NewAuthManager(secret, time.Hour)
	payments := &stubPayments{}
	return &env{
		auth:    auth,
		payment: payments,
		deps: api.Deps{
			Activation: &stubActivation{},
			Streams: &stubStreams{
				streams: map[string]*model.Stream{
					"s1": {ID: "s1", CreatorID: "cr1", Title: "Go Spring", Price: 1000, InviteToken: "SHARED"},
					"s2": {ID: "s2", CreatorID: "cr2", Title: "Rust Fall", Price: 500, InviteToken: "OTHER"},
				},
				invited: map[string]bool{},
			},
			Promos:      &stubPromos{},
			Payments:    payments,
			Schedules:   &stubSchedules{},
			Release:     stubRelease{},
			Access:      stubAccess{},
			Enrollments: stubEnrollments{},
			Sweeper:     stubSweeper{},
			Health:      stubHealth{},
			Auth:        auth,
		},
	}
}

func (e *env) handler() http.Handler {
	nop := zerolog.Nop()
	return api.NewServer(e.deps, api.Options{
		CallbackSecret: "cb-secret",
		BotUsername:    "streams_bot",
		RateLimit:      5,
		RateWindow:     time.Minute,
	}, &nop).Routes()
}

func (e *env) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := e.auth.Mint(subject, role)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

//
// -------------------- tests --------------------
//

func TestHealth(t *testing.T) {
	e := newEnv()
	rec := do(t, e.handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	e.deps.Health = stubHealth{err: errors.New("db down")}
	rec = do(t, e.handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestActivate(t *testing.T) {
	stream := &model.Stream{ID: "s1", Price: 1000}

	t.Run("should return the activated enrollment", func(t *testing.T) {
		e := newEnv()
		e.deps.Activation = &stubActivation{res: &usecase.ActivationResult{
			Stream:     stream,
			Enrollment: &model.Enrollment{ID: "e1", StreamID: "s1", Identity: "42", InvitationStatus: model.InvitationStatusActivated, PaymentStatus: model.PaymentStatusPaid},
			Path:       usecase.InvitePathShared,
			Activated:  true,
			Created:    true,
			Promo:      &model.PromoQuote{PromoCodeID: "p1", Type: model.PromoTypeFree, OriginalPrice: 1000, DiscountAmount: 1000, IsFree: true},
		}}
		rec := do(t, e.handler(), http.MethodPost, "/api/v1/activate", "", map[string]string{"token": "SHARED", "identity": "42", "promo_code": "FREE"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, true, body["activated"])
		assert.Equal(t, true, body["can_view_content"])
		assert.Equal(t, "shared", body["path"])
		assert.Equal(t, true, body["promo"].(map[string]any)["is_free"])
		assert.NotContains(t, rec.Body.String(), "access_token")
	})

	t.Run("should surface a soft promo rejection", func(t *testing.T) {
		e := newEnv()
		e.deps.Activation = &stubActivation{res: &usecase.ActivationResult{
			Stream:     stream,
			Enrollment: &model.Enrollment{ID: "e1", PaymentStatus: model.PaymentStatusUnpaid},
			Activated:  true,
			PromoErr:   domain.InvalidState(model.PromoReasonExhausted),
		}}
		rec := do(t, e.handler(), http.MethodPost, "/api/v1/activate", "", map[string]string{"token": "T", "identity": "42", "promo_code": "X"})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, model.PromoReasonExhausted, body["promo_error"])
		assert.Equal(t, false, body["can_view_content"])
	})

	t.Run("should map domain errors", func(t *testing.T) {
		cases := []struct {
			err  error
			code int
		}{
			{domain.NotFound("invite link is not valid"), http.StatusNotFound},
			{domain.Forbidden("other account"), http.StatusForbidden},
			{domain.InvalidState(model.PromoReasonExpired), http.StatusUnprocessableEntity},
			{fmt.Errorf("%w: dup", domain.ErrConflict), http.StatusConflict},
			{domain.ErrInvalidArgument, http.StatusBadRequest},
			{errors.New("boom"), http.StatusInternalServerError},
		}
		for _, c := range cases {
			e := newEnv()
			e.deps.Activation = &stubActivation{err: c.err}
			rec := do(t, e.handler(), http.MethodPost, "/api/v1/activate", "", map[string]string{"token": "T", "identity": "42"})
			assert.Equal(t, c.code, rec.Code, c.err.Error())
		}
	})

	t.Run("should hide internal error details", func(t *testing.T) {
		e := newEnv()
		e.deps.Activation = &stubActivation{err: errors.New("pq: password authentication failed")}
		rec := do(t, e.handler(), http.MethodPost, "/api/v1/activate", "", map[string]string{"token": "T", "identity": "42"})
		assert.NotContains(t, rec.Body.String(), "password")
	})

	t.Run("should throttle per identity", func(t *testing.T) {
		e := newEnv()
		e.deps.RateLimiter = stubLimiter{allow: false}
		rec := do(t, e.handler(), http.MethodPost, "/api/v1/activate", "", map[string]string{"token": "T", "identity": "42"})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("should reject malformed bodies", func(t *testing.T) {
		e := newEnv()
		rec := do(t, e.handler(), http.MethodPost, "/api/v1/activate", "", map[string]string{"token": "T", "unexpected": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPaymentCallback(t *testing.T) {
	e := newEnv()
	h := e.handler()

	rec := do(t, h, http.MethodPost, "/api/v1/payments/callback", "", map[string]string{"enrollment_id": "e1", "status": "succeeded"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(`{"enrollment_id":"e1","status":"succeeded"}`))
	req.Header.Set(api.CallbackSecretHeader, "cb-secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "succeeded", e.payment.lastStatus)
}

func TestCreatorRoutes(t *testing.T) {
	e := newEnv()
	h := e.handler()
	owner := e.token(t, "cr1", api.RoleCreator)
	stranger := e.token(t, "cr2", api.RoleCreator)
	service := e.token(t, "content", api.RoleService)

	t.Run("should require a valid token", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/streams/s1/enrollments", "", map[string]string{"identity": "42"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		forged, err := api.NewAuthManager("other-secret", time.Hour).Mint("cr1", api.RoleCreator)
		require.NoError(t, err)
		rec = do(t, h, http.MethodPost, "/api/v1/streams/s1/enrollments", forged, map[string]string{"identity": "42"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should only let the owner manage a stream", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/streams/s1/enrollments", stranger, map[string]string{"identity": "42"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = do(t, h, http.MethodPost, "/api/v1/streams/s1/enrollments", service, map[string]string{"identity": "42"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = do(t, h, http.MethodPost, "/api/v1/streams/missing/enrollments", owner, map[string]string{"identity": "42"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should invite once and return the personal link", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/streams/s1/enrollments", owner, map[string]string{"identity": "77"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "https://t.me/streams_bot?start=PERSONAL", decode(t, rec)["invite_link"])

		rec = do(t, h, http.MethodPost, "/api/v1/streams/s1/enrollments", owner, map[string]string{"identity": "77"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("should rotate the shared link", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/streams/s1/invite-token", owner, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://t.me/streams_bot?start=ROTATED", decode(t, rec)["invite_link"])
	})

	t.Run("should update settings", func(t *testing.T) {
		rec := do(t, h, http.MethodPut, "/api/v1/streams/s1/settings", owner, map[string]bool{"schedule_enabled": true, "notify_on_release": true})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["schedule_enabled"])
		assert.Equal(t, true, body["notify_on_release"])
	})

	t.Run("should quote a promo code", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/streams/s1/promo/validate", owner, map[string]string{"code": "SPRING"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(800), decode(t, rec)["final_price"])
	})

	t.Run("should report promo rejections with a reason", func(t *testing.T) {
		e := newEnv()
		e.deps.Promos = &stubPromos{err: domain.InvalidState(model.PromoReasonExpired)}
		rec := do(t, e.handler(), http.MethodPost, "/api/v1/streams/s1/promo/validate", owner, map[string]string{"code": "OLD"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, model.PromoReasonExpired, decode(t, rec)["reason"])
	})

	t.Run("should manage the schedule", func(t *testing.T) {
		start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		rec := do(t, h, http.MethodPut, "/api/v1/streams/s1/schedule", owner, map[string]any{
			"items": []map[string]any{{"lesson_id": "l1", "scheduled_open_at": start}},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = do(t, h, http.MethodPost, "/api/v1/streams/s1/schedule/generate", owner, map[string]any{"start_at": start, "interval": "48h"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var entries []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, "2026-05-03T09:00:00Z", entries[1]["scheduled_open_at"])

		rec = do(t, h, http.MethodPost, "/api/v1/streams/s1/schedule/generate", owner, map[string]any{"start_at": start, "interval": "soon"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, h, http.MethodGet, "/api/v1/streams/s1/schedule", owner, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("should keep the old schedule on a rejected replace", func(t *testing.T) {
		e := newEnv()
		e.deps.Schedules = &stubSchedules{err: domain.InvalidState("lesson does not belong to the course")}
		rec := do(t, e.handler(), http.MethodPut, "/api/v1/streams/s1/schedule", owner, map[string]any{"items": []any{}})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("should open all lessons now", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/streams/s1/schedule/open-all", owner, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Len(t, body["lesson_ids"], 2)
		assert.Equal(t, float64(4), body["recipients"])
	})

	t.Run("should confirm payment only for the owner", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/enrollments/e1/payment/confirm", owner, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "paid", decode(t, rec)["payment_status"])

		rec = do(t, h, http.MethodPost, "/api/v1/enrollments/e2/payment/confirm", owner, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = do(t, h, http.MethodPost, "/api/v1/enrollments/nope/payment/confirm", owner, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestContentGate(t *testing.T) {
	e := newEnv()
	h := e.handler()
	service := e.token(t, "content", api.RoleService)

	rec := do(t, h, http.MethodGet, "/api/v1/streams/s2/students/paid", service, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["can_view_content"])
	assert.Equal(t, "Ada", body["creator_name"])

	rec = do(t, h, http.MethodGet, "/api/v1/streams/s1/students/42/lessons/l1", service, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["visible"])

	rec = do(t, h, http.MethodGet, "/api/v1/streams/s1/students/42/lessons/foreign", service, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/streams/s1/students/42", e.token(t, "cr2", api.RoleCreator), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSweep(t *testing.T) {
	e := newEnv()
	tok := e.token(t, "cr1", api.RoleCreator)

	rec := do(t, e.handler(), http.MethodPost, "/api/v1/sweeps", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	e.deps.Sweeper = stubSweeper{err: fmt.Errorf("%w: job already running", domain.ErrConflict)}
	rec = do(t, e.handler(), http.MethodPost, "/api/v1/sweeps", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
