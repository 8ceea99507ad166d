package api

import (
	"time"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/usecase"
)

type activateRequest struct {
	Token     string `json:"token"`
	Identity  string `json:"identity"`
	PromoCode string `json:"promo_code,omitempty"`
}

type paymentCallbackRequest struct {
	EnrollmentID string `json:"enrollment_id"`
	Status       string `json:"status"`
}

type inviteRequest struct {
	Identity string `json:"identity"`
}

type settingsRequest struct {
	ScheduleEnabled bool `json:"schedule_enabled"`
	NotifyOnRelease bool `json:"notify_on_release"`
}

type promoValidateRequest struct {
	Code         string `json:"code"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
}

type scheduleItemDTO struct {
	LessonID        string    `json:"lesson_id"`
	ScheduledOpenAt time.Time `json:"scheduled_open_at"`
}

type scheduleRequest struct {
	Items []scheduleItemDTO `json:"items"`
}

type generateRequest struct {
	StartAt time.Time `json:"start_at"`
	// Interval is a Go duration string, e.g. "48h".
	Interval string `json:"interval"`
}

type enrollmentDTO struct {
	ID               string     `json:"id"`
	StreamID         string     `json:"stream_id"`
	Identity         string     `json:"identity"`
	InvitationStatus string     `json:"invitation_status"`
	PaymentStatus    string     `json:"payment_status"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	AppliedPromoID   *string    `json:"applied_promo_id,omitempty"`
	InviteLink       string     `json:"invite_link,omitempty"`
}

type quoteDTO struct {
	PromoCodeID    string `json:"promo_code_id"`
	Type           string `json:"type"`
	OriginalPrice  int64  `json:"original_price"`
	DiscountAmount int64  `json:"discount_amount"`
	FinalPrice     int64  `json:"final_price"`
	IsFree         bool   `json:"is_free"`
}

type activateResponse struct {
	Enrollment     enrollmentDTO `json:"enrollment"`
	Path           string        `json:"path"`
	Activated      bool          `json:"activated"`
	Created        bool          `json:"created"`
	CanViewContent bool          `json:"can_view_content"`
	Promo          *quoteDTO     `json:"promo,omitempty"`
	PromoError     string        `json:"promo_error,omitempty"`
}

type streamDTO struct {
	ID              string `json:"id"`
	CourseID        string `json:"course_id"`
	Title           string `json:"title"`
	Price           int64  `json:"price"`
	ScheduleEnabled bool   `json:"schedule_enabled"`
	NotifyOnRelease bool   `json:"notify_on_release"`
	InviteLink      string `json:"invite_link"`
}

type scheduleEntryDTO struct {
	LessonID         string    `json:"lesson_id"`
	ScheduledOpenAt  time.Time `json:"scheduled_open_at"`
	IsOpened         bool      `json:"is_opened"`
	NotificationSent bool      `json:"notification_sent"`
}

type streamViewDTO struct {
	StreamID       string `json:"stream_id"`
	Title          string `json:"title"`
	Price          int64  `json:"price"`
	CreatorName    string `json:"creator_name"`
	CanViewContent bool   `json:"can_view_content"`
}

type lessonAccessDTO struct {
	StreamID       string     `json:"stream_id"`
	LessonID       string     `json:"lesson_id"`
	Enrolled       bool       `json:"enrolled"`
	CanViewContent bool       `json:"can_view_content"`
	LessonOpen     bool       `json:"lesson_open"`
	OpensAt        *time.Time `json:"opens_at,omitempty"`
	Visible        bool       `json:"visible"`
}

type openAllResponse struct {
	StreamID   string   `json:"stream_id"`
	LessonIDs  []string `json:"lesson_ids"`
	Recipients int      `json:"recipients"`
}

func toEnrollmentDTO(e *model.Enrollment) enrollmentDTO {
	return enrollmentDTO{
		ID:               e.ID,
		StreamID:         e.StreamID,
		Identity:         e.Identity,
		InvitationStatus: string(e.InvitationStatus),
		PaymentStatus:    string(e.PaymentStatus),
		ActivatedAt:      e.ActivatedAt,
		PaidAt:           e.PaidAt,
		AppliedPromoID:   e.AppliedPromoID,
	}
}

func toQuoteDTO(q *model.PromoQuote) *quoteDTO {
	if q == nil {
		return nil
	}
	return &quoteDTO{
		PromoCodeID:    q.PromoCodeID,
		Type:           string(q.Type),
		OriginalPrice:  q.OriginalPrice,
		DiscountAmount: q.DiscountAmount,
		FinalPrice:     q.FinalPrice,
		IsFree:         q.IsFree,
	}
}

func toScheduleDTOs(entries []*model.ScheduleEntry) []scheduleEntryDTO {
	out := make([]scheduleEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, scheduleEntryDTO{
			LessonID:         e.LessonID,
			ScheduledOpenAt:  e.ScheduledOpenAt,
			IsOpened:         e.IsOpened,
			NotificationSent: e.NotificationSent,
		})
	}
	return out
}

func toLessonAccessDTO(a *usecase.LessonAccess) lessonAccessDTO {
	return lessonAccessDTO{
		StreamID:       a.StreamID,
		LessonID:       a.LessonID,
		Enrolled:       a.Enrolled,
		CanViewContent: a.CanViewContent,
		LessonOpen:     a.LessonOpen,
		OpensAt:        a.OpensAt,
		Visible:        a.Visible,
	}
}
