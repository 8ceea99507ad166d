package model

import (
	"time"

	"telegram-course-streams/internal/domain"
)

type InvitationStatus string

const (
	InvitationStatusInvited   InvitationStatus = "invited"
	InvitationStatusActivated InvitationStatus = "activated"
)

func (s InvitationStatus) Valid() bool {
	return s == InvitationStatusInvited || s == InvitationStatusActivated
}

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusUnpaid || s == PaymentStatusPaid
}

// Enrollment is a student's membership in one stream.
// InvitationStatus only moves invited -> activated, PaymentStatus only unpaid -> paid.
type Enrollment struct {
	ID               string
	StreamID         string
	Identity         string // external messaging identity, unique per stream
	InvitationStatus InvitationStatus
	PaymentStatus    PaymentStatus
	AccessToken      string // personal invite token, bound to Identity
	ActivatedAt      *time.Time
	PaidAt           *time.Time
	AppliedPromoID   *string
	CreatedAt        time.Time
}

// NewEnrollment builds an invited enrollment with payment status seeded from the stream price:
// free streams start paid, everything else unpaid.
func NewEnrollment(id string, stream *Stream, identity, accessToken string, now time.Time) (*Enrollment, error) {
	if id == "" || stream == nil || identity == "" || accessToken == "" {
		return nil, domain.ErrInvalidArgument
	}
	e := &Enrollment{
		ID:               id,
		StreamID:         stream.ID,
		Identity:         identity,
		InvitationStatus: InvitationStatusInvited,
		PaymentStatus:    PaymentStatusUnpaid,
		AccessToken:      accessToken,
		CreatedAt:        now,
	}
	if stream.IsFree() {
		paidAt := now
		e.PaymentStatus = PaymentStatusPaid
		e.PaidAt = &paidAt
	}
	return e, nil
}

func (e *Enrollment) IsActivated() bool { return e.InvitationStatus == InvitationStatusActivated }
func (e *Enrollment) IsPaid() bool      { return e.PaymentStatus == PaymentStatusPaid }

// Activate moves the enrollment into the activated state. It reports false when the
// enrollment was already activated, in which case nothing changes.
func (e *Enrollment) Activate(now time.Time) bool {
	if e.IsActivated() {
		return false
	}
	at := now
	e.InvitationStatus = InvitationStatusActivated
	e.ActivatedAt = &at
	return true
}

// MarkPaid is sticky: a paid enrollment keeps its original PaidAt.
func (e *Enrollment) MarkPaid(now time.Time) bool {
	if e.IsPaid() {
		return false
	}
	at := now
	e.PaymentStatus = PaymentStatusPaid
	e.PaidAt = &at
	return true
}

// ApplyPromo records the promo code at most once.
func (e *Enrollment) ApplyPromo(promoID string) bool {
	if e.AppliedPromoID != nil || promoID == "" {
		return false
	}
	id := promoID
	e.AppliedPromoID = &id
	return true
}

// CanReceiveReleaseNotifications matches the recipients of lesson release notifications.
func (e *Enrollment) CanReceiveReleaseNotifications() bool {
	return e.IsActivated() && e.IsPaid()
}
