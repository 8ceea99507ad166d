package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"telegram-course-streams/internal/domain"
)

type PromoType string

const (
	PromoTypeFree    PromoType = "free"
	PromoTypePercent PromoType = "percent"
	PromoTypeFixed   PromoType = "fixed"
)

func (t PromoType) Valid() bool {
	switch t {
	case PromoTypeFree, PromoTypePercent, PromoTypeFixed:
		return true
	}
	return false
}

// Reasons reported when a promo code cannot be used.
const (
	PromoReasonNotFound    = "promo code not found"
	PromoReasonInactive    = "promo code is inactive"
	PromoReasonExpired     = "promo code has expired"
	PromoReasonExhausted   = "promo code usage limit reached"
	PromoReasonAlreadyUsed = "promo code already used"
)

// PromoCode is scoped to one stream; (StreamID, Code) is unique.
type PromoCode struct {
	ID            string
	StreamID      string
	Code          string
	Type          PromoType
	DiscountValue *int64 // nil for free codes
	ExpiresAt     *time.Time
	UsageLimit    *int // nil = unlimited
	UsedCount     int
	IsActive      bool
	CreatedAt     time.Time
}

// PromoUsage is unique per (PromoCodeID, EnrollmentID).
type PromoUsage struct {
	ID           string
	PromoCodeID  string
	EnrollmentID string
	CreatedAt    time.Time
}

// PromoQuote is the result of pricing a stream with a promo code.
type PromoQuote struct {
	PromoCodeID    string
	Type           PromoType
	OriginalPrice  int64
	DiscountAmount int64
	FinalPrice     int64
	IsFree         bool
}

// NormalizePromoCode trims and upper-cases user input so codes match case-insensitively.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewPromoCode validates and constructs an active promo code.
func NewPromoCode(id, streamID, code string, typ PromoType, value *int64, expiresAt *time.Time, usageLimit *int) (*PromoCode, error) {
	code = NormalizePromoCode(code)
	if id == "" || streamID == "" || code == "" || !typ.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	switch typ {
	case PromoTypeFree:
		value = nil
	case PromoTypePercent:
		if value == nil || *value <= 0 || *value > 100 {
			return nil, domain.ErrInvalidArgument
		}
	case PromoTypeFixed:
		if value == nil || *value <= 0 {
			return nil, domain.ErrInvalidArgument
		}
	}
	if usageLimit != nil && *usageLimit < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &PromoCode{
		ID:            id,
		StreamID:      streamID,
		Code:          code,
		Type:          typ,
		DiscountValue: value,
		ExpiresAt:     expiresAt,
		UsageLimit:    usageLimit,
		IsActive:      true,
		CreatedAt:     time.Now(),
	}, nil
}

// CheckUsable runs the per-code part of validation in order: active, not expired, budget left.
func (p *PromoCode) CheckUsable(now time.Time) error {
	if !p.IsActive {
		return domain.InvalidState(PromoReasonInactive)
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return domain.InvalidState(PromoReasonExpired)
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return domain.InvalidState(PromoReasonExhausted)
	}
	return nil
}

// Quote computes the discount of this code against original.
func (p *PromoCode) Quote(original int64) PromoQuote {
	q := PromoQuote{PromoCodeID: p.ID, Type: p.Type, OriginalPrice: original}
	var value int64
	if p.DiscountValue != nil {
		value = *p.DiscountValue
	}
	switch p.Type {
	case PromoTypeFree:
		q.DiscountAmount = original
	case PromoTypePercent:
		q.DiscountAmount = decimal.NewFromInt(original).
			Mul(decimal.NewFromInt(value)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case PromoTypeFixed:
		q.DiscountAmount = min(value, original)
	}
	q.FinalPrice = max(0, original-q.DiscountAmount)
	q.IsFree = p.Type == PromoTypeFree || q.FinalPrice == 0
	return q
}
