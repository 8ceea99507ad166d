package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrRateLimited        = errors.New("rate limited")
)

// ReasonError carries a human-readable reason next to one of the sentinel kinds above.
// errors.Is(err, domain.ErrInvalidState) holds for a ReasonError of that kind.
type ReasonError struct {
	Kind   error
	Reason string
}

func (e *ReasonError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *ReasonError) Unwrap() error { return e.Kind }

func NotFound(reason string) error     { return &ReasonError{Kind: ErrNotFound, Reason: reason} }
func Forbidden(reason string) error    { return &ReasonError{Kind: ErrForbidden, Reason: reason} }
func InvalidState(reason string) error { return &ReasonError{Kind: ErrInvalidState, Reason: reason} }

// Reason extracts the human-readable reason of err, falling back to err.Error().
func Reason(err error) string {
	var re *ReasonError
	if errors.As(err, &re) && re.Reason != "" {
		return re.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
