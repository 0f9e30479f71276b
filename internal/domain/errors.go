package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyClosed   = errors.New("position already closed")
	ErrChallengeActive = errors.New("challenge already active")
	ErrRiskIncrease    = errors.New("stop-loss update would increase risk")
	ErrFeedUnavailable = errors.New("price feed unavailable")
	ErrLockHeld        = errors.New("lock already held")
)

// RejectReason enumerates the order validation failures. Reasons are surfaced
// verbatim to the caller and never retried automatically.
type RejectReason string

const (
	RejectChallengeInactive     RejectReason = "ChallengeInactive"
	RejectChallengeNotActive    RejectReason = "ChallengeNotActive"
	RejectDailyBlockActive      RejectReason = "DailyBlockActive"
	RejectOneTradeLimit         RejectReason = "OneTradeLimit"
	RejectDailyLossLimitReached RejectReason = "DailyLossLimitReached"
	RejectMaxLossLimitReached   RejectReason = "MaxLossLimitReached"
	RejectInsufficientFunds     RejectReason = "InsufficientFunds"
	RejectInsufficientMargin    RejectReason = "InsufficientMargin"
	RejectOrderSizeExceedsCap   RejectReason = "OrderSizeExceedsCap"
	RejectLeverageExceeded      RejectReason = "LeverageExceeded"
)

// ValidationError is returned when an order fails one of the pre-trade
// checks. The first failing check wins; later checks are not evaluated.
type ValidationError struct {
	Reason RejectReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Rejected wraps a reason and optional detail into a ValidationError.
func Rejected(reason RejectReason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsValidation extracts a *ValidationError from err, if present.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
