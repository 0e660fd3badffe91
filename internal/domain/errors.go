package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
	ErrQuoteUnavailable      = errors.New("quote unavailable")
	ErrBrokerUnavailable     = errors.New("broker unavailable")
	ErrOrderRejected         = errors.New("order rejected")
	ErrSignalExpired         = errors.New("signal expired")
	ErrDuplicateSignal       = errors.New("duplicate signal")
	ErrInsufficientAvailable = errors.New("insufficient available quantity")
	ErrInvalidQuantity       = errors.New("invalid quantity")
)
