package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidOpportunity = errors.New("invalid opportunity")
	ErrUnknownNetwork     = errors.New("unknown network")
	ErrUnknownBorrow      = errors.New("unknown borrow source")
	ErrNoCapacity         = errors.New("no execution capacity")
	ErrBreakerOpen        = errors.New("circuit breaker open")
	ErrRiskDenied         = errors.New("risk check denied")
	ErrStepFailed         = errors.New("execution step failed")
	ErrStepTimeout        = errors.New("execution step timed out")
	ErrStranded           = errors.New("asset stranded mid-bridge")
	ErrExpired            = errors.New("opportunity expired")
	ErrContextDone        = errors.New("context cancelled")
)
