package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrFieldMissing      = errors.New("required position field missing")
	ErrUnauthorised      = errors.New("edge not authorised")
	ErrInvalidFixedPoint = errors.New("invalid fixed-point value")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrNoPrice           = errors.New("no price available")
	ErrOrderRejected     = errors.New("order rejected")
	ErrLockHeld          = errors.New("lock already held")
)
