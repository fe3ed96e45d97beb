package services

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidOperation     = errors.New("invalid operation")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrUnknownAction        = errors.New("unknown xp action")
	ErrUnknownActivity      = errors.New("unknown activity type")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrBoostNotFound        = errors.New("boost event not found")
)
