package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")

	ErrLoginNotStarted    = errors.New("no login in progress for account")
	ErrLoginExpired       = errors.New("login attempt expired")
	ErrCodeTokenMismatch  = errors.New("code request token does not match")
	ErrSecondFactorNeeded = errors.New("second factor required")
)
