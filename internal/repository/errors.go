package repository

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrRedirectNotFound = errors.New("redirect state not found")
)
