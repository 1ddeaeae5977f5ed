package service

import "errors"

var (
	ErrNoConfirmation = errors.New("no confirmation to show")
	ErrMissingSession = errors.New("session id is required")
)
