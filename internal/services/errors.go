package services

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrArchiveDisabled    = errors.New("transcript archiving is not configured")
)

// ErrUpstream marks failures of the inference service.
var ErrUpstream = errors.New("inference service unavailable")
