package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidSignal     = errors.New("invalid signal")
	ErrSymbolUnavailable = errors.New("symbol not tradeable")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnsupported       = errors.New("not supported by venue")
	ErrContextDone       = errors.New("context cancelled")
)
