package domain

import "errors"

// Error kinds crossing component boundaries. Adapter-layer errors are wrapped
// into one of these before leaving a service; the HTTP layer maps each kind to
// a status code and a stable "kind" field.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrCreationFailed = errors.New("creation failed")
	ErrDispatch       = errors.New("dispatch failed")
	ErrPersistence    = errors.New("persistence failed")
	ErrUpstreamFetch  = errors.New("upstream fetch failed")
)
