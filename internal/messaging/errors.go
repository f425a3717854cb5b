package messaging

import "errors"

var (
	ErrConflict    = errors.New("messaging: already exists")
	ErrNotFound    = errors.New("messaging: not found")
	ErrDenied      = errors.New("messaging: access denied")
	ErrUnavailable = errors.New("messaging: service unavailable")
	ErrLogin       = errors.New("messaging: login failed")
)
