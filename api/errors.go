package api

import "errors"

// Error classes. Every fatal error returned by the core wraps exactly one of these.
var (
	// ErrConfig covers bad patterns, missing options and mismatched chain orders.
	ErrConfig = errors.New("configuration error")
	// ErrInput covers missing or unreadable input and cache files.
	ErrInput = errors.New("input error")
	// ErrStorage covers connection and transaction failures.
	ErrStorage = errors.New("storage error")
)
