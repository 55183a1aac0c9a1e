// Package common provides shared utilities and types used across the application.
package common

import "errors"

// Common application errors.
var (
	// Pipeline errors.
	ErrExtractionFailed = errors.New("source extraction failed")
	ErrValidationFailed = errors.New("fact batch validation failed")
	ErrDimensionSync    = errors.New("dimension synchronization failed")
	ErrFactLoadFailed   = errors.New("fact load failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)
