// Package domain holds the sentinel errors shared by sessions and views.
package domain

import "errors"

// ErrNotFound indicates the requested pattern or session does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request clashes with a session already in flight.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates the request failed input validation.
var ErrValidation = errors.New("validation failed")
