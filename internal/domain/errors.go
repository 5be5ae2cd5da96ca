// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the request failed input validation.
// Wrap it with the field-specific message: fmt.Errorf("%w: task cannot be empty", ErrValidation).
var ErrValidation = errors.New("validation error")

// ErrBusy indicates the worker's single execution slot is taken.
var ErrBusy = errors.New("worker busy")
