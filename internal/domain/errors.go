package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")

	// ErrCapacity is a conflict: not enough unreserved capacity for a hold.
	ErrCapacity = fmt.Errorf("%w: insufficient capacity", ErrConflict)
)
