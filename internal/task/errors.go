package task

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSpec       = errors.New("invalid task spec")
	ErrNilAction         = fmt.Errorf("%w: action is required", ErrInvalidSpec)
	ErrInvalidPeriod     = fmt.Errorf("%w: period must be > 0", ErrInvalidSpec)
	ErrSkipWithoutPeriod = fmt.Errorf("%w: skip first execution requires a repeat period", ErrInvalidSpec)
)
