package repositories

import (
	"errors"
	"fmt"
)

// MaxOrderSequence is the largest sequence that fits the six digit suffix of an order number.
const MaxOrderSequence int64 = 999999

// OrderNumberCounterID names the sequence behind MS-YYYY-NNNNNN order numbers. Each calendar
// year gets its own counter so numbering restarts at 1 in January.
func OrderNumberCounterID(year int) string {
	return fmt.Sprintf("orders-%04d", year)
}

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the next value would overflow the counter's ceiling.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

var (
	// ErrCounterInvalidInput matches any CounterError with CounterErrorInvalidInput.
	ErrCounterInvalidInput = &CounterError{Code: CounterErrorInvalidInput}
	// ErrCounterExhausted matches any CounterError with CounterErrorExhausted.
	ErrCounterExhausted = &CounterError{Code: CounterErrorExhausted}
)

// CounterError reports a failed increment of a named counter.
type CounterError struct {
	Counter string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	message := e.Message
	if message == "" {
		message = string(e.Code)
	}
	if e.Counter != "" {
		return fmt.Sprintf("counter %s: %s", e.Counter, message)
	}
	return message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches counter errors by code so callers can test against the sentinels above.
func (e *CounterError) Is(target error) bool {
	var other *CounterError
	if e == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// NewCounterError constructs a typed counter error for the named counter.
func NewCounterError(counter string, code CounterErrorCode, message string) *CounterError {
	return &CounterError{
		Counter: counter,
		Code:    code,
		Message: message,
	}
}
