package session

import (
	"errors"
	"fmt"
)

// Domain-specific errors for session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfiguration is returned when a connect is requested without a
	// resolvable host or a valid port.
	ErrConfiguration = errors.New("session: connection configuration not provided")

	// ErrInvalidTopic is returned when an empty topic filter is supplied.
	ErrInvalidTopic = errors.New("session: topic cannot be empty")

	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("session: connection rejected")
)

// RejectedError records a connect attempt refused by the broker or lost
// before the acknowledgement arrived.
type RejectedError struct {
	Code ResultCode
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session: connection refused: %s", e.Code)
}

// Is lets errors.Is(err, ErrRejected) match any rejection.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// TransportError wraps a failure returned by the protocol engine when
// opening a connection.
type TransportError struct {
	Host string
	Port int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: opening %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
