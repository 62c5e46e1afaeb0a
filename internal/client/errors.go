package client

import (
	"errors"
	"fmt"
	"net/http"

	"clinicstock/backend/internal/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrSuperseded   = errors.New("request superseded by a newer one")
)

// TransportError is a network or gateway failure. Reads that fail with it are
// retried; mutations are surfaced to the caller as is.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the backend. It unwraps to the matching
// domain error kind so callers can use errors.Is(err, domain.ErrValidation).
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrStateConflict
	default:
		return nil
	}
}

// StaleViewError reports that a local collection may be out of sync with the
// server. Collections handle it by refetching.
type StaleViewError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *StaleViewError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stale view %s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("stale view %s: %s", e.Topic, e.Reason)
}

func (e *StaleViewError) Unwrap() error {
	return e.Err
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
