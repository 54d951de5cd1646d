package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable covers network, timeout and non-2xx failures of an external collaborator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidSubject means a ticker or sector could not be resolved and should be skipped.
	ErrInvalidSubject = errors.New("invalid subject")
	// ErrMaxPositions is returned by the ledger when the open position limit is reached.
	ErrMaxPositions = errors.New("max open positions reached")
)

type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func NewUpstreamError(service string, err error) error {
	return &UpstreamError{Service: service, Err: err}
}

func InvalidSubject(subject string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrInvalidSubject, subject)
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalidSubject, subject, cause)
}
