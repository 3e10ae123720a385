package annotations

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a request missing or exceeding required fields;
	// rejected before any store call.
	ErrValidation = errors.New("annotations: validation failed")
	// ErrNotFound indicates an unknown annotation or document identifier.
	ErrNotFound = errors.New("annotations: not found")
	// ErrForbidden indicates an ownership mismatch; never silently escalated.
	ErrForbidden = errors.New("annotations: forbidden")
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
