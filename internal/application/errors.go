package application

import "fmt"

// ServiceErrorKind is the failure class crossing the service boundary. The
// HTTP layer maps these to status codes.
type ServiceErrorKind string

const (
	KindInvalidInput    ServiceErrorKind = "invalid_input"
	KindUpstreamFailure ServiceErrorKind = "upstream_failure"
	KindInternal        ServiceErrorKind = "internal"
)

type ServiceError struct {
	Kind ServiceErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
