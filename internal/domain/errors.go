package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// ValidationError is an input problem caught before any network call.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	return ok
}

var ErrValidation = ValidationError{}

// UpstreamError carries a non-2xx answer from a third-party API.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Message)
}

// TransitionError is returned when an operation is invoked in the wrong stage.
type TransitionError struct {
	From Stage
	To   Stage
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

func (e TransitionError) Is(target error) bool {
	_, ok := target.(TransitionError)
	return ok
}

var ErrTransition = TransitionError{}

var (
	ErrOperationInFlight      = errors.New("another operation is in progress")
	ErrUnsupportedNetwork     = errors.New("no token factory configured for this network")
	ErrSharedAccountImmutable = errors.New("shared account address is already set")
	ErrMissingDeploymentEvent = errors.New(MissingDeploymentEvent)
	ErrLastEntry              = errors.New("at least one entry must remain")
)
