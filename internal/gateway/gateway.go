package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Availability is the backend-reported readiness state.
type Availability string

const (
	StatusAvailable     Availability = "available"
	StatusAfterDownload Availability = "after-download"
	StatusNo            Availability = "no"
)

// Image is an opaque image payload forwarded to the model.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one prompt round-trip. Schema, when set, is a JSON-shape
// constraint the backend forwards to the model in whatever form it supports.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Image        *Image
	Schema       map[string]any
}

// Backend sends a prompt pair (plus optional image) to a model and returns
// raw text. Backends normalize provider-specific response shapes to a plain
// string before returning; callers never see anything else. Backends do not
// retry — policy lives in the orchestrator.
type Backend interface {
	Name() string
	// CheckAvailability returns nil when the backend is ready, or an
	// *Error with KindUnavailable carrying the raw status string.
	CheckAvailability(ctx context.Context) error
	Generate(ctx context.Context, req Request) (string, error)
}

// SessionBackend is a Backend whose model holds device resources and must
// be explicitly loaded and released around each extraction.
type SessionBackend interface {
	Backend
	OpenSession(ctx context.Context) error
	CloseSession(ctx context.Context) error
}

// ErrorKind tags gateway failures so the orchestrator can route them
// without string matching.
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota + 1
	KindTimeout
	KindBackend
)

// Error is the single failure shape leaving the gateway.
type Error struct {
	Kind   ErrorKind
	Status string // availability status for KindUnavailable
	Cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnavailable:
		return fmt.Sprintf("backend unavailable (status: %s)", e.Status)
	case KindTimeout:
		return "backend call timed out"
	default:
		if e.Cause != nil {
			return fmt.Sprintf("backend error: %v", e.Cause)
		}
		return "backend error"
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func NewUnavailable(status Availability, cause error) *Error {
	return &Error{Kind: KindUnavailable, Status: string(status), Cause: cause}
}

func NewTimeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Cause: cause}
}

func NewBackendError(cause error) *Error {
	return &Error{Kind: KindBackend, Cause: cause}
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindTimeout
}

func IsUnavailable(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindUnavailable
}

// wrapGenerateErr maps context expiry onto the timeout kind so every
// backend reports the same taxonomy.
func wrapGenerateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout(err)
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return NewBackendError(err)
}
