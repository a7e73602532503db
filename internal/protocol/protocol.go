// Package protocol defines the messages exchanged between a host and a
// worker process, the serializers for request arguments, and a line-delimited
// JSON channel that carries them.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
)

// Request asks a worker to run its implementation once.
type Request struct {
	Operation causal.Ref
	Arg       any
}

// RequestProtocol is the worker's view of incoming messages.
type RequestProtocol interface {
	Run(req Request)
	RunThenStop(req Request)
	Stop()
}

// StreamHandler receives stream-level conditions from a connection.
type StreamHandler interface {
	// EndStream signals that the peer closed the connection.
	EndStream()
	// HandleStreamFailure signals a message that could not be decoded.
	HandleStreamFailure(err error)
}

// ResponseProtocol is the worker's outgoing interface. Exactly one of
// Completed, Failed or InfrastructureFailed answers each request; Log may be
// called any number of times before it.
type ResponseProtocol interface {
	Completed(result any) error
	Failed(err error) error
	InfrastructureFailed(err error) error
	Log(ev LogEvent) error
}

// LogEvent is a log record attributed to the operation that produced it.
type LogEvent struct {
	Operation causal.Ref        `json:"operation"`
	Time      time.Time         `json:"time"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// maxFailureDepth bounds the cause chain carried over the wire.
const maxFailureDepth = 16

// Failure is the wire form of an error chain.
type Failure struct {
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Category string            `json:"category,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
	Cause    *Failure          `json:"cause,omitempty"`
}

// NewFailure converts err and its cause chain into a Failure.
func NewFailure(err error) *Failure {
	return newFailure(err, 0)
}

func newFailure(err error, depth int) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Type: fmt.Sprintf("%T", err), Message: err.Error()}

	switch e := err.(type) {
	case *ferrors.ClassifiedError:
		f.Category = string(e.Category())
		f.Message = e.Message()
		f.Context = e.Context().Strings()
	case *isolation.LinkageError:
		f.Category = string(ferrors.CategoryLinkage)
		f.Context = map[string]string{"symbol": e.Symbol, "loader": e.Loader}
	}

	if depth < maxFailureDepth {
		f.Cause = newFailure(unwrapOne(err), depth+1)
	}
	return f
}

// unwrapOne follows single-error wrapping and, for joined errors, the first
// joined error. The joined message stays on the parent failure.
func unwrapOne(err error) error {
	if next := errors.Unwrap(err); next != nil {
		return next
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, next := range joined.Unwrap() {
			if next != nil {
				return next
			}
		}
	}
	return nil
}

// Error implements error so a host can return a Failure directly.
func (f *Failure) Error() string {
	if f.Type == "" {
		return f.Message
	}
	return fmt.Sprintf("%s (%s)", f.Message, f.Type)
}

// Unwrap exposes the cause chain.
func (f *Failure) Unwrap() error {
	if f.Cause == nil {
		return nil
	}
	return f.Cause
}

// IsLinkage reports whether any failure in the chain is a linkage failure.
func (f *Failure) IsLinkage() bool {
	for c := f; c != nil; c = c.Cause {
		if c.Category == string(ferrors.CategoryLinkage) {
			return true
		}
	}
	return false
}
