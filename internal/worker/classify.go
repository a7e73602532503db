package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/metrics"
)

// PanicError is a recovered panic from an implementation.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error, so panics carrying a
// linkage error classify like a returned one.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Classify maps the outcome of one execution to a response kind. A nil error
// is completed. Linkage errors and errors classified as linkage or
// infrastructure mean the worker environment is unusable. Everything else is
// the action's own failure.
func Classify(err error) metrics.OutcomeLabel {
	switch {
	case err == nil:
		return metrics.OutcomeCompleted
	case isolation.IsLinkageError(err),
		ferrors.HasCategory(err, ferrors.CategoryLinkage),
		ferrors.HasCategory(err, ferrors.CategoryInfrastructure):
		return metrics.OutcomeInfrastructureFailed
	default:
		return metrics.OutcomeFailed
	}
}

// invoke runs h, converting a panic into a PanicError.
func invoke(ctx context.Context, h RequestHandler, arg any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Run(ctx, arg)
}
