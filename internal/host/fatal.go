package host

import (
	"errors"
	"sync"

	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

// FatalFailures collects worker initialization failures so they can be
// raised once, ahead of any per-request results.
type FatalFailures struct {
	mu       sync.Mutex
	seen     map[string]bool
	failures []error
}

// Add records the first failure reported by workerID.
func (f *FatalFailures) Add(workerID string, err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[workerID] {
		return
	}
	f.seen[workerID] = true
	f.failures = append(f.failures, rawFailure(err))
}

// Len returns the number of failed workers.
func (f *FatalFailures) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

// Err returns nil when no worker failed, the raw cause when one did and an
// error joining every cause otherwise.
func (f *FatalFailures) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch len(f.failures) {
	case 0:
		return nil
	case 1:
		return f.failures[0]
	}
	return ferrors.SessionError("failed to initialize workers").
		WithCause(errors.Join(f.failures...)).
		WithContext("workers", len(f.failures)).
		Build()
}

// rawFailure strips the session wrapper a worker puts around its
// initialization cause.
func rawFailure(err error) error {
	var f *protocol.Failure
	if errors.As(err, &f) && f.Category == string(ferrors.CategorySession) && f.Cause != nil {
		return f.Cause
	}
	var ce *ferrors.ClassifiedError
	if errors.As(err, &ce) && ce.Category() == ferrors.CategorySession {
		if cause := errors.Unwrap(ce); cause != nil {
			return cause
		}
	}
	return err
}
