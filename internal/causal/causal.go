// Package causal tracks the operation a worker is currently executing so that
// logs and nested work can be attributed to the request that caused them.
package causal

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Ref identifies an operation and the operation that caused it.
type Ref struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// NewRef creates a root reference with a fresh ID.
func NewRef(name string) Ref {
	return Ref{ID: uuid.NewString(), Name: name}
}

// Child creates a reference caused by r.
func (r Ref) Child(name string) Ref {
	return Ref{ID: uuid.NewString(), ParentID: r.ID, Name: name}
}

// IsZero reports whether r carries no ID.
func (r Ref) IsZero() bool { return r.ID == "" }

type ctxKey struct{}

// WithRef returns a context carrying ref.
func WithRef(ctx context.Context, ref Ref) context.Context {
	return context.WithValue(ctx, ctxKey{}, ref)
}

// FromContext returns the reference carried by ctx.
func FromContext(ctx context.Context) (Ref, bool) {
	ref, ok := ctx.Value(ctxKey{}).(Ref)
	return ref, ok
}

// Tracker holds the process-wide stack of operations in progress.
type Tracker struct {
	mu    sync.Mutex
	stack []Ref
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// With makes ref current while fn runs. The reference is removed on every
// exit path, including panics.
func (t *Tracker) With(ctx context.Context, ref Ref, fn func(context.Context) error) error {
	t.push(ref)
	defer t.pop(ref)
	return fn(WithRef(ctx, ref))
}

// Current returns the innermost operation.
func (t *Tracker) Current() (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.stack) == 0 {
		return Ref{}, false
	}
	return t.stack[len(t.stack)-1], true
}

// Depth returns the number of operations in progress.
func (t *Tracker) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// Clear drops all operations.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.stack = nil
	t.mu.Unlock()
}

func (t *Tracker) push(ref Ref) {
	t.mu.Lock()
	t.stack = append(t.stack, ref)
	t.mu.Unlock()
}

// pop removes the newest entry for ref. It is a no-op after Clear.
func (t *Tracker) pop(ref Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i] == ref {
			t.stack = slices.Delete(t.stack, i, i+1)
			return
		}
	}
}
