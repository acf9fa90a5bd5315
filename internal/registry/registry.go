// Copyright 2025 James Ross
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rivergate/jobqueue/internal/queue"
)

// Handler is the typed executor a caller registers for a job class. It
// mirrors the original bgworker's perform(args) -> Result<()> contract.
type Handler[Args any] interface {
	Perform(ctx context.Context, args Args) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc[Args any] func(ctx context.Context, args Args) error

func (f HandlerFunc[Args]) Perform(ctx context.Context, args Args) error { return f(ctx, args) }

// jobFunc is the erased form every registered handler is wrapped into:
// deserialize the payload, invoke Perform inside a panic boundary,
// convert a panic or deserialization failure into an error.
type jobFunc func(ctx context.Context, jobID string, data json.RawMessage) error

// Registry maps a job class name to its erased handler. It is safe for
// concurrent registration up until the first call to Seal; after that,
// registration is rejected rather than left to race nondeterministically.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]jobFunc
	sealed   atomic.Bool
}

// New returns an empty, unsealed Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]jobFunc)}
}

// Register binds a typed handler to a job class name. Calling Register
// after Seal returns an error instead of mutating the sealed registry.
func Register[Args any](r *Registry, name string, h Handler[Args]) error {
	wrapped := func(ctx context.Context, jobID string, data json.RawMessage) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%w: job %s class %s panicked: %v", panicMarker, jobID, name, rec)
			}
		}()

		var args Args
		if len(data) > 0 {
			if uErr := json.Unmarshal(data, &args); uErr != nil {
				return fmt.Errorf("unmarshal args for job %s class %s: %w", jobID, name, uErr)
			}
		}
		return h.Perform(ctx, args)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("jobqueue: registry sealed, cannot register %q after workers started", name)
	}
	r.handlers[name] = wrapped
	return nil
}

// panicMarker lets callers distinguish a recovered handler panic from an
// ordinary handler error using errors.Is, matching spec.md's HandlerPanic
// error kind (treated as HandlerError with the panic payload as message).
var panicMarker = fmt.Errorf("jobqueue: handler panic")

// IsPanic reports whether err originated from a recovered handler panic.
func IsPanic(err error) bool {
	return errors.Is(err, panicMarker)
}

// Seal transitions the registry to running: no further Register calls
// succeed. The worker pool calls this exactly once from Run().
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Dispatch looks up the handler for job.Name and invokes it. It returns
// queue.ErrHandlerNotFound, wrapped, when no handler is registered.
func (r *Registry) Dispatch(ctx context.Context, job queue.Job) error {
	r.mu.RLock()
	h, ok := r.handlers[job.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrHandlerNotFound, job.Name)
	}
	return h(ctx, job.ID, job.Data)
}

// Len reports how many classes are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
