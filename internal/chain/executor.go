// Package chain applies transform chains to subjects through the cache.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/transmute/internal/cache"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/transform"
)

// UpstreamResolver supplies the upstream dependency files of a step applied to
// a subject.
type UpstreamResolver interface {
	Dependencies(ctx context.Context, step *transform.Step, subject transform.Subject) ([]string, error)
}

// UpstreamResolverFunc adapts a function to UpstreamResolver.
type UpstreamResolverFunc func(ctx context.Context, step *transform.Step, subject transform.Subject) ([]string, error)

func (f UpstreamResolverFunc) Dependencies(ctx context.Context, step *transform.Step, subject transform.Subject) ([]string, error) {
	return f(ctx, step, subject)
}

// Executor runs steps against the immutable or mutable cache depending on
// where the subject came from.
type Executor struct {
	immutable cache.Cache
	mutable   cache.Cache
	upstream  UpstreamResolver
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithUpstreamResolver sets the resolver used by Transform for steps that
// require dependencies.
func WithUpstreamResolver(r UpstreamResolver) Option {
	return func(e *Executor) { e.upstream = r }
}

// NewExecutor builds an executor. mutable may be nil when no local producers
// are involved; subjects from local producers then fail.
func NewExecutor(immutable, mutable cache.Cache, opts ...Option) *Executor {
	e := &Executor{
		immutable: immutable,
		mutable:   mutable,
		logger:    log.WithComponent("chain"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transform applies every step of c to subject. A failed subject is returned
// as is. The first failing step ends the chain; its failure is the result.
func (e *Executor) Transform(ctx context.Context, c *transform.Chain, subject transform.Subject) (transform.Subject, error) {
	current := subject
	for _, step := range c.Steps() {
		if current.Failed() {
			return current, nil
		}

		var deps []string
		if step.RequiresDependencies() && e.upstream != nil {
			resolved, err := e.upstream.Dependencies(ctx, step, current)
			if err != nil {
				return transform.Subject{}, fmt.Errorf("resolve dependencies of %s for %s: %w", step.Name(), current.Name(), err)
			}
			deps = resolved
		}

		next, err := e.ApplyStep(ctx, step, current, deps)
		if err != nil {
			return transform.Subject{}, err
		}
		current = next
	}
	return current, nil
}

// ApplyStep runs step on every file of subject, in order, and concatenates the
// outputs. The first failing file decides the failure.
func (e *Executor) ApplyStep(ctx context.Context, step *transform.Step, subject transform.Subject, deps []string) (transform.Subject, error) {
	out, _, err := e.Apply(ctx, step, subject, deps)
	return out, err
}

// Apply is ApplyStep that also reports how many per-file invocations ran the
// step instead of reusing a cached or in-flight result.
func (e *Executor) Apply(ctx context.Context, step *transform.Step, subject transform.Subject, deps []string) (transform.Subject, int, error) {
	if subject.Failed() {
		return subject, 0, nil
	}

	store, err := e.storeFor(subject)
	if err != nil {
		return transform.Subject{}, 0, err
	}

	logger := e.logger.With("step", step.Name(), "subject", subject.Name())
	var files []string
	executed := 0
	for _, input := range subject.Files() {
		res, err := store.Invoke(ctx, cache.Invocation{Step: step, Input: input, Dependencies: deps})
		if err != nil {
			return transform.Subject{}, executed, fmt.Errorf("apply %s to %s: %w", step.Name(), input, err)
		}
		if !res.Cached && !errors.Is(res.Failure, cache.ErrMissingInput) {
			executed++
		}
		if res.Failed() {
			logger.Debug("step failed", "input", input, "error", res.Failure)
			return subject.WithFailure(step, res.Failure), executed, nil
		}
		files = append(files, res.Files...)
	}

	logger.Debug("step applied", "inputs", len(subject.Files()), "outputs", len(files), "executed", executed)
	return subject.WithFiles(step, files), executed, nil
}

func (e *Executor) storeFor(subject transform.Subject) (cache.Cache, error) {
	if !subject.Mutable() {
		return e.immutable, nil
	}
	if e.mutable == nil {
		return nil, fmt.Errorf("subject %s comes from %s but no mutable store is configured", subject.Name(), subject.Producer())
	}
	return e.mutable, nil
}
