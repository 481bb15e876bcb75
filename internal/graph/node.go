// Package graph turns transform chains into schedulable execution nodes: one
// per step and concrete input, with edges to the producing node and to the
// node resolving upstream dependencies.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mattjoyce/transmute/internal/transform"
)

var (
	// ErrUpstreamFailed wraps the failure of a node whose dependency failed or
	// was skipped.
	ErrUpstreamFailed = errors.New("upstream dependency failed")
	// ErrResultAlreadySet is returned when a node's result is written twice.
	ErrResultAlreadySet = errors.New("node result already set")
)

// Status is the lifecycle state of a node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Node is a unit of work for the scheduler.
type Node interface {
	ID() int64
	DisplayName() string
	Dependencies() []Node
	// Execute runs the node once all dependencies are terminal and returns
	// the number of step invocations it physically ran. A node already
	// claimed by another run is waited for and reports zero. The returned
	// error is an infrastructure failure; step failures are recorded in the
	// result.
	Execute(ctx context.Context) (int, error)
	Result() (transform.Subject, bool)
	Status() Status
}

// StepApplier runs one step against a subject and reports how many
// invocations were not served from a cache.
type StepApplier interface {
	Apply(ctx context.Context, step *transform.Step, subject transform.Subject, deps []string) (transform.Subject, int, error)
}

type nodeState struct {
	id   int64
	name string

	mu     sync.Mutex
	status Status
	result transform.Subject
	set    bool
	done   chan struct{}
}

func (n *nodeState) ID() int64 { return n.id }

func (n *nodeState) DisplayName() string { return n.name }

func (n *nodeState) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *nodeState) Result() (transform.Subject, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result, n.set
}

func (n *nodeState) doneLocked() chan struct{} {
	if n.done == nil {
		n.done = make(chan struct{})
	}
	return n.done
}

// claim moves a pending node to running and reports true. A node another run
// has claimed is waited for until its result is set.
func (n *nodeState) claim(ctx context.Context) (bool, error) {
	n.mu.Lock()
	if n.status == StatusPending {
		n.status = StatusRunning
		n.mu.Unlock()
		return true, nil
	}
	done := n.doneLocked()
	n.mu.Unlock()

	select {
	case <-done:
		return false, nil
	case <-ctx.Done():
		return false, fmt.Errorf("node %d (%s): waiting for shared result: %w", n.id, n.name, ctx.Err())
	}
}

// complete writes the result slot exactly once.
func (n *nodeState) complete(result transform.Subject, status Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.set {
		return fmt.Errorf("node %d (%s): %w", n.id, n.name, ErrResultAlreadySet)
	}
	n.result = result
	n.status = status
	n.set = true
	close(n.doneLocked())
	return nil
}

func (n *nodeState) finish(result transform.Subject) error {
	status := StatusSucceeded
	if result.Failed() {
		status = StatusFailed
	}
	return n.complete(result, status)
}

// skipIfUpstreamFailed completes the node as skipped when any dependency
// failed or was skipped, and reports whether it did.
func (n *nodeState) skipIfUpstreamFailed(deps []Node, producer string) (bool, error) {
	for _, dep := range deps {
		st := dep.Status()
		if st != StatusFailed && st != StatusSkipped {
			continue
		}
		var cause error = errors.New(string(st))
		if res, ok := dep.Result(); ok && res.Failure() != nil {
			cause = res.Failure()
		}
		failure := fmt.Errorf("%w: %s: %w", ErrUpstreamFailed, dep.DisplayName(), cause)
		return true, n.complete(transform.FailedSubject(n.name, producer, failure), StatusSkipped)
	}
	return false, nil
}

// ArtifactNode yields the subject of one root artifact file. The producer
// function runs only when the node executes.
type ArtifactNode struct {
	nodeState
	variant *transform.Variant
	file    string
	produce ProducerFunc
}

// ProducerFunc materializes a root artifact. A returned error fails the node.
type ProducerFunc func(ctx context.Context, variant *transform.Variant, file string) (transform.Subject, error)

func (n *ArtifactNode) Dependencies() []Node { return nil }

func (n *ArtifactNode) Variant() *transform.Variant { return n.variant }

func (n *ArtifactNode) File() string { return n.file }

func (n *ArtifactNode) Execute(ctx context.Context) (int, error) {
	if owner, err := n.claim(ctx); !owner || err != nil {
		return 0, err
	}
	subject, err := n.produce(ctx, n.variant, n.file)
	if err != nil {
		subject = transform.FailedSubject(n.name, n.variant.Producer, fmt.Errorf("produce %s: %w", n.file, err))
	}
	return 0, n.finish(subject)
}

// StepNode applies one step to the subject of its producer node.
type StepNode struct {
	nodeState
	step       *transform.Step
	producer   Node
	dependency *DependencyNode
	applier    StepApplier
	root       *transform.Variant
}

func (n *StepNode) Step() *transform.Step { return n.step }

func (n *StepNode) Producer() Node { return n.producer }

func (n *StepNode) Dependencies() []Node {
	if n.dependency == nil {
		return []Node{n.producer}
	}
	return []Node{n.producer, n.dependency}
}

func (n *StepNode) Execute(ctx context.Context) (int, error) {
	if owner, err := n.claim(ctx); !owner || err != nil {
		return 0, err
	}
	if skipped, err := n.skipIfUpstreamFailed(n.Dependencies(), n.root.Producer); skipped || err != nil {
		return 0, err
	}

	subject, ok := n.producer.Result()
	if !ok {
		err := fmt.Errorf("node %d (%s): producer %s has no result", n.id, n.name, n.producer.DisplayName())
		_ = n.complete(transform.FailedSubject(n.name, n.root.Producer, err), StatusFailed)
		return 0, err
	}
	var deps []string
	if n.dependency != nil {
		resolved, _ := n.dependency.Result()
		deps = resolved.Files()
	}

	out, executed, err := n.applier.Apply(ctx, n.step, subject, deps)
	if err != nil {
		_ = n.complete(transform.FailedSubject(n.name, n.root.Producer, err), StatusFailed)
		return executed, fmt.Errorf("execute %s: %w", n.name, err)
	}
	return executed, n.finish(out)
}

// DependencyNode resolves the upstream dependency files a step needs. The
// resolver runs only when the node executes.
type DependencyNode struct {
	nodeState
	resolve func(ctx context.Context) ([]string, error)
}

func (n *DependencyNode) Dependencies() []Node { return nil }

func (n *DependencyNode) Execute(ctx context.Context) (int, error) {
	if owner, err := n.claim(ctx); !owner || err != nil {
		return 0, err
	}
	files, err := n.resolve(ctx)
	if err != nil {
		return 0, n.finish(transform.FailedSubject(n.name, "", fmt.Errorf("resolve dependencies: %w", err)))
	}
	return 0, n.finish(transform.NewSubject(n.name, "", files))
}
