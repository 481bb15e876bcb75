package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/transform"
)

// DependencyProvider resolves the upstream dependency files for a step
// applied to artifacts of root.
type DependencyProvider interface {
	Dependencies(ctx context.Context, step *transform.Step, root *transform.Variant) ([]string, error)
}

// Registry expands transformed variants into execution nodes. Nodes are
// shared: a (producer node, step) pair always maps to the same StepNode.
type Registry struct {
	applier StepApplier
	deps    DependencyProvider
	produce ProducerFunc
	logger  *slog.Logger

	mu        sync.Mutex
	nextID    int64
	artifacts map[artifactKey]*ArtifactNode
	steps     map[stepKey]*StepNode
	resolvers map[resolverKey]*DependencyNode
}

type artifactKey struct {
	variant string
	file    string
}

type stepKey struct {
	producer int64
	step     string
}

type resolverKey struct {
	variant string
	step    string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDependencyProvider sets the provider for steps that require upstream
// dependencies. Without one those steps get no dependency files.
func WithDependencyProvider(p DependencyProvider) RegistryOption {
	return func(r *Registry) { r.deps = p }
}

// WithProducer overrides how root artifacts are materialized.
func WithProducer(fn ProducerFunc) RegistryOption {
	return func(r *Registry) { r.produce = fn }
}

func NewRegistry(applier StepApplier, opts ...RegistryOption) *Registry {
	r := &Registry{
		applier:   applier,
		produce:   ExistingFile,
		logger:    log.WithComponent("graph"),
		artifacts: make(map[artifactKey]*ArtifactNode),
		steps:     make(map[stepKey]*StepNode),
		resolvers: make(map[resolverKey]*DependencyNode),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExistingFile is the default producer: the artifact must already exist.
func ExistingFile(_ context.Context, v *transform.Variant, file string) (transform.Subject, error) {
	if _, err := os.Stat(file); err != nil {
		return transform.Subject{}, err
	}
	return transform.NewSubject(filepath.Base(file), v.Producer, []string{file}), nil
}

// Expand returns one terminal node per root file of tv: the last StepNode of
// the chain, or the ArtifactNode itself for a direct match.
func (r *Registry) Expand(tv transform.TransformedVariant) ([]Node, error) {
	if tv.Root == nil {
		return nil, fmt.Errorf("transformed variant has no root")
	}
	if len(tv.Root.Files) == 0 {
		return nil, fmt.Errorf("variant %s has no files", tv.Root.Name)
	}

	steps := tv.Chain().Steps()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Node, 0, len(tv.Root.Files))
	for _, file := range tv.Root.Files {
		var current Node = r.artifactLocked(tv.Root, file)
		for _, step := range steps {
			current = r.stepLocked(tv.Root, step, current)
		}
		out = append(out, current)
	}
	return out, nil
}

func (r *Registry) artifactLocked(v *transform.Variant, file string) *ArtifactNode {
	key := artifactKey{variant: v.Name, file: file}
	if n, ok := r.artifacts[key]; ok {
		return n
	}
	n := &ArtifactNode{
		nodeState: nodeState{id: r.allocID(), name: "artifact " + filepath.Base(file), status: StatusPending},
		variant:   v,
		file:      file,
		produce:   r.produce,
	}
	r.artifacts[key] = n
	r.logger.Debug("registered artifact node", "node_id", n.id, "variant", v.Name, "file", file)
	return n
}

func (r *Registry) stepLocked(root *transform.Variant, step *transform.Step, producer Node) *StepNode {
	key := stepKey{producer: producer.ID(), step: step.Identity()}
	if n, ok := r.steps[key]; ok {
		return n
	}

	var dep *DependencyNode
	if step.RequiresDependencies() && r.deps != nil {
		dep = r.resolverLocked(root, step)
	}

	n := &StepNode{
		nodeState:  nodeState{id: r.allocID(), name: step.Name() + " " + subjectName(producer), status: StatusPending},
		step:       step,
		producer:   producer,
		dependency: dep,
		applier:    r.applier,
		root:       root,
	}
	r.steps[key] = n
	r.logger.Debug("registered step node", "node_id", n.id, "name", n.name, "producer_id", producer.ID())
	return n
}

func (r *Registry) resolverLocked(root *transform.Variant, step *transform.Step) *DependencyNode {
	key := resolverKey{variant: root.Name, step: step.Identity()}
	if n, ok := r.resolvers[key]; ok {
		return n
	}
	provider := r.deps
	n := &DependencyNode{
		nodeState: nodeState{id: r.allocID(), name: "dependencies " + step.Name() + " " + root.Name, status: StatusPending},
		resolve: func(ctx context.Context) ([]string, error) {
			return provider.Dependencies(ctx, step, root)
		},
	}
	r.resolvers[key] = n
	return n
}

func (r *Registry) allocID() int64 {
	r.nextID++
	return r.nextID
}

// Len is the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.artifacts) + len(r.steps) + len(r.resolvers)
}

// subjectName is the trailing part of a display name: the file for an
// artifact node, the subject description for a step node.
func subjectName(n Node) string {
	switch p := n.(type) {
	case *ArtifactNode:
		return filepath.Base(p.file)
	case *StepNode:
		return p.name
	default:
		return n.DisplayName()
	}
}
