package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mattjoyce/transmute/internal/events"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/transform"
)

// NodeReport is the outcome of one node.
type NodeReport struct {
	ID      int64
	Name    string
	Status  Status
	Subject transform.Subject
	// Executions counts the step invocations this run physically ran for the
	// node.
	Executions int
}

// RunReport summarizes a scheduler run.
type RunReport struct {
	// Order lists node ids in the order they started.
	Order []int64
	Nodes map[int64]NodeReport
}

// Executions is the number of step invocations the run physically ran. Work
// served from a cache or by a concurrent run is not counted.
func (r RunReport) Executions() int {
	n := 0
	for _, nr := range r.Nodes {
		n += nr.Executions
	}
	return n
}

// Failures returns reports for failed and skipped nodes, ordered by id.
func (r RunReport) Failures() []NodeReport {
	var out []NodeReport
	for _, n := range r.Nodes {
		if n.Status == StatusFailed || n.Status == StatusSkipped {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Scheduler runs nodes on a bounded worker pool once their dependencies are
// terminal.
type Scheduler struct {
	events events.Publisher
	logger *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEvents publishes a node.finished event per terminal node.
func WithEvents(p events.Publisher) SchedulerOption {
	return func(s *Scheduler) { s.events = p }
}

func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{logger: log.WithComponent("scheduler")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type workResult struct {
	node     Node
	executed int
	err      error
}

// Run executes the transitive dependency closure of roots. New nodes stop
// being dispatched once ctx is cancelled or a node returns an infrastructure
// error; running nodes are allowed to finish. Nodes shared with a concurrent
// run are waited for rather than executed twice.
func (s *Scheduler) Run(ctx context.Context, roots []Node, workers int) (RunReport, error) {
	if workers <= 0 {
		return RunReport{}, fmt.Errorf("workers must be > 0")
	}

	nodes, err := closure(roots)
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{Nodes: make(map[int64]NodeReport, len(nodes))}
	if len(nodes) == 0 {
		return report, nil
	}

	workCh := make(chan Node)
	doneCh := make(chan workResult)
	for range workers {
		go func() {
			for n := range workCh {
				executed, err := n.Execute(ctx)
				doneCh <- workResult{node: n, executed: executed, err: err}
			}
		}()
	}
	defer close(workCh)

	dispatched := make(map[int64]bool, len(nodes))
	// Nodes shared with an earlier run are already terminal.
	for _, n := range nodes {
		if n.Status().Terminal() {
			dispatched[n.ID()] = true
			report.Nodes[n.ID()] = reportFor(n)
		}
	}
	inFlight := 0
	var firstErr error

	ready := func() []Node {
		var out []Node
		for _, n := range nodes {
			if dispatched[n.ID()] {
				continue
			}
			eligible := true
			for _, d := range n.Dependencies() {
				if !d.Status().Terminal() {
					eligible = false
					break
				}
			}
			if eligible {
				out = append(out, n)
			}
		}
		return out
	}

	for {
		stopping := firstErr != nil || ctx.Err() != nil
		if !stopping {
			for _, n := range ready() {
				if inFlight >= workers {
					break
				}
				dispatched[n.ID()] = true
				report.Order = append(report.Order, n.ID())
				inFlight++
				workCh <- n
			}
		}
		if inFlight == 0 {
			break
		}

		r := <-doneCh
		inFlight--
		s.finished(r.node, r.executed, &report)
		if r.err != nil && firstErr == nil {
			firstErr = r.err
			s.logger.Error("node execution aborted the run", "node_id", r.node.ID(), "node", r.node.DisplayName(), "error", r.err)
		}
	}

	if firstErr != nil {
		return report, firstErr
	}
	if err := ctx.Err(); err != nil && len(report.Nodes) < len(nodes) {
		return report, fmt.Errorf("run cancelled: %w", err)
	}
	return report, nil
}

func reportFor(n Node) NodeReport {
	subject, _ := n.Result()
	return NodeReport{ID: n.ID(), Name: n.DisplayName(), Status: n.Status(), Subject: subject}
}

func (s *Scheduler) finished(n Node, executed int, report *RunReport) {
	nr := reportFor(n)
	nr.Executions = executed
	report.Nodes[nr.ID] = nr

	errText := ""
	if f := nr.Subject.Failure(); f != nil {
		errText = f.Error()
	}
	s.logger.Debug("node finished", "node_id", nr.ID, "node", nr.Name, "status", nr.Status)
	if s.events != nil {
		s.events.Publish(events.NodeFinished, events.NodePayload{
			NodeID: nr.ID,
			Name:   nr.Name,
			Status: string(nr.Status),
			Error:  errText,
		})
	}
}

// closure returns every node reachable from roots, dependencies first.
func closure(roots []Node) ([]Node, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[int64]int)
	var order []Node

	var visit func(n Node) error
	visit = func(n Node) error {
		switch state[n.ID()] {
		case done:
			return nil
		case visiting:
			return errors.New("dependency cycle at node " + n.DisplayName())
		}
		state[n.ID()] = visiting
		for _, d := range n.Dependencies() {
			if err := visit(d); err != nil {
				return err
			}
		}
		state[n.ID()] = done
		order = append(order, n)
		return nil
	}

	for _, r := range roots {
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	return order, nil
}
