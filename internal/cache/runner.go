package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/transmute/internal/events"
	"github.com/mattjoyce/transmute/internal/fingerprint"
	"github.com/mattjoyce/transmute/internal/history"
	"github.com/mattjoyce/transmute/internal/transform"
	"github.com/mattjoyce/transmute/internal/workspace"
)

// noDependencies stands in for the dependency fingerprint of steps that do
// not consume upstream dependencies.
const noDependencies = "no-dependencies"

// Options carries the collaborators shared by both stores. All are optional.
type Options struct {
	BuildID string
	Events  events.Publisher
	Log     InvocationLog
	Logger  *slog.Logger
}

// runner executes a step into a staged workspace and publishes it.
type runner struct {
	store   string
	buildID string
	events  events.Publisher
	log     InvocationLog
	logger  *slog.Logger
	ws      workspace.Manager
	now     func() time.Time
}

// prepared is the fingerprinted form of an invocation.
type prepared struct {
	inv      Invocation
	input    string
	snapshot fingerprint.Snapshot
	depsHash string
}

func prepare(inv Invocation) (prepared, error) {
	if inv.Step == nil {
		return prepared{}, fmt.Errorf("invocation has no step")
	}
	input, err := filepath.Abs(inv.Input)
	if err != nil {
		return prepared{}, infraErr("resolve input", inv.Input, err)
	}
	snap, err := fingerprint.Take(input)
	if err != nil {
		return prepared{}, infraErr("fingerprint input", input, err)
	}

	depsHash := noDependencies
	if inv.Step.RequiresDependencies() {
		if depsHash, err = fingerprint.Files(inv.Dependencies); err != nil {
			return prepared{}, infraErr("fingerprint dependencies", input, err)
		}
	}
	return prepared{inv: inv, input: input, snapshot: snap, depsHash: depsHash}, nil
}

// missingInput is the failure for an input that does not exist.
func (p prepared) missingInput() error {
	if p.snapshot.Kind != fingerprint.KindMissing {
		return nil
	}
	return &ExecutionError{Step: p.inv.Step.Name(), Input: p.input, Err: ErrMissingInput}
}

type publishFunc func(ctx context.Context, staged workspace.Staged) (workspace.Workspace, error)

// execute runs the step in a fresh staged workspace. Step failures come back
// as Result.Failure; only infrastructure failures return an error.
func (r *runner) execute(ctx context.Context, identity string, p prepared, recordInput string, publish publishFunc) (Result, error) {
	step := p.inv.Step
	logger := r.logger.With("identity", identity, "step", step.Name(), "input", p.input)

	staged, err := r.ws.Stage(ctx, identity)
	if err != nil {
		return Result{}, infraErr("stage workspace", identity, err)
	}

	started := r.now()
	r.publish(events.TransformStarted, events.TransformPayload{
		BuildID:  r.buildID,
		Identity: identity,
		Store:    r.store,
		Step:     step.Name(),
		Input:    p.input,
	})
	logger.Debug("executing step", "workspace", staged.Dir)

	deps := p.inv.Dependencies
	if !step.RequiresDependencies() {
		deps = nil
	}
	collector := newOutputCollector(staged.OutputDir())
	failure := callAction(ctx, step, step.Request(p.input, staged.OutputDir(), deps), collector)

	var records []string
	if failure == nil {
		records, failure = collector.relativize(step.Name(), p.input)
	}

	if failure != nil {
		if err := r.ws.Discard(staged); err != nil {
			logger.Warn("failed to discard staged workspace", "error", err)
		}
		r.finished(identity, p, started, failure)
		logger.Info("step failed", "error", failure)
		return Result{Identity: identity, Failure: failure}, nil
	}

	hashes, err := hashOutputs(records, staged.OutputDir())
	if err != nil {
		_ = r.ws.Discard(staged)
		r.finished(identity, p, started, err)
		return Result{}, infraErr("fingerprint outputs", staged.OutputDir(), err)
	}
	record := Record{
		Identity:     identity,
		Step:         step.Name(),
		Input:        recordInput,
		InputHash:    p.snapshot.Hash,
		BuildID:      r.buildID,
		CreatedAt:    started.UTC(),
		Outputs:      records,
		OutputHashes: hashes,
	}
	if err := writeRecord(staged.ResultsFile(), record); err != nil {
		_ = r.ws.Discard(staged)
		r.finished(identity, p, started, err)
		return Result{}, infraErr("write results record", staged.ResultsFile(), err)
	}

	ws, err := publish(ctx, staged)
	if err != nil {
		_ = r.ws.Discard(staged)
		if errors.Is(err, workspace.ErrExists) {
			// The step succeeded; another process published the same identity.
			r.finished(identity, p, started, nil)
		} else {
			r.finished(identity, p, started, err)
		}
		return Result{}, infraErr("publish workspace", identity, err)
	}

	files, err := resolveRecords(records, ws.OutputDir(), p.input)
	if err != nil {
		return Result{}, infraErr("resolve outputs", ws.ResultsFile(), err)
	}

	r.finished(identity, p, started, nil)
	logger.Info("step executed", "outputs", len(files), "duration", r.now().Sub(started))
	return Result{Identity: identity, Files: files}, nil
}

// load reads a published workspace. A missing workspace reports ok=false. A
// workspace whose outputs changed since publication reports an error wrapping
// errInconsistentWorkspace.
func (r *runner) load(ctx context.Context, identity string, p prepared) (Result, bool, error) {
	ws, err := r.ws.Open(ctx, identity)
	if errors.Is(err, os.ErrNotExist) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, infraErr("open workspace", identity, err)
	}

	rec, err := ReadRecord(ws.ResultsFile())
	if err != nil {
		return Result{}, false, infraErr("read results record", ws.ResultsFile(), err)
	}
	if rec.Identity != identity {
		return Result{}, false, infraErr("read results record", ws.ResultsFile(),
			fmt.Errorf("identity mismatch: record has %q", rec.Identity))
	}
	if err := checkOutputs(rec, ws.OutputDir()); err != nil {
		if errors.Is(err, errInconsistentWorkspace) {
			return Result{}, false, err
		}
		return Result{}, false, infraErr("fingerprint outputs", ws.OutputDir(), err)
	}
	files, err := resolveRecords(rec.Outputs, ws.OutputDir(), p.input)
	if err != nil {
		return Result{}, false, infraErr("resolve outputs", ws.ResultsFile(), err)
	}
	return Result{Identity: identity, Files: files, Cached: true}, true, nil
}

func (r *runner) finished(identity string, p prepared, started time.Time, failure error) {
	status := history.StatusSucceeded
	errText := ""
	if failure != nil {
		status = history.StatusFailed
		errText = failure.Error()
	}
	r.publish(events.TransformFinished, events.TransformPayload{
		BuildID:    r.buildID,
		Identity:   identity,
		Store:      r.store,
		Step:       p.inv.Step.Name(),
		Input:      p.input,
		Status:     status,
		Error:      errText,
		DurationMS: r.now().Sub(started).Milliseconds(),
	})
}

// record appends the invocation to the log. Log failures are reported but do
// not fail the step.
func (r *runner) record(ctx context.Context, p prepared, res Result, started time.Time) {
	if r.log == nil {
		return
	}
	status := history.StatusSucceeded
	errText := ""
	if res.Failure != nil {
		status = history.StatusFailed
		errText = res.Failure.Error()
	}
	_, err := r.log.RecordInvocation(ctx, history.Invocation{
		BuildID:    r.buildID,
		Identity:   res.Identity,
		Store:      r.store,
		Step:       p.inv.Step.Name(),
		Input:      p.input,
		Status:     status,
		Cached:     res.Cached,
		Error:      errText,
		StartedAt:  started,
		FinishedAt: r.now(),
	})
	if err != nil {
		r.logger.Warn("failed to record invocation", "identity", res.Identity, "error", err)
	}
}

func (r *runner) publish(eventType string, payload events.TransformPayload) {
	if r.events != nil {
		r.events.Publish(eventType, payload)
	}
}

func callAction(ctx context.Context, step *transform.Step, req transform.Request, out transform.Outputs) (failure error) {
	defer func() {
		if rec := recover(); rec != nil {
			failure = &ExecutionError{Step: step.Name(), Input: req.Input, Err: panicError(rec)}
		}
	}()
	if err := step.Action().Transform(ctx, req, out); err != nil {
		return &ExecutionError{Step: step.Name(), Input: req.Input, Err: err}
	}
	return nil
}
