package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/transmute/internal/cache/mocks"
	"github.com/mattjoyce/transmute/internal/events"
	"github.com/mattjoyce/transmute/internal/history"
	"github.com/mattjoyce/transmute/internal/transform"
	"github.com/mattjoyce/transmute/internal/workspace"
)

func newImmutable(t *testing.T, root string, opts Options) *ImmutableStore {
	t.Helper()
	s, err := NewImmutableStore(root, NewIdentityCache(), nil, opts)
	require.NoError(t, err)
	return s
}

func TestImmutableStoreRunsOnce(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, filepath.Join(root, "in"), "lib.txt", "hello")
	action := &countingAction{}
	step := newStep(t, "copy", action)
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	first, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	require.False(t, first.Failed())
	assert.False(t, first.Cached)
	require.Len(t, first.Files, 1)

	got, err := os.ReadFile(first.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	second, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, int32(1), action.calls.Load())

	rec, err := ReadRecord(filepath.Join(filepath.Dir(filepath.Dir(first.Files[0])), "results.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"o/out.txt"}, rec.Outputs)
	assert.Equal(t, "lib.txt", rec.Input)
	assert.Equal(t, first.Identity, rec.Identity)
	require.Contains(t, rec.OutputHashes, "o/out.txt")
	assert.True(t, strings.HasPrefix(rec.OutputHashes["o/out.txt"], "file:"))
}

func TestImmutableStoreReplacesModifiedWorkspace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, filepath.Join(root, "in"), "lib.txt", "hello")
	cacheDir := filepath.Join(root, "cache")
	action := &countingAction{}
	step := newStep(t, "copy", action)

	first, err := newImmutable(t, cacheDir, Options{}).Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	require.Len(t, first.Files, 1)
	require.NoError(t, os.WriteFile(first.Files[0], []byte("TAMPERED"), 0o644))

	hub := events.NewHub(16)
	again, err := newImmutable(t, cacheDir, Options{Events: hub}).Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Equal(t, first.Identity, again.Identity)
	assert.Equal(t, int32(2), action.calls.Load())

	got, err := os.ReadFile(again.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	// The repaired workspace is served from the cache again.
	third, err := newImmutable(t, cacheDir, Options{}).Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.True(t, third.Cached)
	assert.Equal(t, int32(2), action.calls.Load())

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.TransformStarted, events.TransformFinished}, types)
}

func TestImmutableStoreDetectsRemovedOutput(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, filepath.Join(root, "in"), "lib.txt", "hello")
	cacheDir := filepath.Join(root, "cache")
	action := &countingAction{}
	step := newStep(t, "copy", action)

	first, err := newImmutable(t, cacheDir, Options{}).Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	require.NoError(t, os.Remove(first.Files[0]))

	again, err := newImmutable(t, cacheDir, Options{}).Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.Equal(t, int32(2), action.calls.Load())
	_, err = os.Stat(again.Files[0])
	assert.NoError(t, err)
}

// vanishingManager reports a concurrent publish whose workspace is already
// gone when reloaded.
type vanishingManager struct {
	workspace.Manager
}

func (m vanishingManager) Publish(context.Context, workspace.Staged) (workspace.Workspace, error) {
	return workspace.Workspace{}, fmt.Errorf("publish: %w", workspace.ErrExists)
}

func TestImmutableStoreLostPublishRaceIsInfrastructureError(t *testing.T) {
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	hub := events.NewHub(16)
	store := newImmutable(t, filepath.Join(root, "cache"), Options{Events: hub})
	store.ws = vanishingManager{Manager: store.ws}

	res, err := store.Invoke(context.Background(), Invocation{Step: newStep(t, "copy", &countingAction{}), Input: input})
	var infra *InfrastructureError
	require.True(t, errors.As(err, &infra), "got %v", err)
	assert.Empty(t, res.Identity)
	assert.Empty(t, res.Files)

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2)
	assert.Equal(t, events.TransformFinished, evs[1].Type)
}

func TestImmutableStoreMemoizesFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	action := failingAction("compiler exploded")
	step := newStep(t, "compile", action)
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	for range 2 {
		res, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
		require.NoError(t, err)
		require.True(t, res.Failed())

		var execErr *ExecutionError
		require.True(t, errors.As(res.Failure, &execErr))
		assert.Contains(t, res.Failure.Error(), "execution failed for compile")
		assert.Contains(t, res.Failure.Error(), "compiler exploded")
	}
	assert.Equal(t, int32(1), action.calls.Load())

	entries, err := os.ReadDir(filepath.Join(root, "cache", "workspaces"))
	require.NoError(t, err)
	assert.Empty(t, entries, "failed staging directory is discarded")
}

func TestImmutableStoreCapturesPanic(t *testing.T) {
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	step := newStep(t, "panicky", &countingAction{fn: func(context.Context, transform.Request, transform.Outputs) error {
		panic("unexpected state")
	}})
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	res, err := store.Invoke(context.Background(), Invocation{Step: step, Input: input})
	require.NoError(t, err)
	var execErr *ExecutionError
	require.True(t, errors.As(res.Failure, &execErr))
	assert.Contains(t, res.Failure.Error(), "unexpected state")
}

func TestImmutableStoreRejectsIllegalOutput(t *testing.T) {
	root := t.TempDir()
	input := writeInput(t, filepath.Join(root, "in"), "lib.txt", "hello")
	outside := writeInput(t, root, "outside.txt", "x")
	step := newStep(t, "sneaky", &countingAction{fn: func(_ context.Context, _ transform.Request, out transform.Outputs) error {
		out.File(outside)
		return nil
	}})
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	res, err := store.Invoke(context.Background(), Invocation{Step: step, Input: input})
	require.NoError(t, err)
	require.True(t, res.Failed())

	var verr *ValidationError
	require.True(t, errors.As(res.Failure, &verr))
	assert.ErrorIs(t, res.Failure, ErrIllegalOutputLocation)
	assert.Equal(t, outside, verr.Output)
}

func TestImmutableStoreMissingOutput(t *testing.T) {
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	step := newStep(t, "forgetful", &countingAction{fn: func(_ context.Context, _ transform.Request, out transform.Outputs) error {
		out.File("never-written.txt")
		return nil
	}})
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	res, err := store.Invoke(context.Background(), Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Failure, ErrMissingOutput)
}

func TestImmutableStoreInputAsOutput(t *testing.T) {
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	step := newStep(t, "identity", &countingAction{fn: func(_ context.Context, req transform.Request, out transform.Outputs) error {
		out.File(req.Input)
		return nil
	}})
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	res, err := store.Invoke(context.Background(), Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.Equal(t, []string{input}, res.Files)
}

func TestImmutableStoreMissingInput(t *testing.T) {
	root := t.TempDir()
	action := &countingAction{}
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	res, err := store.Invoke(context.Background(), Invocation{Step: newStep(t, "copy", action), Input: filepath.Join(root, "absent")})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, int32(0), action.calls.Load())
}

func TestImmutableIdentityStableAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	// Same name and content in two different checkouts.
	inputA := writeInput(t, filepath.Join(root, "checkout-a"), "lib.txt", "hello")
	inputB := writeInput(t, filepath.Join(root, "checkout-b"), "lib.txt", "hello")

	actionA := &countingAction{}
	first := newImmutable(t, cacheDir, Options{})
	resA, err := first.Invoke(ctx, Invocation{Step: newStep(t, "copy", actionA), Input: inputA})
	require.NoError(t, err)

	actionB := &countingAction{}
	second := newImmutable(t, cacheDir, Options{})
	resB, err := second.Invoke(ctx, Invocation{Step: newStep(t, "copy", actionB), Input: inputB})
	require.NoError(t, err)

	assert.Equal(t, resA.Identity, resB.Identity)
	assert.Equal(t, resA.Files, resB.Files)
	assert.True(t, resB.Cached)
	assert.Equal(t, int32(0), actionB.calls.Load())

	// Different content: different identity.
	inputC := writeInput(t, filepath.Join(root, "checkout-c"), "lib.txt", "changed")
	idC, err := second.Identity(Invocation{Step: newStep(t, "copy", actionB), Input: inputC})
	require.NoError(t, err)
	assert.NotEqual(t, resA.Identity, idC)
}

func TestImmutableStoreConcurrentCallersExecuteOnce(t *testing.T) {
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	action := &countingAction{fn: func(_ context.Context, req transform.Request, out transform.Outputs) error {
		time.Sleep(20 * time.Millisecond)
		out.File(req.Input)
		return nil
	}}
	step := newStep(t, "copy", action)
	store := newImmutable(t, filepath.Join(root, "cache"), Options{})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Invoke(context.Background(), Invocation{Step: step, Input: input})
			assert.NoError(t, err)
			assert.False(t, res.Failed())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), action.calls.Load())
}

func TestImmutableStoreDependencies(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	dep := writeInput(t, root, "dep.txt", "v1")

	var seen []string
	withDeps, err := transform.NewStep(transform.StepConfig{
		Name:                 "link",
		ActionName:           "test",
		RequiresDependencies: true,
		Action: transform.ActionFunc(func(_ context.Context, req transform.Request, out transform.Outputs) error {
			seen = req.Dependencies
			out.File(req.Input)
			return nil
		}),
	})
	require.NoError(t, err)

	store := newImmutable(t, filepath.Join(root, "cache"), Options{})
	first, err := store.Invoke(ctx, Invocation{Step: withDeps, Input: input, Dependencies: []string{dep}})
	require.NoError(t, err)
	assert.Equal(t, []string{dep}, seen)

	require.NoError(t, os.WriteFile(dep, []byte("v2"), 0o644))
	second, err := store.Invoke(ctx, Invocation{Step: withDeps, Input: input, Dependencies: []string{dep}})
	require.NoError(t, err)
	assert.NotEqual(t, first.Identity, second.Identity, "dependency content is part of the identity")

	// Steps that do not require dependencies ignore them.
	plain := newStep(t, "plain", &countingAction{})
	a, err := store.Identity(Invocation{Step: plain, Input: input, Dependencies: []string{dep}})
	require.NoError(t, err)
	b, err := store.Identity(Invocation{Step: plain, Input: input})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestImmutableStorePublishesEventsAndLogs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	hub := events.NewHub(16)
	invLog := mocks.NewMockInvocationLog(ctrl)

	var logged []history.Invocation
	invLog.EXPECT().RecordInvocation(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv history.Invocation) (string, error) {
			logged = append(logged, inv)
			return "id", nil
		}).Times(2)

	store := newImmutable(t, filepath.Join(root, "cache"), Options{BuildID: "build-1", Events: hub, Log: invLog})
	step := newStep(t, "copy", &countingAction{})
	for range 2 {
		_, err := store.Invoke(context.Background(), Invocation{Step: step, Input: input})
		require.NoError(t, err)
	}

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2, "only the physical execution publishes events")
	assert.Equal(t, events.TransformStarted, evs[0].Type)
	assert.Equal(t, events.TransformFinished, evs[1].Type)

	var payload events.TransformPayload
	require.NoError(t, evs[1].Decode(&payload))
	assert.Equal(t, history.StatusSucceeded, payload.Status)
	assert.Equal(t, "build-1", payload.BuildID)
	assert.Equal(t, StoreImmutable, payload.Store)

	require.Len(t, logged, 2)
	assert.False(t, logged[0].Cached)
	assert.True(t, logged[1].Cached)
	assert.Equal(t, "copy", logged[1].Step)
}

func TestImmutableStorePrune(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	usage := mocks.NewMockUsageRecorder(ctrl)
	identities := NewIdentityCache()

	store, err := NewImmutableStore(filepath.Join(root, "cache"), identities, usage, Options{})
	require.NoError(t, err)

	usage.EXPECT().TouchWorkspace(gomock.Any(), gomock.Any(), "copy").Return(nil)
	action := &countingAction{}
	step := newStep(t, "copy", action)
	res, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)

	usage.EXPECT().StaleWorkspaces(gomock.Any(), time.Hour).Return([]history.WorkspaceUsage{
		{Identity: res.Identity, Step: "copy"},
	}, nil)
	usage.EXPECT().ForgetWorkspace(gomock.Any(), res.Identity).Return(nil)

	report, err := store.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{res.Identity}, report.Removed)
	_, statErr := os.Stat(res.Files[0])
	assert.True(t, os.IsNotExist(statErr))

	// The pruned identity executes again.
	usage.EXPECT().TouchWorkspace(gomock.Any(), res.Identity, "copy").Return(nil)
	_, err = store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.Equal(t, int32(2), action.calls.Load())
}

func TestImmutableStoreCorruptRecordIsInfrastructureError(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, root, "lib.txt", "hello")
	cacheDir := filepath.Join(root, "cache")
	step := newStep(t, "copy", &countingAction{})

	res, err := newImmutable(t, cacheDir, Options{}).Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	results := filepath.Join(cacheDir, "workspaces", res.Identity, "results.yaml")
	require.NoError(t, os.WriteFile(results, []byte("version: [\n"), 0o644))

	_, err = newImmutable(t, cacheDir, Options{}).Invoke(ctx, Invocation{Step: step, Input: input})
	var infra *InfrastructureError
	require.True(t, errors.As(err, &infra))
}
