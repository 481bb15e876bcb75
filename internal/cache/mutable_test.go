package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/transmute/internal/cache/mocks"
	"github.com/mattjoyce/transmute/internal/history"
	"github.com/mattjoyce/transmute/internal/storage"
)

func newHistory(t *testing.T) *history.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return history.NewStore(db)
}

func TestMutableStoreReusesUnchangedInput(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	buildRoot := filepath.Join(root, "build", "transforms")
	input := writeInput(t, filepath.Join(root, "build", "libs"), "app.txt", "v1")
	hist := newHistory(t)
	action := &countingAction{}
	step := newStep(t, "copy", action)

	build := func(id string) Result {
		store, err := NewMutableStore(buildRoot, NewIdentityCache(), hist, Options{BuildID: id})
		require.NoError(t, err)
		res, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
		require.NoError(t, err)
		require.False(t, res.Failed())
		return res
	}

	first := build("b1")
	assert.Equal(t, int32(1), action.calls.Load())

	second := build("b2")
	assert.Equal(t, int32(1), action.calls.Load(), "unchanged input reuses the workspace")
	assert.True(t, second.Cached)
	assert.Equal(t, first.Files, second.Files)

	require.NoError(t, os.WriteFile(input, []byte("v2"), 0o644))
	third := build("b3")
	assert.Equal(t, int32(2), action.calls.Load(), "changed input re-executes")
	assert.Equal(t, first.Identity, third.Identity, "mutable identity is location based")

	got, err := os.ReadFile(third.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	snap, err := hist.LoadSnapshot(ctx, third.Identity)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "b3", snap.BuildID)
}

func TestMutableStoreMemoizesWithinBuild(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := writeInput(t, root, "app.txt", "v1")
	action := &countingAction{}
	step := newStep(t, "copy", action)

	store, err := NewMutableStore(filepath.Join(root, "transforms"), NewIdentityCache(), newHistory(t), Options{})
	require.NoError(t, err)

	_, err = store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(input, []byte("v2"), 0o644))
	res, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), action.calls.Load())
}

func TestMutableStoreDoesNotSnapshotFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := t.TempDir()
	input := writeInput(t, root, "app.txt", "v1")
	snapshots := mocks.NewMockSnapshotStore(ctrl)
	snapshots.EXPECT().LoadSnapshot(gomock.Any(), gomock.Any()).Return(nil, nil)
	// No StoreSnapshot expected.

	store, err := NewMutableStore(filepath.Join(root, "transforms"), NewIdentityCache(), snapshots, Options{})
	require.NoError(t, err)

	res, err := store.Invoke(context.Background(), Invocation{Step: newStep(t, "broken", failingAction("nope")), Input: input})
	require.NoError(t, err)
	var execErr *ExecutionError
	assert.True(t, errors.As(res.Failure, &execErr))
}

func TestMutableStoreSnapshotErrorIsInfrastructure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := t.TempDir()
	input := writeInput(t, root, "app.txt", "v1")
	snapshots := mocks.NewMockSnapshotStore(ctrl)
	snapshots.EXPECT().LoadSnapshot(gomock.Any(), gomock.Any()).Return(nil, errors.New("database is locked"))

	store, err := NewMutableStore(filepath.Join(root, "transforms"), NewIdentityCache(), snapshots, Options{})
	require.NoError(t, err)

	action := &countingAction{}
	_, err = store.Invoke(context.Background(), Invocation{Step: newStep(t, "copy", action), Input: input})
	var infra *InfrastructureError
	require.True(t, errors.As(err, &infra))
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, int32(0), action.calls.Load())
}

func TestMutableStoreRebuildsMissingWorkspace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	buildRoot := filepath.Join(root, "transforms")
	input := writeInput(t, root, "app.txt", "v1")
	hist := newHistory(t)
	action := &countingAction{}
	step := newStep(t, "copy", action)

	store, err := NewMutableStore(buildRoot, NewIdentityCache(), hist, Options{})
	require.NoError(t, err)
	res, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)

	// Someone wiped the build directory; the snapshot still matches.
	require.NoError(t, os.RemoveAll(buildRoot))

	store, err = NewMutableStore(buildRoot, NewIdentityCache(), hist, Options{})
	require.NoError(t, err)
	again, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.Equal(t, res.Files, again.Files)
	assert.Equal(t, int32(2), action.calls.Load())
}

func TestMutableStoreRebuildsModifiedWorkspace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	buildRoot := filepath.Join(root, "transforms")
	input := writeInput(t, root, "app.txt", "v1")
	hist := newHistory(t)
	action := &countingAction{}
	step := newStep(t, "copy", action)

	store, err := NewMutableStore(buildRoot, NewIdentityCache(), hist, Options{})
	require.NoError(t, err)
	res, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(res.Files[0], []byte("edited by hand"), 0o644))

	store, err = NewMutableStore(buildRoot, NewIdentityCache(), hist, Options{})
	require.NoError(t, err)
	again, err := store.Invoke(ctx, Invocation{Step: step, Input: input})
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Equal(t, int32(2), action.calls.Load())
	data, err := os.ReadFile(again.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestReadRecordRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 99\nidentity: x\noutputs: []\n"), 0o644))
	_, err := ReadRecord(path)
	assert.Error(t, err)

	require.NoError(t, writeRecord(path, Record{Identity: "x", Outputs: []string{"o/a"}}))
	rec, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, []string{"o/a"}, rec.Outputs)
}
