package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/transform"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// countingAction copies the input into out.txt and counts how often it ran.
type countingAction struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req transform.Request, out transform.Outputs) error
}

func (a *countingAction) Transform(ctx context.Context, req transform.Request, out transform.Outputs) error {
	a.calls.Add(1)
	if a.fn != nil {
		return a.fn(ctx, req, out)
	}
	data, err := os.ReadFile(req.Input)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, "out.txt"), data, 0o644); err != nil {
		return err
	}
	out.File("out.txt")
	return nil
}

func newStep(t *testing.T, name string, action transform.Action) *transform.Step {
	t.Helper()
	s, err := transform.NewStep(transform.StepConfig{Name: name, ActionName: "test", Action: action})
	require.NoError(t, err)
	return s
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func failingAction(msg string) *countingAction {
	return &countingAction{fn: func(context.Context, transform.Request, transform.Outputs) error {
		return errors.New(msg)
	}}
}
