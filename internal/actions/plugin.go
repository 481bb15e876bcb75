package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/plugin"
	"github.com/mattjoyce/transmute/internal/protocol"
	"github.com/mattjoyce/transmute/internal/transform"
)

const (
	// maxStderrBytes caps the amount of stderr kept in a failure.
	maxStderrBytes = 64 * 1024
	// terminationGracePeriod is the wait between SIGTERM and SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// PluginAction runs an external executable speaking the JSON protocol.
type PluginAction struct {
	plugin *plugin.Plugin
	logger *slog.Logger
}

func NewPluginAction(p *plugin.Plugin) *PluginAction {
	return &PluginAction{plugin: p, logger: log.WithComponent("plugin").With("plugin", p.Name)}
}

func (a *PluginAction) Transform(ctx context.Context, req transform.Request, out transform.Outputs) error {
	names := make([]string, 0, len(req.Parameters))
	for k := range req.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	if err := a.plugin.CheckParameters(names); err != nil {
		return err
	}

	params := make(map[string]any, len(req.Parameters))
	for k, v := range req.Parameters {
		params[k] = plainValue(v)
	}

	timeout := a.plugin.Timeout
	if timeout <= 0 {
		timeout = plugin.DefaultTimeout
	}
	preq := &protocol.Request{
		Protocol:     protocol.Version,
		Step:         req.Step,
		Input:        req.Input,
		OutputDir:    req.OutputDir,
		Dependencies: req.Dependencies,
		Parameters:   params,
		DeadlineAt:   time.Now().Add(timeout).UTC(),
	}

	logger := a.logger.With("step", req.Step)
	resp, stderr, err := a.spawn(ctx, preq, timeout, logger)
	if err != nil {
		if stderr != "" {
			return fmt.Errorf("plugin %s: %w: %s", a.plugin.Name, err, stderr)
		}
		return fmt.Errorf("plugin %s: %w", a.plugin.Name, err)
	}

	for _, entry := range resp.Logs {
		logger.Log(ctx, pluginLevel(entry.Level), entry.Message)
	}
	if resp.Status == "error" {
		return errors.New(resp.Error)
	}
	for _, o := range resp.Outputs {
		switch o.Kind {
		case protocol.OutputDir:
			out.Dir(o.Path)
		default:
			out.File(o.Path)
		}
	}
	return nil
}

// spawn runs the entrypoint, writes the request to stdin and reads the
// response from stdout. Returns the response, stderr output and any error.
func (a *PluginAction) spawn(ctx context.Context, req *protocol.Request, timeout time.Duration, logger *slog.Logger) (*protocol.Response, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Termination is managed below rather than through CommandContext.
	cmd := exec.Command(a.plugin.Entrypoint)
	cmd.Dir = req.OutputDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "entrypoint", a.plugin.Entrypoint, "timeout", timeout)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timer.C:
		a.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case <-ctx.Done():
		a.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("exited with status %d", exitErr.ExitCode())
			}
			return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
		}
		// A plugin may exit without reading stdin; only a clean exit decides.
		<-writeErr

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

func (a *PluginAction) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	logger.Warn("stopping plugin, sending SIGTERM")
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// plainValue converts a primitive cty value for JSON encoding.
func plainValue(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	switch v.Type() {
	case cty.String:
		return v.AsString()
	case cty.Bool:
		return v.True()
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i
			}
		}
		f, _ := bf.Float64()
		return f
	default:
		return v.GoString()
	}
}

func pluginLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
