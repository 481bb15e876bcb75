// Package protocol defines the JSON envelope exchanged with external action
// executables: one Request on stdin, one Response on stdout.
package protocol

import "time"

// Version is the only protocol version spoken.
const Version = 1

// Request is sent to an external action via stdin.
type Request struct {
	Protocol     int            `json:"protocol"`
	Step         string         `json:"step"`
	Input        string         `json:"input"`
	OutputDir    string         `json:"output_dir"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Parameters   map[string]any `json:"parameters"`
	DeadlineAt   time.Time      `json:"deadline_at"`
}

// OutputKind distinguishes registered files from directories.
type OutputKind string

const (
	OutputFile OutputKind = "file"
	OutputDir  OutputKind = "dir"
)

// Output is one location registered by the action. Relative paths resolve
// against the request's output directory.
type Output struct {
	Path string     `json:"path"`
	Kind OutputKind `json:"kind"`
}

// Response is received from an external action via stdout.
type Response struct {
	Status  string     `json:"status"` // ok | error
	Error   string     `json:"error,omitempty"`
	Outputs []Output   `json:"outputs,omitempty"`
	Logs    []LogEntry `json:"logs,omitempty"`
}

// LogEntry is a log message emitted by the action.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}
