// Package plugins implements Seven's capability layer: a thread-safe registry
// of named plugins, built-in capabilities, and a loader for external plugins
// interpreted from a watched directory.
package plugins

import (
	"context"
	"fmt"
)

// CallContext carries per-invocation information into a plugin.
type CallContext struct {
	SessionID string
	Workspace string
}

// Result is the outcome of one plugin invocation.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ExecFunc is a plugin entry point. Returned errors and panics are converted
// into failure Results by the registry; a plugin can never crash the core.
type ExecFunc func(ctx context.Context, input string, cc CallContext) (Result, error)

// Plugin is one registered capability.
type Plugin struct {
	Name        string
	Description string
	Version     string
	Enabled     bool
	Exec        ExecFunc
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

func success(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}
