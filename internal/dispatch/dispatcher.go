package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"seven/internal/convo"
	"seven/internal/logging"
	"seven/internal/plugins"
)

// Dispatcher routes one envelope per call. Built-in actions and plugin
// requests are isolated from each other: a failure on either path is
// returned as a failure result, never propagated as an error.
type Dispatcher struct {
	registry *plugins.Registry
	host     Host
	clock    func() time.Time
}

// NewDispatcher creates a dispatcher over the given registry and host.
func NewDispatcher(registry *plugins.Registry, host Host) *Dispatcher {
	return &Dispatcher{registry: registry, host: host}
}

// Dispatch routes an envelope:
//
//  1. A set (non-null, defined) action runs the matching built-in; unknown
//     names yield a typed failure.
//  2. Otherwise a set plugin name is delegated to the registry with the
//     plugin arguments.
//  3. Otherwise the turn is conversation-only and succeeds with no payload.
//
// An envelope setting both action and plugin is a contract violation by the
// model; the action wins and the ignored plugin request is logged.
func (d *Dispatcher) Dispatch(ctx context.Context, env convo.Envelope, cc plugins.CallContext) plugins.Result {
	if env.Action.IsSet() {
		if env.Plugin.IsSet() {
			logging.DispatchWarn("envelope sets both action %q and plugin %q; action wins",
				env.Action.Value, env.Plugin.Value)
		}
		return d.runBuiltin(ctx, env.Action.Value, rawOrNil(env.Data))
	}

	if env.Plugin.IsSet() {
		input := argString(env.PluginArgs)
		logging.Dispatch("delegating to plugin %q", env.Plugin.Value)
		return d.registry.Execute(ctx, env.Plugin.Value, input, cc)
	}

	// Conversation-only turn.
	return plugins.Result{Success: true}
}

func (d *Dispatcher) runBuiltin(ctx context.Context, name string, data json.RawMessage) plugins.Result {
	fn, ok := builtins[name]
	if !ok {
		logging.DispatchWarn("unknown action %q requested", name)
		return failure("unknown action %q", name)
	}
	logging.Dispatch("running action %q", name)
	return fn(ctx, d, data)
}

func rawOrNil(o convo.Optional[json.RawMessage]) json.RawMessage {
	if !o.IsSet() {
		return nil
	}
	return o.Value
}

// argString converts plugin arguments to the string contract plugins expect:
// a JSON string is unquoted, any other value passes through as JSON text.
func argString(o convo.Optional[json.RawMessage]) string {
	if !o.IsSet() {
		return ""
	}
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s
	}
	return string(o.Value)
}
