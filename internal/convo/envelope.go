// Package convo owns the dialogue with the model: ordered history rooted in a
// system directive, request pacing, attachment shaping, and parsing of raw
// replies into typed response envelopes.
package convo

import (
	"bytes"
	"encoding/json"
)

// Optional is a JSON field that distinguishes three states: absent from the
// payload (undefined), explicitly null, and present with a value. Downstream
// routing treats undefined as "could not determine intent" and null as "the
// model explicitly said none", so the distinction must survive parsing.
type Optional[T any] struct {
	Defined bool
	Null    bool
	Value   T
}

// UnmarshalJSON marks the field defined; it is only called for present keys.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Defined = true
	if bytes.Equal(data, []byte("null")) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// IsSet reports whether the field holds an actual value.
func (o Optional[T]) IsSet() bool { return o.Defined && !o.Null }

// definedNull is the post-parse default for keys a well-formed envelope
// omitted.
func definedNull[T any]() Optional[T] {
	return Optional[T]{Defined: true, Null: true}
}

// Envelope is the typed form of one model reply.
type Envelope struct {
	Message    string
	Action     Optional[string]
	Data       Optional[json.RawMessage]
	Plugin     Optional[string]
	PluginArgs Optional[json.RawMessage]
}

type wireEnvelope struct {
	Message    string                    `json:"message"`
	Action     Optional[string]          `json:"action"`
	Data       Optional[json.RawMessage] `json:"data"`
	Plugin     Optional[string]          `json:"plugin"`
	PluginArgs Optional[json.RawMessage] `json:"pluginArgs"`
}

// ParseEnvelope turns a raw model reply into an Envelope. A well-formed JSON
// object yields typed fields with missing keys normalized to explicit null.
// Anything else degrades to the raw text as the message with every typed
// field undefined; parsing never fails.
func ParseEnvelope(raw string) Envelope {
	var w wireEnvelope
	if !isObject(raw) || json.Unmarshal([]byte(raw), &w) != nil {
		return Envelope{Message: raw}
	}

	env := Envelope{
		Message:    w.Message,
		Action:     w.Action,
		Data:       w.Data,
		Plugin:     w.Plugin,
		PluginArgs: w.PluginArgs,
	}
	if !env.Action.Defined {
		env.Action = definedNull[string]()
	}
	if !env.Data.Defined {
		env.Data = definedNull[json.RawMessage]()
	}
	if !env.Plugin.Defined {
		env.Plugin = definedNull[string]()
	}
	if !env.PluginArgs.Defined {
		env.PluginArgs = definedNull[json.RawMessage]()
	}
	if env.Message == "" {
		env.Message = raw
	}
	return env
}

// isObject rejects top-level JSON scalars and arrays, which decode without
// error into a struct or lose information. Only an object is an envelope.
func isObject(raw string) bool {
	trimmed := bytes.TrimSpace([]byte(raw))
	return len(trimmed) > 0 && trimmed[0] == '{'
}
