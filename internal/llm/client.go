// Package llm provides model completion clients for the providers Seven can
// talk to (Groq's OpenAI-compatible API, a local Ollama instance, and Gemini)
// plus a router implementing the auto-detect/fallback policy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in an outbound request. When Parts is non-nil the
// message is multi-part (text plus images) and Content is ignored.
type Message struct {
	Role    Role
	Content string
	Parts   []Part
}

// Part is one piece of a multi-part message.
type Part struct {
	Text string

	// ImageMIME and ImageData describe an inline image (base64 payload).
	// A Part carries either text or an image, not both.
	ImageMIME string
	ImageData string
}

// IsImage reports whether the part carries an image.
func (p Part) IsImage() bool { return p.ImageData != "" }

// Client is a model completion provider.
type Client interface {
	// Chat sends an ordered message list and returns the raw completion.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Name identifies the provider (groq, ollama, gemini).
	Name() string

	// Available reports whether the provider can serve requests right now.
	Available(ctx context.Context) bool
}

// TransportError is a typed failure from the transport layer. Timeout is set
// when the request exceeded its deadline, which callers must distinguish from
// other network failures.
type TransportError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// transportErr wraps err as a TransportError, classifying timeouts.
func transportErr(provider string, err error) error {
	return &TransportError{
		Provider: provider,
		Timeout:  isTimeout(err),
		Err:      err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
