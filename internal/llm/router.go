package llm

import (
	"context"
	"errors"
	"fmt"

	"seven/internal/logging"
)

// Router selects among providers and implements the auto-fallback policy:
// prefer the remote provider when it is configured, and fall over to the
// local one when the remote request fails at the transport layer.
type Router struct {
	// Provider pins a specific client name; "auto" (or empty) enables
	// detection and fallback.
	Provider string

	Primary  Client
	Fallback Client
	Pinned   map[string]Client
}

// NewRouter builds a router. primary and fallback drive auto mode; any
// additional clients become pinnable by name.
func NewRouter(provider string, primary, fallback Client, extra ...Client) *Router {
	pinned := make(map[string]Client)
	for _, c := range []Client{primary, fallback} {
		if c != nil {
			pinned[c.Name()] = c
		}
	}
	for _, c := range extra {
		if c != nil {
			pinned[c.Name()] = c
		}
	}
	return &Router{
		Provider: provider,
		Primary:  primary,
		Fallback: fallback,
		Pinned:   pinned,
	}
}

// Name returns the name of the client that would serve the next request.
func (r *Router) Name() string {
	c := r.pick(context.Background())
	if c == nil {
		return "none"
	}
	return c.Name()
}

// Available reports whether any provider can serve requests.
func (r *Router) Available(ctx context.Context) bool {
	if r.Provider != "" && r.Provider != "auto" {
		c := r.Pinned[r.Provider]
		return c != nil && c.Available(ctx)
	}
	for _, c := range []Client{r.Primary, r.Fallback} {
		if c != nil && c.Available(ctx) {
			return true
		}
	}
	return false
}

// Chat routes the request. In auto mode a transport failure on the primary
// retries once on the fallback; model-level errors are not retried.
func (r *Router) Chat(ctx context.Context, messages []Message) (string, error) {
	if r.Provider != "" && r.Provider != "auto" {
		c := r.Pinned[r.Provider]
		if c == nil {
			return "", fmt.Errorf("unknown provider %q", r.Provider)
		}
		return c.Chat(ctx, messages)
	}

	c := r.pick(ctx)
	if c == nil {
		return "", fmt.Errorf("no LLM provider available")
	}

	reply, err := c.Chat(ctx, messages)
	if err == nil {
		return reply, nil
	}

	var te *TransportError
	if !errors.As(err, &te) {
		return "", err
	}

	next := r.other(c)
	if next == nil || ctx.Err() != nil {
		return "", err
	}

	logging.API("provider %s failed (%v), falling back to %s", c.Name(), err, next.Name())
	reply, ferr := next.Chat(ctx, messages)
	if ferr != nil {
		return "", fmt.Errorf("%s failed after %s: %w", next.Name(), c.Name(), ferr)
	}
	return reply, nil
}

// pick chooses the client auto mode would try first. The primary wins when
// it reports availability; otherwise the fallback is probed.
func (r *Router) pick(ctx context.Context) Client {
	if r.Provider != "" && r.Provider != "auto" {
		return r.Pinned[r.Provider]
	}
	if r.Primary != nil && r.Primary.Available(ctx) {
		return r.Primary
	}
	if r.Fallback != nil && r.Fallback.Available(ctx) {
		return r.Fallback
	}
	return r.Primary
}

func (r *Router) other(c Client) Client {
	if c == r.Primary {
		return r.Fallback
	}
	return r.Primary
}
