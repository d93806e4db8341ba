package convo

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seven/internal/llm"
)

// scriptedClient replays canned replies and records every outbound call.
type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Message
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	c.calls = append(c.calls, snapshot)
	if c.err != nil {
		return "", c.err
	}
	reply := `{"message":"ok"}`
	if len(c.replies) > 0 {
		reply = c.replies[0]
		c.replies = c.replies[1:]
	}
	return reply, nil
}

func (c *scriptedClient) Name() string                       { return "scripted" }
func (c *scriptedClient) Available(ctx context.Context) bool { return true }

func (c *scriptedClient) lastCall() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

func newTestOrchestrator(client llm.Client) *Orchestrator {
	return NewOrchestrator(client, Config{
		MinRequestInterval: 10 * time.Millisecond,
		MaxTurns:           40,
	})
}

func TestDirectiveIsTurnZero(t *testing.T) {
	o := newTestOrchestrator(&scriptedClient{})
	h := o.History()
	require.Len(t, h, 1)
	assert.Equal(t, llm.RoleSystem, h[0].Role)
	assert.Contains(t, h[0].Content, "No plugins are currently available.")
	assert.NotContains(t, h[0].Content, "__PLUGIN_DESCRIPTIONS__")
}

func TestSetCapabilityCatalog(t *testing.T) {
	o := newTestOrchestrator(&scriptedClient{})
	o.SetCapabilityCatalog("- calculator: evaluates arithmetic\n- weather: current conditions")

	h := o.History()
	assert.Contains(t, h[0].Content, "- calculator: evaluates arithmetic")
	assert.NotContains(t, h[0].Content, "__PLUGIN_DESCRIPTIONS__")
	assert.NotContains(t, h[0].Content, "No plugins are currently available.")

	// Re-rendering must replace, not stack.
	o.SetCapabilityCatalog("- notes: saves notes")
	h = o.History()
	assert.NotContains(t, h[0].Content, "calculator")
	assert.Contains(t, h[0].Content, "- notes: saves notes")
	require.Len(t, h, 1)
}

func TestSendAppendsOriginalTextAndRawReply(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"message":"done","action":null}`}}
	o := newTestOrchestrator(client)

	env, err := o.Send(context.Background(), "hello", []Attachment{
		{Name: "notes.txt", MIME: "text/plain", Content: "remember the milk"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", env.Message)

	h := o.History()
	require.Len(t, h, 3)
	assert.Equal(t, "hello", h[1].Content, "history keeps unshaped text")
	assert.Equal(t, `{"message":"done","action":null}`, h[2].Content, "history keeps the verbatim reply")

	// The wire message carries the shaped content instead.
	out := client.lastCall()
	last := out[len(out)-1]
	assert.Contains(t, last.Content, "[Attached Files]")
	assert.Contains(t, last.Content, "remember the milk")
}

func TestSendParseFallbackStillAppends(t *testing.T) {
	client := &scriptedClient{replies: []string{"plain prose, no JSON"}}
	o := newTestOrchestrator(client)

	env, err := o.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain prose, no JSON", env.Message)
	assert.False(t, env.Action.Defined)

	h := o.History()
	assert.Equal(t, "plain prose, no JSON", h[2].Content)
}

func TestSendImageBranchDropsDocuments(t *testing.T) {
	client := &scriptedClient{}
	o := newTestOrchestrator(client)

	_, err := o.Send(context.Background(), "what is in this photo?", []Attachment{
		{Name: "report.txt", MIME: "text/plain", Content: "quarterly numbers"},
		{Name: "photo.png", MIME: "image/png", Content: "aGVsbG8="},
	})
	require.NoError(t, err)

	out := client.lastCall()
	last := out[len(out)-1]
	require.NotNil(t, last.Parts)
	require.Len(t, last.Parts, 2)
	assert.Equal(t, "what is in this photo?", last.Parts[0].Text)
	assert.Equal(t, "aGVsbG8=", last.Parts[1].ImageData)
	for _, p := range last.Parts {
		assert.NotContains(t, p.Text, "quarterly numbers")
	}
}

func TestSendRateLimiting(t *testing.T) {
	client := &scriptedClient{}
	o := NewOrchestrator(client, Config{MinRequestInterval: 60 * time.Millisecond, MaxTurns: 40})

	start := time.Now()
	_, err := o.Send(context.Background(), "one", nil)
	require.NoError(t, err)
	_, err = o.Send(context.Background(), "two", nil)
	require.NoError(t, err)

	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("second send went out after %v, want at least the pacing interval", elapsed)
	}
}

func TestSendRateLimitRespectsContext(t *testing.T) {
	client := &scriptedClient{}
	o := NewOrchestrator(client, Config{MinRequestInterval: time.Hour, MaxTurns: 40})

	_, err := o.Send(context.Background(), "one", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = o.Send(ctx, "two", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLongTermFactsInjectedAtSendOnly(t *testing.T) {
	client := &scriptedClient{}
	o := newTestOrchestrator(client)
	o.SetLongTermFacts("user prefers metric units")

	_, err := o.Send(context.Background(), "how far is the moon?", nil)
	require.NoError(t, err)

	out := client.lastCall()
	assert.Contains(t, out[0].Content, "user prefers metric units")
	for _, turn := range o.History() {
		assert.NotContains(t, turn.Content, "user prefers metric units",
			"facts must never be persisted into history")
	}
}

func TestRestoreHistory(t *testing.T) {
	o := newTestOrchestrator(&scriptedClient{})
	o.RestoreHistory([]Turn{
		{Role: llm.RoleUser, Content: "earlier question"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
	})

	h := o.History()
	require.Len(t, h, 3)
	assert.Equal(t, llm.RoleSystem, h[0].Role)
	assert.Equal(t, "earlier question", h[1].Content)
	assert.Equal(t, "earlier answer", h[2].Content)

	// Restoring again replaces rather than appends.
	o.RestoreHistory([]Turn{{Role: llm.RoleUser, Content: "only turn"}})
	h = o.History()
	require.Len(t, h, 2)
	assert.Equal(t, "only turn", h[1].Content)
}

func TestHistoryTrimmedInPairs(t *testing.T) {
	client := &scriptedClient{}
	o := NewOrchestrator(client, Config{MinRequestInterval: time.Millisecond, MaxTurns: 4})

	for _, msg := range []string{"one", "two", "three", "four"} {
		_, err := o.Send(context.Background(), msg, nil)
		require.NoError(t, err)
	}

	h := o.History()
	require.Len(t, h, 5, "directive plus at most MaxTurns turns")
	assert.Equal(t, llm.RoleSystem, h[0].Role)
	assert.Equal(t, "three", h[1].Content, "oldest pairs dropped first")
	assert.Equal(t, llm.RoleUser, h[1].Role)
	assert.Equal(t, "four", h[3].Content)
}

func TestResetKeepsDirective(t *testing.T) {
	client := &scriptedClient{}
	o := newTestOrchestrator(client)
	_, err := o.Send(context.Background(), "hello", nil)
	require.NoError(t, err)

	o.Reset()
	h := o.History()
	require.Len(t, h, 1)
	assert.Equal(t, llm.RoleSystem, h[0].Role)
}

func TestTransportErrorPropagates(t *testing.T) {
	client := &scriptedClient{err: &llm.TransportError{Provider: "groq", Err: assert.AnError}}
	o := newTestOrchestrator(client)

	_, err := o.Send(context.Background(), "hi", nil)
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "groq", te.Provider)

	// The user turn stays in history; only the missing reply is absent.
	h := o.History()
	require.Len(t, h, 2)
	assert.True(t, strings.HasSuffix(h[1].Content, "hi"))
}
