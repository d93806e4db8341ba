package convo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"seven/internal/llm"
	"seven/internal/logging"
)

// directiveTemplate is turn 0 of every conversation. The capability
// placeholder is substituted by SetCapabilityCatalog.
const directiveTemplate = `You are Seven, an intelligent voice-activated AI assistant.

RESPONSE FORMAT (REQUIRED):
Always respond with a single valid JSON object:
{"message": "your spoken response", "action": "action_name or null", "data": "action payload or null", "plugin": "plugin_name or null", "pluginArgs": "plugin input or null"}

BUILT-IN ACTIONS YOU CAN EXECUTE:
- open_url: Open a web page {url}
- get_time: Current time
- get_date: Today's date
- play_media: Play a song or video {query}
- web_search: Search the web {query}
- show_alert: Show an alert to the user {text}
- system_info: Report device/system status
- send_message: Send an SMS-style message {to, body}
- open_whatsapp: Open a WhatsApp chat {to, text}

AVAILABLE PLUGINS:
__PLUGIN_DESCRIPTIONS__

RULES:
1. Always use the JSON format. Never wrap it in markdown fences.
2. Set at most one of "action" and "plugin" per response; use null for the rest.
3. For plain conversation set both "action" and "plugin" to null.
4. "message" is what the user hears; keep it short and natural.
5. Be forgiving of voice transcription errors in the user's text.`

// Attachment is one file accompanying a user message. Content holds document
// text, or base64 image bytes when MIME is an image type.
type Attachment struct {
	Name    string
	MIME    string
	Content string
}

// IsImage reports whether the attachment is image-typed.
func (a Attachment) IsImage() bool { return strings.HasPrefix(a.MIME, "image/") }

// Turn is one persisted dialogue turn.
type Turn struct {
	Role    llm.Role
	Content string
}

// Config holds orchestrator settings.
type Config struct {
	// MinRequestInterval is the cooperative pacing floor between backend
	// calls. Send suspends the caller until it has elapsed.
	MinRequestInterval time.Duration

	// MaxTurns bounds the non-directive history length. Oldest turns are
	// dropped in user/assistant pairs.
	MaxTurns int
}

// Orchestrator owns one conversation: its history, pacing, and the typed
// parsing of raw replies. Safe for concurrent use.
type Orchestrator struct {
	mu       sync.Mutex
	client   llm.Client
	cfg      Config
	history  []Turn
	facts    string
	lastSend time.Time
}

// NewOrchestrator creates an orchestrator with an empty capability catalog.
func NewOrchestrator(client llm.Client, cfg Config) *Orchestrator {
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = time.Second
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 40
	}
	o := &Orchestrator{client: client, cfg: cfg}
	o.history = []Turn{{Role: llm.RoleSystem, Content: renderDirective("")}}
	return o
}

// renderDirective substitutes the capability catalog into the template.
func renderDirective(catalog string) string {
	if catalog == "" {
		catalog = "No plugins are currently available."
	}
	return strings.ReplaceAll(directiveTemplate, "__PLUGIN_DESCRIPTIONS__", catalog)
}

// SetCapabilityCatalog re-renders turn 0 with the given plugin catalog.
func (o *Orchestrator) SetCapabilityCatalog(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	directive := Turn{Role: llm.RoleSystem, Content: renderDirective(text)}
	if len(o.history) == 0 || o.history[0].Role != llm.RoleSystem {
		o.history = append([]Turn{directive}, o.history...)
		return
	}
	o.history[0] = directive
}

// SetLongTermFacts records long-term user facts. They are appended to the
// directive at send time only, never persisted into history, so every
// outbound call carries the latest facts without duplicating them per turn.
func (o *Orchestrator) SetLongTermFacts(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.facts = strings.TrimSpace(text)
}

// RestoreHistory replaces all turns after the directive with a prior
// session's turns, in order.
func (o *Orchestrator) RestoreHistory(turns []Turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = o.history[:1]
	for _, t := range turns {
		if t.Role == llm.RoleSystem {
			continue
		}
		o.history = append(o.history, t)
	}
	o.trimLocked()
}

// Reset drops every turn after the directive.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = o.history[:1]
}

// History returns a copy of the persisted turns, directive included.
func (o *Orchestrator) History() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Turn, len(o.history))
	copy(out, o.history)
	return out
}

// Send issues one user message and returns the typed envelope.
//
// Attachments shape the outbound content for this call only: any image
// attachment switches to a multi-part message carrying text plus images, and
// non-image attachments are dropped on that path. With no images, document
// attachments are appended as labeled text. History always records the
// original unshaped text, and on success the raw reply verbatim, even when
// envelope parsing falls back.
func (o *Orchestrator) Send(ctx context.Context, userText string, attachments []Attachment) (Envelope, error) {
	if err := o.pace(ctx); err != nil {
		return Envelope{}, err
	}

	o.mu.Lock()
	o.history = append(o.history, Turn{Role: llm.RoleUser, Content: userText})
	outbound := o.outboundLocked(userText, attachments)
	o.lastSend = time.Now()
	o.mu.Unlock()

	logging.Convo("send: %d chars, %d attachments", len(userText), len(attachments))

	raw, err := o.client.Chat(ctx, outbound)
	if err != nil {
		return Envelope{}, err
	}

	o.mu.Lock()
	o.history = append(o.history, Turn{Role: llm.RoleAssistant, Content: raw})
	o.trimLocked()
	o.mu.Unlock()

	env := ParseEnvelope(raw)
	if !env.Action.Defined {
		logging.ConvoDebug("reply was not an envelope, degraded to raw text")
	}
	return env, nil
}

// pace suspends until the minimum inter-request interval has elapsed.
func (o *Orchestrator) pace(ctx context.Context) error {
	o.mu.Lock()
	wait := o.cfg.MinRequestInterval - time.Since(o.lastSend)
	last := o.lastSend
	o.mu.Unlock()

	if last.IsZero() || wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// outboundLocked builds the provider message list for this call: the
// directive (facts appended), prior turns, and the shaped final user message.
// Caller holds o.mu. The final user turn is already in history.
func (o *Orchestrator) outboundLocked(userText string, attachments []Attachment) []llm.Message {
	out := make([]llm.Message, 0, len(o.history)+1)

	directive := o.history[0].Content
	if o.facts != "" {
		directive += "\n\nUSER CONTEXT (from previous conversations):\n" + o.facts
	}
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: directive})

	for _, t := range o.history[1 : len(o.history)-1] {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}

	out = append(out, shapeMessage(userText, attachments))
	return out
}

// shapeMessage applies the attachment branch. Image present: multi-part, and
// non-image attachments are ignored on this path. Otherwise documents become
// labeled text below the message.
func shapeMessage(userText string, attachments []Attachment) llm.Message {
	hasImage := false
	for _, a := range attachments {
		if a.IsImage() {
			hasImage = true
			break
		}
	}

	if hasImage {
		parts := []llm.Part{{Text: userText}}
		for _, a := range attachments {
			if a.IsImage() {
				parts = append(parts, llm.Part{ImageMIME: a.MIME, ImageData: a.Content})
			}
		}
		return llm.Message{Role: llm.RoleUser, Parts: parts}
	}

	if len(attachments) == 0 {
		return llm.Message{Role: llm.RoleUser, Content: userText}
	}

	var b strings.Builder
	b.WriteString(userText)
	b.WriteString("\n\n[Attached Files]\n")
	for _, a := range attachments {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", a.Name, a.Content)
	}
	return llm.Message{Role: llm.RoleUser, Content: b.String()}
}

// trimLocked drops the oldest user/assistant pairs once the bound is
// exceeded, keeping the directive. Caller holds o.mu.
func (o *Orchestrator) trimLocked() {
	for len(o.history)-1 > o.cfg.MaxTurns {
		n := 2
		if len(o.history)-1 < 2 {
			n = 1
		}
		o.history = append(o.history[:1], o.history[1+n:]...)
	}
}
