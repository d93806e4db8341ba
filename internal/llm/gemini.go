package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"seven/internal/logging"
)

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
	}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string { return "gemini" }

// Available reports whether the client was constructed with a key.
func (c *GeminiClient) Available(ctx context.Context) bool {
	return c.client != nil
}

// Chat sends the message list and returns the raw completion text. The
// leading system message, if any, is carried as the system instruction.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.client == nil {
		return "", transportErr(c.Name(), fmt.Errorf("client not initialized"))
	}

	cfg := &genai.GenerateContentConfig{}
	if c.temperature > 0 {
		t := float32(c.temperature)
		cfg.Temperature = &t
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}

	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == RoleSystem {
			cfg.SystemInstruction = genai.NewContentFromText(messageText(m), genai.RoleUser)
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts, err := toGenAIParts(m)
		if err != nil {
			return "", err
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	logging.APIDebug("gemini request: model=%s messages=%d", c.model, len(messages))

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", transportErr(c.Name(), err)
	}

	text := result.Text()
	if text == "" {
		return "", transportErr(c.Name(), fmt.Errorf("no completion returned"))
	}
	return strings.TrimSpace(text), nil
}

func toGenAIParts(m Message) ([]*genai.Part, error) {
	if m.Parts == nil {
		return []*genai.Part{genai.NewPartFromText(m.Content)}, nil
	}
	out := make([]*genai.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.IsImage() {
			raw, err := base64.StdEncoding.DecodeString(p.ImageData)
			if err != nil {
				return nil, fmt.Errorf("bad image payload: %w", err)
			}
			out = append(out, genai.NewPartFromBytes(raw, p.ImageMIME))
		} else {
			out = append(out, genai.NewPartFromText(p.Text))
		}
	}
	return out, nil
}

// messageText flattens a message to plain text, dropping images.
func messageText(m Message) string {
	if m.Parts == nil {
		return m.Content
	}
	var text []string
	for _, p := range m.Parts {
		if !p.IsImage() && p.Text != "" {
			text = append(text, p.Text)
		}
	}
	return strings.Join(text, "\n")
}
