package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"seven/internal/logging"
)

// GroqClient implements Client against Groq's OpenAI-compatible API.
type GroqClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// GroqConfig holds configuration for the Groq client.
type GroqConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultGroqConfig returns sensible defaults.
func DefaultGroqConfig(apiKey string) GroqConfig {
	return GroqConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.groq.com/openai/v1",
		Model:       "llama-3.1-8b-instant",
		Temperature: 0.7,
		MaxTokens:   400,
		Timeout:     120 * time.Second,
	}
}

// NewGroqClient creates a new Groq client.
func NewGroqClient(config GroqConfig) *GroqClient {
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	return &GroqClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// groqRequest is the OpenAI-compatible request body.
type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// wireMessage carries either a plain string or a part list as content.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// wirePart is one element of multi-part content.
type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

// groqResponse is the OpenAI-compatible response body.
type groqResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Name returns the provider name.
func (c *GroqClient) Name() string { return "groq" }

// Available reports whether an API key is configured.
func (c *GroqClient) Available(ctx context.Context) bool {
	return c.apiKey != ""
}

// Chat sends the message list and returns the raw completion text.
func (c *GroqClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.apiKey == "" {
		return "", transportErr(c.Name(), fmt.Errorf("API key not configured"))
	}

	reqBody := groqRequest{
		Model:       c.model,
		Messages:    toWire(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logging.APIDebug("groq request: model=%s messages=%d", c.model, len(messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportErr(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportErr(c.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", transportErr(c.Name(), fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var gr groqResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", transportErr(c.Name(), fmt.Errorf("failed to parse response: %w", err))
	}
	if gr.Error != nil {
		return "", transportErr(c.Name(), fmt.Errorf("API error: %s", gr.Error.Message))
	}
	if len(gr.Choices) == 0 {
		return "", transportErr(c.Name(), fmt.Errorf("no completion returned"))
	}

	logging.APIDebug("groq response: tokens=%d", gr.Usage.TotalTokens)
	return strings.TrimSpace(gr.Choices[0].Message.Content), nil
}

// toWire converts messages to the OpenAI content shape: a plain string, or a
// part list when the message carries images.
func toWire(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if m.Parts == nil {
			out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		parts := make([]wirePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.IsImage() {
				parts = append(parts, wirePart{
					Type:     "image_url",
					ImageURL: &wireImageURL{URL: fmt.Sprintf("data:%s;base64,%s", p.ImageMIME, p.ImageData)},
				})
			} else {
				parts = append(parts, wirePart{Type: "text", Text: p.Text})
			}
		}
		out = append(out, wireMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
