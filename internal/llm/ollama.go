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

// OllamaClient implements Client against a local Ollama instance.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	probeClient *http.Client
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultOllamaConfig returns sensible defaults for a local instance.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:     "http://localhost:11434",
		Model:       "llama3.2",
		Temperature: 0.7,
		MaxTokens:   400,
		Timeout:     120 * time.Second,
	}
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient:  &http.Client{Timeout: config.Timeout},
		// Availability probes must fail fast; a hung probe would stall
		// provider selection for the whole request.
		probeClient: &http.Client{Timeout: 2 * time.Second},
	}
}

// ollamaMessage is one turn in Ollama's chat format. Images ride alongside the
// text as raw base64 strings rather than data URLs.
type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Name returns the provider name.
func (c *OllamaClient) Name() string { return "ollama" }

// Available probes the instance's tag listing endpoint with a short timeout.
func (c *OllamaClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Chat sends the message list and returns the raw completion text.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (string, error) {
	reqBody := ollamaRequest{
		Model:    c.model,
		Messages: toOllama(messages),
		Stream:   false,
		Options: ollamaOptions{
			Temperature: c.temperature,
			NumPredict:  c.maxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logging.APIDebug("ollama request: model=%s messages=%d", c.model, len(messages))

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

	var or ollamaResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return "", transportErr(c.Name(), fmt.Errorf("failed to parse response: %w", err))
	}
	if or.Error != "" {
		return "", transportErr(c.Name(), fmt.Errorf("API error: %s", or.Error))
	}

	return strings.TrimSpace(or.Message.Content), nil
}

// toOllama flattens multi-part messages into Ollama's content+images shape.
func toOllama(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if m.Parts != nil {
			var text []string
			for _, p := range m.Parts {
				if p.IsImage() {
					om.Images = append(om.Images, p.ImageData)
				} else if p.Text != "" {
					text = append(text, p.Text)
				}
			}
			om.Content = strings.Join(text, "\n")
		}
		out = append(out, om)
	}
	return out
}
