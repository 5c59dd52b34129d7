package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ChatMessage is one message in an LLM conversation
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompleteOptions tune a single completion call. Classification and
// extraction use low temperature; free-form replies use higher.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// LLM is the completion collaborator contract
type LLM interface {
	Complete(ctx context.Context, messages []ChatMessage, opts CompleteOptions) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// Requests are rate limited; each call runs under its own deadline.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAIClient creates a rate-limited OpenAI-compatible client
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration, rps float64, burst int) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout + 5*time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion request and returns the text content
func (c *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage, opts CompleteOptions) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	return CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (string, error) {
		body, err := json.Marshal(chatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("marshal completion request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("build completion request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("llm request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read llm response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("llm returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}

		var parsed chatCompletionResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", fmt.Errorf("decode llm response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("llm error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("llm returned no choices")
		}
		return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
	})
}

// CompleteJSON runs a completion that must produce JSON matching out's
// schema. The raw output is validated strictly — no comment stripping or
// trailing-comma repair. On a parse failure the model is re-prompted once
// with the decode error; a second failure is returned to the caller.
func CompleteJSON(ctx context.Context, llm LLM, messages []ChatMessage, opts CompleteOptions, out interface{}) error {
	raw, err := llm.Complete(ctx, messages, opts)
	if err != nil {
		return err
	}

	parseErr := strictUnmarshal(raw, out)
	if parseErr == nil {
		return nil
	}

	retry := append(append([]ChatMessage{}, messages...),
		ChatMessage{Role: "assistant", Content: raw},
		ChatMessage{Role: "user", Content: fmt.Sprintf(
			"Your previous answer was not valid JSON (%v). Respond again with ONLY the JSON object, no markdown fences, no commentary.", parseErr)},
	)
	raw, err = llm.Complete(ctx, retry, opts)
	if err != nil {
		return err
	}
	if err := strictUnmarshal(raw, out); err != nil {
		return fmt.Errorf("llm produced invalid JSON after re-prompt: %w", err)
	}
	return nil
}

// strictUnmarshal decodes exactly one JSON value with unknown fields
// rejected. Markdown code fences are the one tolerated wrapper since
// models add them even when told not to.
func strictUnmarshal(raw string, out interface{}) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	// Trailing content after the value is a malformed answer
	if dec.More() {
		return fmt.Errorf("trailing content after JSON value")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
