package clients

import (
	"context"
	"fmt"
	"time"
)

// WebSearch is the web/information search collaborator. It returns a
// synthesized summary text, not raw result links.
type WebSearch interface {
	Search(ctx context.Context, query, location string) (string, error)
}

// SonarClient implements WebSearch against a Perplexity-style online model
// exposed through the shared OpenAI-compatible completion contract.
type SonarClient struct {
	llm      LLM
	location string
	timeout  time.Duration
}

// NewSonarClient wraps an online LLM endpoint as a web search collaborator
func NewSonarClient(llm LLM, defaultLocation string, timeout time.Duration) *SonarClient {
	return &SonarClient{llm: llm, location: defaultLocation, timeout: timeout}
}

// Search runs one grounded search query and returns the summary text
func (c *SonarClient) Search(ctx context.Context, query, location string) (string, error) {
	if location == "" {
		location = c.location
	}

	messages := []ChatMessage{
		{Role: "system", Content: "Eres un buscador de información actual. Responde con hechos concretos y recientes, citando nombres y fechas cuando existan."},
		{Role: "user", Content: fmt.Sprintf("%s (contexto geográfico: %s)", query, location)},
	}

	return CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (string, error) {
		return c.llm.Complete(ctx, messages, CompleteOptions{Temperature: 0.2, MaxTokens: 800})
	})
}
