package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"pulsewatch/internal/models"
)

// EnhancedQuery is the memory store's query enrichment output
type EnhancedQuery struct {
	EnhancedQuery string               `json:"enhanced_query"`
	ContextText   string               `json:"memory_context"`
	Matches       []models.MemoryMatch `json:"memory_results"`
}

// Memory is the long-term semantic memory collaborator. All methods
// degrade gracefully: a failing or unreachable memory service yields empty
// results, never an aborted pipeline.
type Memory interface {
	IsHealthy(ctx context.Context) bool
	EnhanceQuery(ctx context.Context, query string) (*EnhancedQuery, error)
	Search(ctx context.Context, query string, limit int) ([]models.MemoryMatch, error)
	SaveDiscovery(ctx context.Context, entity models.DiscoveredEntity) (bool, error)
	SearchDomainContext(ctx context.Context, query string, limit int) ([]models.MemoryMatch, error)
}

// MemoryClient is the HTTP implementation of Memory
type MemoryClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	log        *logrus.Entry
}

// NewMemoryClient creates a memory store client
func NewMemoryClient(baseURL string, timeout time.Duration) *MemoryClient {
	return &MemoryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout + 5*time.Second},
		timeout:    timeout,
		log:        logrus.WithField("component", "memory_client"),
	}
}

// IsHealthy probes the memory service health endpoint
func (c *MemoryClient) IsHealthy(ctx context.Context) bool {
	ok, err := CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return false, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK, nil
	})
	if err != nil {
		c.log.WithError(err).Debug("memory health check failed")
		return false
	}
	return ok
}

// EnhanceQuery enriches a query with remembered context. On failure the
// original query is returned unchanged with no context.
func (c *MemoryClient) EnhanceQuery(ctx context.Context, query string) (*EnhancedQuery, error) {
	var out EnhancedQuery
	err := c.postJSON(ctx, "/api/enhance", map[string]interface{}{"query": query}, &out)
	if err != nil {
		c.log.WithError(err).Warn("query enhancement unavailable, proceeding without memory")
		return &EnhancedQuery{EnhancedQuery: query}, nil
	}
	if out.EnhancedQuery == "" {
		out.EnhancedQuery = query
	}
	return &out, nil
}

// Search performs a semantic search over stored memories
func (c *MemoryClient) Search(ctx context.Context, query string, limit int) ([]models.MemoryMatch, error) {
	var out struct {
		Results []models.MemoryMatch `json:"results"`
	}
	err := c.postJSON(ctx, "/api/search", map[string]interface{}{"query": query, "limit": limit}, &out)
	if err != nil {
		c.log.WithError(err).Warn("memory search unavailable")
		return nil, nil
	}
	return out.Results, nil
}

// SaveDiscovery persists a resolved entity so future lookups short-circuit
func (c *MemoryClient) SaveDiscovery(ctx context.Context, entity models.DiscoveredEntity) (bool, error) {
	var out struct {
		Saved bool `json:"saved"`
	}
	err := c.postJSON(ctx, "/api/discoveries", entity, &out)
	if err != nil {
		c.log.WithError(err).Warn("could not persist discovered entity")
		return false, err
	}
	return out.Saved, nil
}

// SearchDomainContext searches the political/domain context collection
func (c *MemoryClient) SearchDomainContext(ctx context.Context, query string, limit int) ([]models.MemoryMatch, error) {
	var out struct {
		Results []models.MemoryMatch `json:"results"`
	}
	err := c.postJSON(ctx, "/api/political-context/search", map[string]interface{}{"query": query, "limit": limit}, &out)
	if err != nil {
		c.log.WithError(err).Warn("domain context search unavailable")
		return nil, nil
	}
	return out.Results, nil
}

func (c *MemoryClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	_, err := CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return struct{}{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return struct{}{}, err
		}
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}
		return struct{}{}, json.Unmarshal(data, out)
	})
	return err
}
