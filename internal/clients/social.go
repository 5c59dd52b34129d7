package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pulsewatch/internal/models"
)

// SocialProfile is the metadata half of a profile fetch
type SocialProfile struct {
	Handle    string `json:"handle"`
	Name      string `json:"name"`
	Bio       string `json:"bio,omitempty"`
	Followers int    `json:"followers"`
	Verified  bool   `json:"verified"`
}

// HandleCandidate is a handle suggestion from the social platform itself
type HandleCandidate struct {
	Handle     string  `json:"handle"`
	Confidence float64 `json:"confidence"`
}

// SocialContent retrieves posts and profiles from the monitored platform
type SocialContent interface {
	SearchByQuery(ctx context.Context, query, location string, limit int) ([]models.SocialItem, error)
	FetchProfile(ctx context.Context, handle string, limit int) (*SocialProfile, []models.SocialItem, error)
	ResolveHandle(ctx context.Context, name, context_, sector string) (*HandleCandidate, error)
}

// SocialAPIClient is the HTTP implementation of SocialContent against the
// internal scraping gateway.
type SocialAPIClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewSocialAPIClient creates a social content client
func NewSocialAPIClient(baseURL string, timeout time.Duration) *SocialAPIClient {
	return &SocialAPIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout + 5*time.Second},
		timeout:    timeout,
	}
}

// SearchByQuery retrieves recent posts matching a query
func (c *SocialAPIClient) SearchByQuery(ctx context.Context, query, location string, limit int) ([]models.SocialItem, error) {
	q := url.Values{}
	q.Set("q", query)
	if location != "" {
		q.Set("location", location)
	}
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Items []models.SocialItem `json:"tweets"`
	}
	if err := c.getJSON(ctx, "/api/search?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("social search %q: %w", query, err)
	}
	return out.Items, nil
}

// FetchProfile retrieves a profile and its recent posts
func (c *SocialAPIClient) FetchProfile(ctx context.Context, handle string, limit int) (*SocialProfile, []models.SocialItem, error) {
	q := url.Values{}
	q.Set("handle", handle)
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Profile SocialProfile       `json:"profile"`
		Items   []models.SocialItem `json:"tweets"`
	}
	if err := c.getJSON(ctx, "/api/profile?"+q.Encode(), &out); err != nil {
		return nil, nil, fmt.Errorf("fetch profile %q: %w", handle, err)
	}
	return &out.Profile, out.Items, nil
}

// ResolveHandle asks the platform gateway for the best handle candidate
func (c *SocialAPIClient) ResolveHandle(ctx context.Context, name, context_, sector string) (*HandleCandidate, error) {
	q := url.Values{}
	q.Set("name", name)
	if context_ != "" {
		q.Set("context", context_)
	}
	if sector != "" {
		q.Set("sector", sector)
	}

	var out HandleCandidate
	if err := c.getJSON(ctx, "/api/resolve?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("resolve handle %q: %w", name, err)
	}
	if out.Handle == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *SocialAPIClient) getJSON(ctx context.Context, path string, out interface{}) error {
	_, err := CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return struct{}{}, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
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
