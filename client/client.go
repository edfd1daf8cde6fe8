package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/totegamma/feedingest"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 1024
)

// Client submits crawl requests to the crawler service.
// Recently accepted urls are remembered so a second dispatch of the same post
// within the dedup window is answered locally.
type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
	endpoint  string
	apiKey    string
}

func New(endpoint, userAgent, apiKey string, dedupWindow time.Duration) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		userAgent: userAgent,
		endpoint:  endpoint,
		apiKey:    apiKey,
	}
	if dedupWindow > 0 {
		c.cache = cache.New(dedupWindow, 2*dedupWindow)
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// StatusError is returned for responses the crawler may accept on a later attempt.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

func dedupKey(req feedingest.CrawlRequest) string {
	return req.WorkspaceID + "|" + req.URL
}

// Submit posts a crawl request. A 4xx answer other than 429 is a rejection, not an error.
func (c *Client) Submit(ctx context.Context, req feedingest.CrawlRequest) (feedingest.CrawlResponse, error) {
	if c.cache != nil {
		if x, found := c.cache.Get(dedupKey(req)); found {
			return x.(feedingest.CrawlResponse), nil
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return feedingest.CrawlResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return feedingest.CrawlResponse{}, fmt.Errorf("failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return feedingest.CrawlResponse{}, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return feedingest.CrawlResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result := feedingest.CrawlResponse{Accepted: true}
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &result); err != nil {
				return feedingest.CrawlResponse{}, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		if result.Accepted && c.cache != nil {
			c.cache.Set(dedupKey(req), result, cache.DefaultExpiration)
		}
		return result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return feedingest.CrawlResponse{Accepted: false, Reason: truncate(string(raw))}, nil
	default:
		return feedingest.CrawlResponse{}, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw))}
	}
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
