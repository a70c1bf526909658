package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/service"
)

// Client is the HTTP client for the matcher control API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new control API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Health is the /health response
type Health struct {
	Status  string                `json:"status"`
	Store   string                `json:"store"`
	Monitor service.MonitorStatus `json:"monitor"`
}

// ============ Monitor ============

// Health gets monitor state and store reachability
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	// 503 still carries a body when the store is down
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &h, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &h, nil
}

// StartMonitor starts the stream monitor
func (c *Client) StartMonitor(ctx context.Context) (*service.MonitorStatus, error) {
	return c.monitorCall(ctx, "/monitor/start")
}

// StopMonitor stops the stream monitor
func (c *Client) StopMonitor(ctx context.Context) (*service.MonitorStatus, error) {
	return c.monitorCall(ctx, "/monitor/stop")
}

func (c *Client) monitorCall(ctx context.Context, path string) (*service.MonitorStatus, error) {
	var result struct {
		Monitor service.MonitorStatus `json:"monitor"`
	}
	if _, err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result.Monitor, nil
}

// ============ Listings & Matches ============

// MatchListing runs matching for a stored listing. Found is false on 404.
func (c *Client) MatchListing(ctx context.Context, listingID string) (*domain.MatchResult, error) {
	var result domain.MatchResult
	status, err := c.do(ctx, http.MethodPost, "/listings/"+url.PathEscape(listingID)+"/match", nil, &result, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	result.Found = status == http.StatusOK
	if result.ListingID.IsZero() {
		result.ListingID = domain.ID(listingID)
	}
	return &result, nil
}

// GetListing gets a stored listing, nil when absent
func (c *Client) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	var result struct {
		Listing *domain.Listing `json:"listing"`
	}
	status, err := c.do(ctx, http.MethodGet, "/listings/"+url.PathEscape(listingID), nil, &result, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return result.Listing, nil
}

// Matches lists stored matches, optionally filtered
func (c *Client) Matches(ctx context.Context, listingID string, notified *bool) ([]domain.MatchRecord, error) {
	q := url.Values{}
	if listingID != "" {
		q.Set("listing_id", listingID)
	}
	if notified != nil {
		q.Set("notified", strconv.FormatBool(*notified))
	}
	path := "/matches"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Matches []domain.MatchRecord `json:"matches"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Matches, nil
}

// ============ HTTP Helpers ============

// do sends a request and decodes the JSON body. Statuses other than 2xx
// fail unless listed in accept.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}, accept ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, s := range accept {
		if resp.StatusCode == s {
			ok = true
		}
	}
	if !ok {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
