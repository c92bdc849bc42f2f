// Package search queries the Google Custom Search JSON API for short,
// freshness-sensitive snippets used to ground generated replies.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"line-relay/internal/domain"
)

const (
	defaultBaseURL = "https://www.googleapis.com"
	DefaultLimit   = 3
	maxLimit       = 10 // API maximum for num
)

// Credential supplies the API key. *paramstore.Secret satisfies it.
type Credential interface {
	Value(ctx context.Context) (string, error)
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// HTTPStatusError captures non-200 search responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("search: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a Custom Search JSON API client bound to one search engine.
type Client struct {
	baseURL    string
	engineID   string
	apiKey     Credential
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = s
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every search request by d.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client for the programmable search engine engineID.
func NewClient(apiKey Credential, engineID string, opts ...Option) (*Client, error) {
	if apiKey == nil {
		return nil, errors.New("search: api key credential must not be nil")
	}
	engineID = strings.TrimSpace(engineID)
	if engineID == "" {
		return nil, errors.New("search: engine id must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		engineID:   engineID,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search issues a single request and returns at most q.Limit results in
// ranked order. A zero q.Limit selects DefaultLimit. An empty result set is
// not an error.
func (c *Client) Search(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, errors.New("search: query is required")
	}
	limit := clampLimit(q.Limit)

	key, err := c.apiKey.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: resolve api key: %w", err)
	}

	u, err := url.Parse(strings.TrimRight(c.baseURL, "/") + "/customsearch/v1")
	if err != nil {
		return nil, fmt.Errorf("search: parse base url: %w", err)
	}
	params := u.Query()
	params.Set("key", key)
	params.Set("cx", c.engineID)
	params.Set("q", text)
	params.Set("num", strconv.Itoa(limit))
	if site := strings.TrimSpace(q.Site); site != "" {
		params.Set("siteSearch", site)
		params.Set("siteSearchFilter", "i")
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", redactKey(err, key))
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("search: read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: truncate(string(body), 512)}
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	results := make([]domain.SearchResult, 0, limit)
	for _, item := range payload.Items {
		if len(results) == limit {
			break
		}
		results = append(results, domain.SearchResult{
			Title:   normalize(item.Title),
			Snippet: normalize(item.Snippet),
			Link:    strings.TrimSpace(item.Link),
		})
	}
	return results, nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// redactKey keeps the API key out of *url.Error messages, which embed the
// full request URL.
func redactKey(err error, key string) error {
	var urlErr *url.Error
	if key == "" || !errors.As(err, &urlErr) {
		return err
	}
	urlErr.URL = strings.ReplaceAll(urlErr.URL, url.QueryEscape(key), "REDACTED")
	return urlErr
}
