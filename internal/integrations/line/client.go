// Package line sends replies through the LINE Messaging API.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultBaseURL = "https://api.line.me"
	// MaxTextLength is the platform limit for a text message, in characters.
	MaxTextLength = 5000
)

// Credential supplies the channel access token. *paramstore.Secret satisfies it.
type Credential interface {
	Value(ctx context.Context) (string, error)
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

// HTTPStatusError captures non-2xx reply responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("line: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a minimal Messaging API client for reply messages.
type Client struct {
	baseURL     string
	accessToken Credential
	httpClient  *http.Client
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

// WithTimeout bounds every reply request by d.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a reply Client authenticated with accessToken.
func NewClient(accessToken Credential, opts ...Option) (*Client, error) {
	if accessToken == nil {
		return nil, errors.New("line: access token credential must not be nil")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Reply sends text as the single reply allowed for replyToken. The token is
// consumed by the platform on first use, so Reply makes exactly one attempt.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	replyToken = strings.TrimSpace(replyToken)
	if replyToken == "" {
		return errors.New("line: reply token is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("line: reply text is required")
	}

	token, err := c.accessToken.Value(ctx)
	if err != nil {
		return fmt.Errorf("line: resolve access token: %w", err)
	}

	body, err := json.Marshal(replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: truncateRunes(text, MaxTextLength)}},
	})
	if err != nil {
		return fmt.Errorf("line: marshal reply: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + "/v2/bot/message/reply"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("line: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line: reply request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
