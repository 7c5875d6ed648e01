// Package upstream provides a client for the session-based market-data
// provider: login, paginated queries and logout.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "http://localhost:10030"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultPageSize  = 10000
	DefaultAdjust    = "3" // unadjusted

	codeOK          = "0"
	codeNotLoggedIn = "10001001"
)

// Client talks to the provider. It holds no session state; call Open to log in.
type Client struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
	limiter    *rate.Limiter
	pageSize   int
	adjust     string
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "upstream").Logger()
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithPageSize sets how many rows are requested per page.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithAdjustFlag sets the price adjustment used by bar queries
// ("1" backward, "2" forward, "3" none).
func WithAdjustFlag(flag string) ClientOption {
	return func(c *Client) {
		if flag != "" {
			c.adjust = flag
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new provider client
func NewClient(user, password string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		user:     user,
		password: password,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:   zerolog.Nop(),
		pageSize: DefaultPageSize,
		adjust:   DefaultAdjust,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

type envelope struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

type loginResponse struct {
	envelope
	SessionID string `json:"session_id"`
}

// queryResponse is the tabular page format shared by every query endpoint.
type queryResponse struct {
	envelope
	Fields  []string   `json:"fields"`
	Data    [][]string `json:"data"`
	CurPage int        `json:"cur_page"`
	PerPage int        `json:"per_page"`
	HasMore bool       `json:"has_more"`
}

// Open performs the login handshake and returns a live session. The caller
// must Close it.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	var resp loginResponse
	err := c.do(ctx, "login", http.MethodPost, "/api/login", nil, loginRequest{UserID: c.user, Password: c.password}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ErrorCode != codeOK {
		return nil, fmt.Errorf("%w: %s (error_code: %s)", ErrUpstreamAuth, resp.ErrorMsg, resp.ErrorCode)
	}
	if resp.SessionID == "" {
		return nil, &QueryError{Op: "login", Err: errors.New("empty session id")}
	}

	c.logger.Info().Str("user", c.user).Msg("Upstream session opened")
	return &Session{client: c, id: resp.SessionID}, nil
}

func (c *Client) logout(ctx context.Context, sessionID string) error {
	var resp envelope
	if err := c.do(ctx, "logout", http.MethodPost, "/api/logout", nil, logoutRequest{SessionID: sessionID}, &resp); err != nil {
		return err
	}
	if resp.ErrorCode != codeOK {
		return &QueryError{Op: "logout", Code: resp.ErrorCode, Err: errors.New(resp.ErrorMsg)}
	}
	return nil
}

// query fetches one page of a tabular endpoint.
func (c *Client) query(ctx context.Context, sessionID, op string, params url.Values, page int) (*queryResponse, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("session_id", sessionID)
	params.Set("page", fmt.Sprint(page))
	params.Set("per_page", fmt.Sprint(c.pageSize))

	var resp queryResponse
	if err := c.do(ctx, op, http.MethodGet, "/api/query/"+op, params, nil, &resp); err != nil {
		return nil, err
	}
	switch resp.ErrorCode {
	case codeOK:
	case codeNotLoggedIn:
		return nil, &QueryError{Op: op, Code: resp.ErrorCode, Err: ErrUpstreamAuth}
	default:
		return nil, &QueryError{Op: op, Code: resp.ErrorCode, Err: errors.New(resp.ErrorMsg)}
	}

	c.logger.Debug().
		Str("op", op).
		Int("page", page).
		Int("rows", len(resp.Data)).
		Bool("has_more", resp.HasMore).
		Msg("Upstream page fetched")
	return &resp, nil
}

// do performs a rate-limited request and decodes the JSON body into result.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &QueryError{Op: op, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &QueryError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return &QueryError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &QueryError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &QueryError{Op: op, StatusCode: resp.StatusCode, Err: ErrUpstreamAuth}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &QueryError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &QueryError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
