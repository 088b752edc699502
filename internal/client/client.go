// ABOUTME: HTTP client for the assistant backend's chat API
// ABOUTME: Handles bearer auth, local token expiry checks, and error responses

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
)

var (
	// ErrNotFound is returned when the backend answers 404.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned for 401/403 answers and for tokens that
	// are already expired before the request is sent.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Message)
}

// Is lets callers match status errors against ErrNotFound and ErrUnauthorized.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	}
	return false
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Token             string
	Transport         string // config.TransportSSE or config.TransportWebSocket
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
	Now               func() time.Time
}

// Client talks to the backend chat API.
type Client struct {
	baseURL        *url.URL
	token          string
	transport      string
	requestTimeout time.Duration
	idleTimeout    time.Duration
	http           *http.Client
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", opts.BaseURL)
	}

	transport := opts.Transport
	if transport == "" {
		transport = config.TransportSSE
	}
	if transport != config.TransportSSE && transport != config.TransportWebSocket {
		return nil, fmt.Errorf("unknown transport %q", transport)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:        base,
		token:          opts.Token,
		transport:      transport,
		requestTimeout: opts.RequestTimeout,
		idleTimeout:    opts.StreamIdleTimeout,
		http:           httpClient,
		logger:         logger.With("component", "client"),
		now:            now,
	}, nil
}

// NewFromConfig creates a Client from the backend section of the config.
func NewFromConfig(cfg config.BackendConfig, token string, logger *slog.Logger) (*Client, error) {
	return New(Options{
		BaseURL:           cfg.URL,
		Token:             token,
		Transport:         cfg.Transport,
		RequestTimeout:    cfg.RequestTimeout,
		StreamIdleTimeout: cfg.StreamIdleTimeout,
		Logger:            logger,
	})
}

// Transport reports which stream transport the client uses.
func (c *Client) Transport() string {
	return c.transport
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	return u.String()
}

func (c *Client) authorize(req *http.Request) error {
	if c.token == "" {
		return nil
	}
	if err := auth.CheckExpiry(c.token, c.now()); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	return req, nil
}

// do sends a JSON request and decodes a JSON answer into out (if non-nil).
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// readStatusError extracts a human-readable message from an error body.
// The backend reports {"detail": ...}; some proxies answer {"error": ...}.
func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	statusErr := &StatusError{Code: resp.StatusCode}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		var detail string
		switch {
		case json.Unmarshal(payload.Detail, &detail) == nil && detail != "":
			statusErr.Message = detail
		case len(payload.Detail) > 0 && string(payload.Detail) != "null":
			statusErr.Message = string(payload.Detail)
		case payload.Error != "":
			statusErr.Message = payload.Error
		}
		return statusErr
	}

	statusErr.Message = strings.TrimSpace(string(body))
	return statusErr
}
