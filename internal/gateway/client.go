package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"amlwatch/internal/logging"
	"amlwatch/internal/metrics"
	"amlwatch/internal/model"
)

const maxResponseSize = 10 << 20

type TokenSource interface {
	Token() string
}

// RejectionHandler is invoked synchronously when the backend refuses the
// presented credential.
type RejectionHandler interface {
	HandleRejection(ctx context.Context, cause error)
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx, non-401 answer from a typed endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	http       *http.Client
	tokens     TokenSource
	rejections RejectionHandler
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

func New(baseURL string, tokens TokenSource, rejections RejectionHandler, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       NewHTTPClient(30 * time.Second),
		tokens:     tokens,
		rejections: rejections,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Send dispatches req with the current bearer token, if any. A 401 runs the
// rejection handler before ErrAuthorizationRejected is returned. Every other
// status is returned as-is; transport failures are wrapped. Nothing is retried.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	reqID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, reqID)
	log := logging.L(ctx, c.logger)

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.endpoint(req.Path, req.Query), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", reqID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(req.Method, "0").Inc()
		if log != nil {
			log.Warn("gateway call failed", "method", req.Method, "path", req.Path, "err", err)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, req.Path, err)
	}
	metrics.GatewayRequests.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	if log != nil {
		log.Debug("gateway call", "method", req.Method, "path", req.Path,
			"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	}

	if resp.StatusCode == http.StatusUnauthorized {
		rejected := fmt.Errorf("%s %s: %w", req.Method, req.Path, model.ErrAuthorizationRejected)
		if c.rejections != nil {
			c.rejections.HandleRejection(ctx, rejected)
		}
		return nil, rejected
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) do(ctx context.Context, req Request, out any) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	return resp.Decode(out)
}
