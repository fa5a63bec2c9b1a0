package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/ateliercommun/groupsync/core"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method               string
	Path                 string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

func (r Response) RetryAfter() *time.Duration {
	raw := strings.TrimSpace(r.Headers["Retry-After"])
	if raw == "" {
		return nil
	}
	if seconds, err := time.ParseDuration(raw + "s"); err == nil {
		return &seconds
	}
	return nil
}

// Client is the shared REST plumbing every provider adapter builds on:
// base URL joining, default headers, per-request timeout, response body
// cap, bounded retry, and an optional rate-limit policy consulted around
// each attempt.
type Client struct {
	SystemID             string
	BaseURL              string
	Doer                 HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Retry                RetryPolicy
	RateLimit            core.RateLimitPolicy
}

func NewClient(systemID string, baseURL string, doer HTTPDoer) (*Client, error) {
	systemID = strings.ToLower(strings.TrimSpace(systemID))
	if systemID == "" {
		return nil, fmt.Errorf("transport: system id is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("transport: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid base url: %w", err)
	}
	if doer == nil {
		doer = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		SystemID:             systemID,
		BaseURL:              baseURL,
		Doer:                 doer,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		Retry:                DefaultRetryPolicy(),
	}, nil
}

// Do executes one request with retries. Transient failures (network
// errors, 5xx, 429) are retried with exponential backoff; 4xx client
// errors and credential rejections surface immediately.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.Doer == nil {
		return Response{}, transportError(
			"transport: client requires an http doer",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"system": c.systemID()},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := c.Retry.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.RateLimit != nil {
			if err := c.RateLimit.BeforeCall(ctx, c.rateLimitKey()); err != nil {
				return Response{}, wrapTransportError(err, goerrors.CategoryRateLimit,
					"transport: rate limit gate rejected call",
					http.StatusTooManyRequests,
					map[string]any{"system": c.systemID()},
				)
			}
		}

		res, err := c.doOnce(ctx, req)

		if c.RateLimit != nil {
			meta := core.ProviderResponseMeta{StatusCode: res.StatusCode, Headers: res.Headers}
			if retryAfter := res.RetryAfter(); retryAfter != nil {
				meta.RetryAfter = retryAfter
			}
			_ = c.RateLimit.AfterCall(ctx, c.rateLimitKey(), meta)
		}

		if err == nil && !retryableStatus(res.StatusCode) {
			if res.StatusCode >= http.StatusBadRequest {
				return res, statusError(c.systemID(), req, res)
			}
			return res, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = statusError(c.systemID(), req, res)
		}
		if !core.IsTransientError(lastErr) {
			return Response{}, lastErr
		}
		if attempt == attempts {
			break
		}

		delay := c.Retry.NextDelay(attempt)
		if res.StatusCode == http.StatusTooManyRequests {
			if retryAfter := res.RetryAfter(); retryAfter != nil && *retryAfter > delay {
				delay = *retryAfter
			}
		}
		select {
		case <-ctx.Done():
			return Response{}, wrapTransportError(ctx.Err(), goerrors.CategoryExternal,
				"transport: request cancelled while backing off",
				http.StatusBadGateway,
				map[string]any{"system": c.systemID(), "attempt": attempt},
			)
		case <-time.After(delay):
		}
	}
	return Response{}, lastErr
}

// DoJSON executes a request with a JSON body and decodes a JSON response
// into out when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, method string, path string, query map[string]string, in any, out any) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return wrapTransportError(err, goerrors.CategoryBadInput,
				"transport: encode request body",
				http.StatusBadRequest,
				map[string]any{"system": c.systemID(), "path": path},
			)
		}
		body = encoded
	}
	headers := map[string]string{"Accept": "application/json"}
	if len(body) > 0 {
		headers["Content-Type"] = "application/json"
	}

	res, err := c.Do(ctx, Request{
		Method:  method,
		Path:    path,
		Headers: headers,
		Query:   query,
		Body:    body,
	})
	if err != nil {
		return err
	}
	if out == nil || len(res.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return wrapTransportError(err, goerrors.CategoryExternal,
			"transport: decode response body",
			http.StatusBadGateway,
			map[string]any{"system": c.systemID(), "path": path, "status_code": res.StatusCode},
		)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, req Request) (Response, error) {
	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.resolveURL(req.Path)
	if err != nil {
		return Response{}, err
	}

	query := target.Query()
	for key, value := range req.Query {
		if strings.TrimSpace(key) == "" {
			continue
		}
		query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	target.RawQuery = query.Encode()

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, wrapTransportError(err, goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"system": c.systemID(), "method": method, "url": target.String()},
		)
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	startedAt := time.Now().UTC()
	httpRes, err := c.Doer.Do(httpReq)
	if err != nil {
		return Response{}, wrapTransportError(err, goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"system": c.systemID(), "method": method, "url": target.String()},
		)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := resolveResponseBodyLimit(req.MaxResponseBodyBytes, c.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, wrapTransportError(err, goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"system": c.systemID(), "status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > maxBodyBytes {
		return Response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"system":           c.systemID(),
				"status_code":      httpRes.StatusCode,
				"response_limit_b": maxBodyBytes,
			},
		)
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	}, nil
}

func (c *Client) resolveURL(path string) (*url.URL, error) {
	raw := c.BaseURL
	path = strings.TrimSpace(path)
	if path != "" {
		raw = c.BaseURL + "/" + strings.TrimLeft(path, "/")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, wrapTransportError(err, goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"system": c.systemID(), "url": raw},
		)
	}
	return parsed, nil
}

func (c *Client) systemID() string {
	if c == nil {
		return ""
	}
	return c.SystemID
}

func (c *Client) rateLimitKey() core.RateLimitKey {
	return core.RateLimitKey{SystemID: c.SystemID, BucketKey: "default"}
}

func retryableStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func resolveResponseBodyLimit(requestLimit int64, clientLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if clientLimit > 0 {
		return clientLimit
	}
	return defaultResponseBodyLimit
}
