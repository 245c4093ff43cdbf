// Package sdk is the Go client for the flag service. It layers a short-lived
// local cache over the HTTP API so hot-path checks rarely leave the process,
// and retries transport failures without ever retrying server verdicts.
package sdk

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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultCacheTTL = 60 * time.Second
	defaultRetries  = 2

	evalKeyPrefix = "eval:"
	flagKeyPrefix = "flag:"
)

// Client talks to a flag service instance. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	maxRetries int

	cache *localCache
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithAPIKey attaches the admin credential required for mutations.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithCacheTTL sets the local cache entry lifetime.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cache = newLocalCache(d) }
}

// WithoutCache disables the local cache entirely.
func WithoutCache() Option {
	return func(c *Client) { c.cache = nil }
}

// WithRetries sets how many times transport failures are retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultRetries,
		cache:      newLocalCache(defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsEnabled is the hot-path check: true when the flag is on for userID.
// Unknown flags surface as *NotFoundError, not as false, so callers can tell
// "off" from "missing".
func (c *Client) IsEnabled(ctx context.Context, flagKey, userID string) (bool, error) {
	result, err := c.Evaluate(ctx, flagKey, userID)
	if err != nil {
		return false, err
	}
	return result.Enabled, nil
}

// Evaluate returns the full evaluation verdict for (flagKey, userID). An
// empty userID evaluates without user targeting.
func (c *Client) Evaluate(ctx context.Context, flagKey, userID string) (*EvaluationResult, error) {
	cacheKey := evalCacheKey(flagKey, userID)
	if c.cache != nil {
		if v, ok := c.cache.get(cacheKey); ok {
			result := v.(EvaluationResult)
			return &result, nil
		}
	}

	query := url.Values{}
	if userID != "" {
		query.Set("user_id", userID)
	}

	var result EvaluationResult
	if err := c.do(ctx, http.MethodGet, "/flags/"+flagKey+"/evaluate", query, nil, &result, flagKey); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(cacheKey, result, 0)
	}
	return &result, nil
}

// EvaluateAll evaluates several flags concurrently. Flags that do not exist
// are omitted from the result; any other failure fails the whole call.
func (c *Client) EvaluateAll(ctx context.Context, flagKeys []string, userID string) (map[string]*EvaluationResult, error) {
	results := make(map[string]*EvaluationResult, len(flagKeys))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, key := range flagKeys {
		g.Go(func() error {
			result, err := c.Evaluate(ctx, key, userID)
			if err != nil {
				if IsNotFound(err) {
					return nil
				}
				return err
			}
			mu.Lock()
			results[key] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetFlag fetches full flag details.
func (c *Client) GetFlag(ctx context.Context, flagKey string) (*Flag, error) {
	cacheKey := flagKeyPrefix + flagKey
	if c.cache != nil {
		if v, ok := c.cache.get(cacheKey); ok {
			f := v.(Flag)
			return &f, nil
		}
	}

	var f Flag
	if err := c.do(ctx, http.MethodGet, "/flags/"+flagKey, nil, nil, &f, flagKey); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(cacheKey, f, 0)
	}
	return &f, nil
}

// ListFlags pages through all flags. Listing bypasses the local cache.
func (c *Client) ListFlags(ctx context.Context, skip, limit int) ([]Flag, error) {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(skip))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var flags []Flag
	if err := c.do(ctx, http.MethodGet, "/flags", query, nil, &flags, ""); err != nil {
		return nil, err
	}
	return flags, nil
}

// CreateFlag registers a new flag.
func (c *Client) CreateFlag(ctx context.Context, params CreateFlagParams) (*Flag, error) {
	var f Flag
	if err := c.do(ctx, http.MethodPost, "/flags", nil, params, &f, ""); err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFlag applies a partial update and evicts local state derived from
// the flag, the per-user evaluation entries included.
func (c *Client) UpdateFlag(ctx context.Context, flagKey string, upd FlagUpdate) (*Flag, error) {
	var f Flag
	if err := c.do(ctx, http.MethodPut, "/flags/"+flagKey, nil, upd, &f, flagKey); err != nil {
		return nil, err
	}
	c.evict(flagKey)
	return &f, nil
}

// DeleteFlag removes a flag and evicts it locally.
func (c *Client) DeleteFlag(ctx context.Context, flagKey string) error {
	if err := c.do(ctx, http.MethodDelete, "/flags/"+flagKey, nil, nil, nil, flagKey); err != nil {
		return err
	}
	c.evict(flagKey)
	return nil
}

// ClearCache drops every locally cached entry.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.clear()
	}
}

// GetCacheStats sweeps expired entries and reports local cache state.
func (c *Client) GetCacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{Enabled: false}
	}
	expired := c.cache.cleanupExpired()
	return CacheStats{Enabled: true, Size: c.cache.size(), ExpiredCleaned: expired}
}

func (c *Client) evict(flagKey string) {
	if c.cache == nil {
		return
	}
	c.cache.delete(flagKeyPrefix + flagKey)
	c.cache.deletePrefix(evalKeyPrefix + flagKey + ":")
}

// do runs one API call. Transport failures are retried up to maxRetries
// times; HTTP responses, including errors, are never retried because the
// server already gave a verdict.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, flagKey string) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			return &TransportError{cause: err}
		}
	}
	if resp == nil {
		return &TransportError{cause: lastErr}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &NotFoundError{Key: flagKey}
	}
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var wire struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err == nil {
		apiErr.Code = wire.Error
		apiErr.Message = wire.ErrorDescription
	}
	return apiErr
}

func evalCacheKey(flagKey, userID string) string {
	if userID == "" {
		userID = "none"
	}
	return evalKeyPrefix + flagKey + ":" + userID
}
