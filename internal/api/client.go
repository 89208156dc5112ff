// Package api is the HTTP client for the branch queue service.
package api

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

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultCacheTTL  = 5 * time.Minute
	localCacheSize   = 64
	maxErrorBodySize = 4 << 10
)

// StatusError is returned for non-2xx responses. Detail carries the server's
// "detail" message when there is one.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Detail)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Options tunes the client. Zero values select defaults.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	CacheTTL          time.Duration
	Logger            *zerolog.Logger
}

type cacheItem struct {
	data     []byte
	storedAt time.Time
}

// Client calls the queue service endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	redis    *redis.Client
	local    *lru.Cache[string, cacheItem]
	cacheTTL time.Duration
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL, apiKey string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	local, _ := lru.New[string, cacheItem](localCacheSize)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:  rate.NewLimiter(limit, opts.Burst),
		logger:   logger.With().Str("component", "api").Logger(),
		local:    local,
		cacheTTL: opts.CacheTTL,
	}
}

// UseRedisCache shares cached reference data (the service catalog) across
// kiosks through Redis instead of the in-process LRU.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	if ttl > 0 {
		c.cacheTTL = ttl
	}
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.cacheTTL <= 0 {
		return false
	}
	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Bytes()
		if err != nil {
			return false
		}
		return json.Unmarshal(val, out) == nil
	}
	item, ok := c.local.Get(key)
	if !ok || time.Since(item.storedAt) > c.cacheTTL {
		return false
	}
	return json.Unmarshal(item.data, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis cache write failed")
		}
		return
	}
	c.local.Add(key, cacheItem{data: data, storedAt: time.Now()})
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	c.addHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("api call")

	if resp.StatusCode >= 300 {
		return newStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	se := &StatusError{Code: resp.StatusCode}

	var wrap struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &wrap) == nil && len(wrap.Detail) > 0 {
		var msg string
		if json.Unmarshal(wrap.Detail, &msg) == nil {
			se.Detail = msg
		} else {
			se.Detail = string(wrap.Detail)
		}
		return se
	}
	se.Detail = strings.TrimSpace(string(body))
	return se
}
