// Package forecast fetches hourly PV production forecasts.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gridboost/gridboost/pkg/common"
	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

// Provider returns the raw forecast for a day, one bucket per hour in watt
// hours. Transient failures wrap types.ErrUnavailable or types.ErrRateLimited.
type Provider interface {
	Name() string
	Forecast(ctx context.Context, day types.Day, loc *time.Location) (hourly.Series, error)
}

const defaultRetryAfter = time.Hour

// client is the HTTP plumbing shared by the providers. It caches the last
// good body per URL and refuses to call out while a rate limit is in effect.
type client struct {
	http     *http.Client
	cacheTTL time.Duration
	now      func() time.Time

	mu           sync.Mutex
	blockedUntil time.Time
	cache        map[string]cachedBody
}

type cachedBody struct {
	body    []byte
	fetched time.Time
}

func newClient(cacheTTL time.Duration) *client {
	return &client{
		http:     common.HTTPClient(30 * time.Second),
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedBody),
	}
}

// get performs a GET and returns the body of a 200 response.
func (c *client) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	now := c.now()
	c.mu.Lock()
	if cb, ok := c.cache[url]; ok && now.Sub(cb.fetched) < c.cacheTTL {
		c.mu.Unlock()
		return cb.body, nil
	}
	if now.Before(c.blockedUntil) {
		until := c.blockedUntil
		c.mu.Unlock()
		return nil, fmt.Errorf("%w until %s", types.ErrRateLimited, until.Format(time.RFC3339))
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", types.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry := defaultRetryAfter
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			retry = time.Duration(s) * time.Second
		}
		c.mu.Lock()
		c.blockedUntil = now.Add(retry)
		c.mu.Unlock()
		log.Ctx(ctx).WarnContext(ctx, "forecast rate limited", slog.Duration("retryAfter", retry))
		return nil, types.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status code: %d", types.ErrUnavailable, resp.StatusCode)
	}

	c.mu.Lock()
	c.cache[url] = cachedBody{body: body, fetched: now}
	c.mu.Unlock()
	return body, nil
}

// Transient reports whether err should just be retried on the next tick.
func Transient(err error) bool {
	return errors.Is(err, types.ErrUnavailable) || errors.Is(err, types.ErrRateLimited)
}
