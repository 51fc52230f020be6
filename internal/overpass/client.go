// Package overpass is the rate-limited client for the geo-data upstream:
// sliding-window budget, exponential backoff on transient failures, typed
// error kinds, and a query-language builder.
package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roamplan/sitecache/internal/core/observability"
	"github.com/roamplan/sitecache/internal/ratelimit"
)

const upstreamName = "overpass"

// LatLon is the aggregate center the upstream reports for ways/relations.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Element is one raw upstream record. Nodes carry lat/lon directly; way and
// relation aggregates carry a center point instead.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat,omitempty"`
	Lon    float64           `json:"lon,omitempty"`
	Center *LatLon           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Position resolves the element's point. Nodes always carry coordinates in
// the upstream format, including the legitimate (0,0); ways and relations
// only have a point when the query asked for an aggregate center.
func (e Element) Position() (lat, lon float64, ok bool) {
	if e.Type == "node" {
		return e.Lat, e.Lon, true
	}
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon, true
	}
	if e.Lat != 0 || e.Lon != 0 {
		return e.Lat, e.Lon, true
	}
	return 0, 0, false
}

// Response is the upstream payload shape.
type Response struct {
	Elements []Element `json:"elements"`
}

type Config struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.SlidingWindow
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, httpClient *http.Client, limiter *ratelimit.SlidingWindow, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Execute runs one query against the upstream. The rate-limit budget is
// checked once up front and not consumed by retries of the same request.
func (c *Client) Execute(ctx context.Context, query string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Allow(); err != nil {
			return nil, newErr(KindRateLimit, 0, "local rate limit", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BaseDelay << (attempt - 1)
			if err := c.sleep(ctx, delay); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil, newErr(KindClient, 0, "request canceled", err)
				}
				return nil, newErr(KindTimeout, 0, "backoff interrupted", err)
			}
			c.logger.Debug("overpass retry", "attempt", attempt, "delay", delay.String())
		}

		resp, err := c.doOnce(ctx, query)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		observability.IncUpstreamError(upstreamName, string(KindOf(err)))
		if !Retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, query string) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(query))
	if err != nil {
		return nil, newErr(KindValidation, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency(upstreamName, time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			// The caller went away; retrying on their behalf is pointless.
			return nil, newErr(KindClient, 0, "request canceled", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, newErr(KindTimeout, 0, fmt.Sprintf("upstream timeout after %s", c.cfg.Timeout), err)
		}
		return nil, newErr(KindNetwork, 0, "upstream request", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", "err", cerr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, newErr(KindNetwork, resp.StatusCode, "read response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, newErr(KindUpstream, resp.StatusCode,
			fmt.Sprintf("upstream status %d: %s", resp.StatusCode, trimBody(body)), nil)
	case resp.StatusCode >= 400:
		return nil, newErr(KindClient, resp.StatusCode,
			fmt.Sprintf("client error %d: %s", resp.StatusCode, trimBody(body)), nil)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		// Overpass answers with an HTML error page when overloaded.
		return nil, newErr(KindDecode, resp.StatusCode,
			"upstream returned a non-JSON payload, likely overloaded", err)
	}
	return &out, nil
}

func trimBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
