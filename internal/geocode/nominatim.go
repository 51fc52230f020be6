// Package geocode resolves free-text place names to centroids via a
// Nominatim-style endpoint. The upstream allows at most one request per
// second; calls are spaced client-side and results memoized.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/roamplan/sitecache/internal/core/observability"
	"github.com/roamplan/sitecache/internal/ratelimit"
)

const upstreamName = "nominatim"

// ErrNoResult is returned when the upstream knows nothing about the place.
var ErrNoResult = errors.New("no geocoding result")

// Place is a resolved location.
type Place struct {
	Lat  float64
	Lon  float64
	Name string
}

type Config struct {
	Endpoint  string
	UserAgent string
	Spacing   time.Duration
	Timeout   time.Duration
}

type Geocoder struct {
	cfg    Config
	http   *http.Client
	spacer *ratelimit.Spacer
	memo   *expirable.LRU[string, Place]
	logger *slog.Logger
}

func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Geocoder {
	if cfg.Spacing <= 0 {
		cfg.Spacing = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Geocoder{
		cfg:    cfg,
		http:   httpClient,
		spacer: ratelimit.NewSpacer(cfg.Spacing),
		memo:   expirable.NewLRU[string, Place](512, nil, time.Hour),
		logger: logger,
	}
}

type nominatimResult struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

// Resolve geocodes a place name. Memoized results skip both the spacing
// delay and the network call.
func (g *Geocoder) Resolve(ctx context.Context, query string) (Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Place{}, errors.New("empty location query")
	}

	memoKey := strings.ToLower(query)
	if p, ok := g.memo.Get(memoKey); ok {
		return p, nil
	}

	if err := g.spacer.Wait(ctx); err != nil {
		return Place{}, fmt.Errorf("geocode spacing: %w", err)
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("build geocode request: %w", err)
	}
	if g.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := g.http.Do(req)
	observability.ObserveUpstreamLatency(upstreamName, time.Since(start).Seconds())
	if err != nil {
		observability.IncUpstreamError(upstreamName, "network")
		return Place{}, fmt.Errorf("geocode request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Warn("close geocode body", "err", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		observability.IncUpstreamError(upstreamName, "status")
		return Place{}, fmt.Errorf("geocode upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Place{}, fmt.Errorf("read geocode response: %w", err)
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		observability.IncUpstreamError(upstreamName, "decode")
		return Place{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return Place{}, fmt.Errorf("%w for %q", ErrNoResult, query)
	}

	r := results[0]
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("parse geocode latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("parse geocode longitude: %w", err)
	}

	p := Place{Lat: lat, Lon: lon, Name: r.DisplayName}
	g.memo.Add(memoKey, p)
	return p, nil
}
