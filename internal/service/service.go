// Package service coordinates a site query end to end: location resolution,
// freshness check against the cache, deduplicated upstream fetching, result
// ranking, and the background secondary fetch.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roamplan/sitecache/internal/cache/keys"
	"github.com/roamplan/sitecache/internal/cache/sitestore"
	"github.com/roamplan/sitecache/internal/core/geo"
	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/core/observability"
	"github.com/roamplan/sitecache/internal/geocode"
	"github.com/roamplan/sitecache/internal/normalize"
)

// Store is the slice of the spatial cache the service needs.
type Store interface {
	QueryByBounds(ctx context.Context, b model.Bounds) ([]model.Entity, error)
	GetQueryTimestamp(ctx context.Context, sig string) (sitestore.Meta, bool)
	SetQueryTimestamp(ctx context.Context, sig string, m sitestore.Meta) error
	Upsert(ctx context.Context, entities []model.Entity) error
}

// Fetcher plans and runs upstream loads.
type Fetcher interface {
	Plan(ctx context.Context, b model.Bounds, types []model.SiteType) ([]model.Entity, error)
	FetchSecondary(ctx context.Context, b model.Bounds, types []model.SiteType) ([]model.Entity, error)
}

// Resolver turns a place name into a point.
type Resolver interface {
	Resolve(ctx context.Context, query string) (geocode.Place, error)
}

type Config struct {
	CacheMaxAge      time.Duration
	MaxBoundsSpanDeg float64
	LocationRadiusKm float64
	SecondaryDelay   time.Duration
	SecondaryTimeout time.Duration
	DefaultLimit     int
	Source           string
}

type Service struct {
	store    Store
	fetcher  Fetcher
	resolver Resolver
	cfg      Config
	logger   *slog.Logger

	group singleflight.Group
	now   func() time.Time

	// schedule defers the secondary fetch; replaced in tests.
	schedule func(d time.Duration, f func())
}

func New(store Store, fetcher Fetcher, resolver Resolver, cfg Config, logger *slog.Logger) *Service {
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = 24 * time.Hour
	}
	if cfg.MaxBoundsSpanDeg <= 0 {
		cfg.MaxBoundsSpanDeg = 2.0
	}
	if cfg.LocationRadiusKm <= 0 {
		cfg.LocationRadiusKm = 50
	}
	if cfg.SecondaryDelay <= 0 {
		cfg.SecondaryDelay = 2 * time.Second
	}
	if cfg.SecondaryTimeout <= 0 {
		cfg.SecondaryTimeout = 60 * time.Second
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 200
	}
	if cfg.Source == "" {
		cfg.Source = "osm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		fetcher:  fetcher,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Search answers one site query. Concurrent searches with the same signature
// share a single upstream fetch.
func (s *Service) Search(ctx context.Context, q model.Query) model.QueryResult {
	start := s.now()
	fail := func(msg string) model.QueryResult {
		return model.QueryResult{Status: model.StatusError, Error: msg, Duration: s.now().Sub(start)}
	}

	// A location string takes precedence over explicit bounds and is resolved
	// into a radius box before anything else runs.
	if q.Location != "" {
		place, err := s.resolver.Resolve(ctx, q.Location)
		if err != nil {
			if errors.Is(err, geocode.ErrNoResult) {
				return fail("location not found")
			}
			s.logger.Warn("geocode failed", "location", q.Location, "err", err)
			return fail("location lookup failed")
		}
		// The radius box is shrunk to the span limit rather than rejected:
		// at high latitudes a 50km radius exceeds 2 degrees of longitude,
		// and a resolved place should always yield a searchable region.
		b := geo.ClampSpan(geo.RadiusBounds(place.Lat, place.Lon, s.cfg.LocationRadiusKm), s.cfg.MaxBoundsSpanDeg)
		q.Bounds = &b
		q.Location = ""
	}
	if q.Bounds == nil {
		return fail("either bounds or a location is required")
	}
	b := *q.Bounds

	// Validation happens before any cache or network work.
	if err := geo.Validate(b, s.cfg.MaxBoundsSpanDeg); err != nil {
		return fail(err.Error())
	}
	if q.Limit <= 0 {
		q.Limit = s.cfg.DefaultLimit
	}
	for _, t := range q.Types {
		if !model.ValidSiteType(t) {
			return fail("unknown site type: " + string(t))
		}
	}

	sig := keys.Signature(b, q.Types, q.Amenities)
	v, err, shared := s.group.Do(sig, func() (any, error) {
		return s.load(ctx, sig, b, q.Types), nil
	})
	if err != nil {
		// load never returns an error through the group
		return fail(err.Error())
	}
	lr := v.(loadResult)
	if shared {
		s.logger.Debug("query deduplicated", "sig", sig)
	}

	if lr.status == model.StatusError {
		return fail(lr.errMsg)
	}
	ranked := normalize.FilterAndRank(lr.entities, q, b)
	return model.QueryResult{
		Status:   model.StatusSuccess,
		Entities: ranked,
		CacheHit: lr.cacheHit,
		Stale:    lr.stale,
		Duration: s.now().Sub(start),
	}
}

// loadResult is the shared outcome of one deduplicated load. Filtering and
// ranking stay per-caller; only the raw region load is shared.
type loadResult struct {
	entities []model.Entity
	cacheHit bool
	stale    bool
	status   model.QueryStatus
	errMsg   string
}

func (s *Service) load(ctx context.Context, sig string, b model.Bounds, types []model.SiteType) loadResult {
	if meta, ok := s.store.GetQueryTimestamp(ctx, sig); ok {
		if s.now().Sub(meta.LastFetch) < s.cfg.CacheMaxAge {
			entities, err := s.store.QueryByBounds(ctx, b)
			if err == nil {
				observability.IncCacheHit()
				return loadResult{entities: entities, cacheHit: true, status: model.StatusSuccess}
			}
			s.logger.Warn("cache read failed, refetching", "sig", sig, "err", err)
		}
	}
	observability.IncCacheMiss()

	entities, err := s.fetcher.Plan(ctx, b, types)
	if err != nil {
		s.logger.Warn("upstream fetch failed", "sig", sig, "err", err)
		return s.staleFallback(ctx, sig, b)
	}

	if err := s.store.Upsert(ctx, entities); err != nil {
		s.logger.Warn("cache write failed", "sig", sig, "err", err)
	}
	meta := sitestore.Meta{LastFetch: s.now(), Source: s.cfg.Source, Bounds: b}
	if err := s.store.SetQueryTimestamp(ctx, sig, meta); err != nil {
		s.logger.Warn("meta write failed", "sig", sig, "err", err)
	}

	s.scheduleSecondary(b, types)
	return loadResult{entities: entities, status: model.StatusSuccess}
}

// staleFallback serves whatever the cache still holds when the upstream is
// unreachable, marking the result stale.
func (s *Service) staleFallback(ctx context.Context, sig string, b model.Bounds) loadResult {
	entities, err := s.store.QueryByBounds(ctx, b)
	if err != nil || len(entities) == 0 {
		return loadResult{
			status: model.StatusError,
			errMsg: "upstream fetch failed, the server may be busy, try again later",
		}
	}
	observability.IncCacheStale()
	s.logger.Info("serving stale cache", "sig", sig, "entities", len(entities))
	return loadResult{entities: entities, cacheHit: true, stale: true, status: model.StatusSuccess}
}

// scheduleSecondary queues the slow statement tier after a short delay so the
// caller's response is never held up by it. Failures only log; the next cold
// query retries naturally.
func (s *Service) scheduleSecondary(b model.Bounds, types []model.SiteType) {
	s.schedule(s.cfg.SecondaryDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SecondaryTimeout)
		defer cancel()

		entities, err := s.fetcher.FetchSecondary(ctx, b, types)
		if err != nil {
			s.logger.Debug("secondary fetch failed", "bounds", b.String(), "err", err)
			return
		}
		if err := s.store.Upsert(ctx, entities); err != nil {
			s.logger.Warn("secondary cache write failed", "err", err)
		}
	})
}
