// Package sitestore is the persistent spatial cache: entity rows keyed by
// upstream id, a metadata side-table for per-query freshness, and an H3 cell
// index for coordinate lookups.
package sitestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roamplan/sitecache/internal/cache/cellindex"
	"github.com/roamplan/sitecache/internal/cache/keys"
	"github.com/roamplan/sitecache/internal/cache/redisstore"
	"github.com/roamplan/sitecache/internal/core/geo"
	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/core/observability"
)

// Meta is the per-signature freshness record. Bounds are stored so
// invalidation can find affected signatures without parsing key text.
type Meta struct {
	LastFetch time.Time    `json:"last_fetch"`
	Source    string       `json:"source"`
	Bounds    model.Bounds `json:"bounds"`
}

// row wraps an entity with the store-internal write time used by eviction.
type row struct {
	Entity   model.Entity `json:"entity"`
	StoredAt time.Time    `json:"stored_at"`
}

type Store struct {
	cli    *redisstore.Client
	idx    cellindex.CellIndex
	mapr   cellMapper
	logger *slog.Logger

	maxAge  time.Duration
	metaTTL time.Duration

	now func() time.Time
}

type cellMapper interface {
	CellsForBounds(b model.Bounds) ([]string, error)
	CellForPoint(lat, lon float64) (string, error)
}

func New(cli *redisstore.Client, idx cellindex.CellIndex, mapr cellMapper, logger *slog.Logger, maxAge time.Duration) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Store{
		cli:    cli,
		idx:    idx,
		mapr:   mapr,
		logger: logger,
		maxAge: maxAge,
		// metadata outlives entity freshness so stale-fallback can find it
		metaTTL: 7 * maxAge,
		now:     time.Now,
	}
}

// Upsert writes each entity keyed by id. A failed write is logged and skipped;
// the remaining entities are still committed.
func (s *Store) Upsert(ctx context.Context, entities []model.Entity) error {
	var failed int
	cellIDs := make(map[string][]int64)

	for _, e := range entities {
		r := row{Entity: e, StoredAt: s.now()}
		payload, err := json.Marshal(r)
		if err != nil {
			failed++
			s.logger.Warn("sitestore encode entity", "id", e.ID, "err", err)
			continue
		}
		if err := s.cli.Set(ctx, keys.SiteKey(e.ID), payload, s.maxAge); err != nil {
			failed++
			s.logger.Warn("sitestore write entity", "id", e.ID, "err", err)
			continue
		}
		if s.mapr != nil && s.idx != nil {
			cell, err := s.mapr.CellForPoint(e.Lat, e.Lon)
			if err != nil {
				s.logger.Warn("sitestore cell for point", "id", e.ID, "err", err)
				continue
			}
			cellIDs[cell] = append(cellIDs[cell], e.ID)
		}
	}

	for cell, ids := range cellIDs {
		if err := s.idx.MergeIDs(ctx, cell, ids, s.maxAge); err != nil {
			// index misses degrade to a full scan, not a lost entity
			s.logger.Warn("sitestore merge cell index", "cell", cell, "err", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("sitestore upsert: %d of %d writes failed", failed, len(entities))
	}
	return nil
}

// QueryByBounds returns entities whose coordinates fall inside the region.
// The cell index narrows the candidate set; when it yields nothing but rows
// exist, a full scan backs it up.
func (s *Store) QueryByBounds(ctx context.Context, b model.Bounds) ([]model.Entity, error) {
	ids, err := s.candidateIDs(ctx, b)
	if err != nil {
		return nil, err
	}

	var siteKeys []string
	if ids == nil {
		// index unavailable, scan every row
		siteKeys, err = s.cli.Scan(ctx, keys.SitePattern())
		if err != nil {
			return nil, fmt.Errorf("sitestore scan: %w", err)
		}
	} else {
		siteKeys = make([]string, 0, len(ids))
		for _, id := range ids {
			siteKeys = append(siteKeys, keys.SiteKey(id))
		}
	}
	if len(siteKeys) == 0 {
		return nil, nil
	}

	found, err := s.cli.MGet(ctx, siteKeys)
	if err != nil {
		return nil, fmt.Errorf("sitestore mget: %w", err)
	}

	out := make([]model.Entity, 0, len(found))
	for _, raw := range found {
		var r row
		if err := json.Unmarshal(raw, &r); err != nil {
			s.logger.Warn("sitestore decode row", "err", err)
			continue
		}
		if geo.Contains(b, r.Entity.Lat, r.Entity.Lon) {
			out = append(out, r.Entity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// candidateIDs returns nil (without error) when the cell index cannot serve
// the region, signalling the caller to fall back to a scan.
func (s *Store) candidateIDs(ctx context.Context, b model.Bounds) ([]int64, error) {
	if s.mapr == nil || s.idx == nil {
		return nil, nil
	}
	cells, err := s.mapr.CellsForBounds(b)
	if err != nil {
		s.logger.Warn("sitestore cells for bounds", "err", err)
		return nil, nil
	}
	seen := make(map[int64]struct{})
	var ids []int64
	for _, cell := range cells {
		cids, err := s.idx.GetIDs(ctx, cell)
		if err != nil {
			s.logger.Warn("sitestore cell index read", "cell", cell, "err", err)
			return nil, nil
		}
		for _, id := range cids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// GetQueryTimestamp returns the metadata for a query signature, or ok=false
// when absent or unreadable.
func (s *Store) GetQueryTimestamp(ctx context.Context, sig string) (Meta, bool) {
	raw, err := s.cli.Get(ctx, keys.MetaKey(sig))
	if err != nil {
		s.logger.Warn("sitestore meta read", "sig", sig, "err", err)
		return Meta{}, false
	}
	if len(raw) == 0 {
		return Meta{}, false
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.Warn("sitestore meta decode", "sig", sig, "err", err)
		return Meta{}, false
	}
	return m, true
}

func (s *Store) SetQueryTimestamp(ctx context.Context, sig string, m Meta) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sitestore meta encode: %w", err)
	}
	if err := s.cli.Set(ctx, keys.MetaKey(sig), payload, s.metaTTL); err != nil {
		return fmt.Errorf("sitestore meta write: %w", err)
	}
	return nil
}

// EvictOlderThan deletes entity rows whose StoredAt is older than now-maxAge.
// Run once at startup; Redis TTLs cover the steady state.
func (s *Store) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	siteKeys, err := s.cli.Scan(ctx, keys.SitePattern())
	if err != nil {
		return 0, fmt.Errorf("sitestore eviction scan: %w", err)
	}
	if len(siteKeys) == 0 {
		return 0, nil
	}

	found, err := s.cli.MGet(ctx, siteKeys)
	if err != nil {
		return 0, fmt.Errorf("sitestore eviction mget: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	var stale []string
	for k, raw := range found {
		var r row
		if err := json.Unmarshal(raw, &r); err != nil {
			stale = append(stale, k) // unreadable rows go too
			continue
		}
		if r.StoredAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.cli.Del(ctx, stale...); err != nil {
		return 0, fmt.Errorf("sitestore eviction del: %w", err)
	}
	observability.AddEvictedEntities(len(stale))
	return len(stale), nil
}

// DeleteSites removes entity rows by upstream id.
func (s *Store) DeleteSites(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ks := make([]string, 0, len(ids))
	for _, id := range ids {
		ks = append(ks, keys.SiteKey(id))
	}
	if err := s.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("sitestore delete sites: %w", err)
	}
	return nil
}

// InvalidateBounds drops the cell index and every metadata signature whose
// recorded bounds intersect the region, forcing a refetch on the next query.
func (s *Store) InvalidateBounds(ctx context.Context, b model.Bounds) error {
	if s.mapr != nil && s.idx != nil {
		if cells, err := s.mapr.CellsForBounds(b); err == nil {
			if err := s.idx.Del(ctx, cells...); err != nil {
				s.logger.Warn("sitestore invalidate cells", "err", err)
			}
		}
	}

	metaKeys, err := s.cli.Scan(ctx, keys.MetaPattern())
	if err != nil {
		return fmt.Errorf("sitestore meta scan: %w", err)
	}
	if len(metaKeys) == 0 {
		return nil
	}
	found, err := s.cli.MGet(ctx, metaKeys)
	if err != nil {
		return fmt.Errorf("sitestore meta mget: %w", err)
	}

	var hit []string
	for k, raw := range found {
		var m Meta
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if _, ok := geo.Intersect(m.Bounds, b); ok {
			hit = append(hit, k)
		}
	}
	if len(hit) == 0 {
		return nil
	}
	if err := s.cli.Del(ctx, hit...); err != nil {
		return fmt.Errorf("sitestore meta del: %w", err)
	}
	return nil
}

// ParseSiteKey extracts the id from a site row key, used by diagnostics.
func ParseSiteKey(key string) (int64, error) {
	raw, ok := strings.CutPrefix(key, "site:")
	if !ok {
		return 0, errors.New("not a site key")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse site id: %w", err)
	}
	return id, nil
}
