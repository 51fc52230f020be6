// Package planner decides how much of a requested region actually needs an
// upstream fetch. It remembers the last loaded region and, when a new request
// mostly overlaps it, fetches only the uncovered strips and reuses the rest.
package planner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roamplan/sitecache/internal/core/geo"
	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/normalize"
	"github.com/roamplan/sitecache/internal/overpass"
)

// Upstream is the slice of the fetch client the planner needs.
type Upstream interface {
	Execute(ctx context.Context, query string) (*overpass.Response, error)
}

type Config struct {
	// OverlapThreshold is the minimum area fraction of the new region already
	// covered by the previous one before partial fetching kicks in.
	OverlapThreshold float64
	// GapMinSpanDeg drops uncovered strips narrower than this on either axis.
	GapMinSpanDeg float64
	QueryLimit    int
	QueryTimeout  time.Duration
	MaxSpanDeg    float64
	Source        string
}

type snapshot struct {
	region   model.Bounds
	entities []model.Entity
}

type Planner struct {
	up     Upstream
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last *snapshot
}

func New(up Upstream, cfg Config, logger *slog.Logger) *Planner {
	if cfg.OverlapThreshold <= 0 {
		cfg.OverlapThreshold = 0.7
	}
	if cfg.GapMinSpanDeg <= 0 {
		cfg.GapMinSpanDeg = 0.01
	}
	if cfg.Source == "" {
		cfg.Source = "osm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{up: up, cfg: cfg, logger: logger, now: time.Now}
}

// Plan loads the entities for bounds, reusing the previous region where it
// overlaps enough. Individual gap fetches may fail without failing the whole
// plan; the snapshot only advances when coverage is complete.
func (p *Planner) Plan(ctx context.Context, b model.Bounds, types []model.SiteType) ([]model.Entity, error) {
	prev := p.lastSnapshot()

	if prev == nil || geo.OverlapRatio(b, prev.region) < p.cfg.OverlapThreshold {
		entities, err := p.fetchRegion(ctx, b, types, overpass.TierPrimary)
		if err != nil {
			return nil, err
		}
		p.store(b, entities)
		return entities, nil
	}

	reused := make([]model.Entity, 0, len(prev.entities))
	for _, e := range prev.entities {
		if geo.Contains(b, e.Lat, e.Lon) {
			reused = append(reused, e)
		}
	}

	gaps := geo.Gaps(b, prev.region, p.cfg.GapMinSpanDeg)
	fetched, failed := p.fetchGaps(ctx, gaps, types)

	if failed == len(gaps) && len(gaps) > 0 && len(reused) == 0 {
		// Nothing reusable and every gap fetch failed; retry the full region.
		entities, err := p.fetchRegion(ctx, b, types, overpass.TierPrimary)
		if err != nil {
			return nil, err
		}
		p.store(b, entities)
		return entities, nil
	}

	merged := normalize.DedupeByID(append(reused, fetched...))
	if failed == 0 {
		p.store(b, merged)
	}
	return merged, nil
}

// FetchSecondary loads the slower statement tier for bounds. It never touches
// the snapshot region; results are merged into the remembered entity set so a
// later overlapping plan can reuse them.
func (p *Planner) FetchSecondary(ctx context.Context, b model.Bounds, types []model.SiteType) ([]model.Entity, error) {
	entities, err := p.fetchRegion(ctx, b, types, overpass.TierSecondary)
	if err != nil {
		return nil, err
	}
	p.merge(b, entities)
	return entities, nil
}

func (p *Planner) fetchGaps(ctx context.Context, gaps []model.Bounds, types []model.SiteType) (fetched []model.Entity, failed int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, gap := range gaps {
		wg.Add(1)
		go func(gap model.Bounds) {
			defer wg.Done()
			entities, err := p.fetchRegion(ctx, gap, types, overpass.TierPrimary)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				p.logger.Warn("gap fetch failed", "bounds", gap.String(), "err", err)
				return
			}
			fetched = append(fetched, entities...)
		}(gap)
	}
	wg.Wait()
	return fetched, failed
}

func (p *Planner) fetchRegion(ctx context.Context, b model.Bounds, types []model.SiteType, tier overpass.StatementTier) ([]model.Entity, error) {
	query, err := overpass.BuildQuery(b, types, tier, p.cfg.QueryLimit, p.cfg.QueryTimeout, p.cfg.MaxSpanDeg)
	if err != nil {
		return nil, err
	}
	resp, err := p.up.Execute(ctx, query)
	if err != nil {
		return nil, err
	}
	return normalize.FromElements(resp.Elements, p.cfg.Source, p.now()), nil
}

func (p *Planner) lastSnapshot() *snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Planner) store(region model.Bounds, entities []model.Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &snapshot{region: region, entities: entities}
}

func (p *Planner) merge(region model.Bounds, entities []model.Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return
	}
	if _, ok := geo.Intersect(region, p.last.region); !ok {
		return
	}
	p.last.entities = normalize.DedupeByID(append(p.last.entities, entities...))
}
