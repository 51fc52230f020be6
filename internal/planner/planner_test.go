package planner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/overpass"
)

// fakeUpstream answers every query with the configured elements and records
// the query text for assertions.
type fakeUpstream struct {
	mu      sync.Mutex
	queries []string
	respond func(query string) (*overpass.Response, error)
}

func (f *fakeUpstream) Execute(_ context.Context, query string) (*overpass.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.respond(query)
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func node(id int64, lat, lon float64) overpass.Element {
	return overpass.Element{
		Type: "node", ID: id, Lat: lat, Lon: lon,
		Tags: map[string]string{"tourism": "camp_site"},
	}
}

func bboxOf(b model.Bounds) string {
	return fmt.Sprintf("(%.6f,%.6f,%.6f,%.6f)", b.South, b.West, b.North, b.East)
}

func newPlanner(up Upstream) *Planner {
	return New(up, Config{
		OverlapThreshold: 0.7,
		GapMinSpanDeg:    0.01,
		QueryLimit:       200,
		QueryTimeout:     25 * time.Second,
		MaxSpanDeg:       2.0,
	}, nil)
}

func TestPlan_FirstRequestFetchesFullRegion(t *testing.T) {
	b := model.Bounds{North: 58.0, South: 57.0, East: 12.0, West: 11.0}
	up := &fakeUpstream{respond: func(query string) (*overpass.Response, error) {
		return &overpass.Response{Elements: []overpass.Element{node(1, 57.5, 11.5)}}, nil
	}}
	p := newPlanner(up)

	got, err := p.Plan(context.Background(), b, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, up.calls())
	assert.Contains(t, up.queries[0], bboxOf(b))
}

func TestPlan_HighOverlapFetchesOnlyGaps(t *testing.T) {
	first := model.Bounds{North: 58.0, South: 57.0, East: 12.0, West: 11.0}
	// Shifted east by 0.2 of the width: 80% overlap, one eastern gap strip.
	second := model.Bounds{North: 58.0, South: 57.0, East: 12.2, West: 11.2}

	up := &fakeUpstream{}
	up.respond = func(query string) (*overpass.Response, error) {
		if up.calls() == 1 {
			return &overpass.Response{Elements: []overpass.Element{
				node(1, 57.5, 11.5), // inside both regions
				node(2, 57.5, 11.1), // only in the first region
			}}, nil
		}
		return &overpass.Response{Elements: []overpass.Element{node(3, 57.5, 12.1)}}, nil
	}
	p := newPlanner(up)

	_, err := p.Plan(context.Background(), first, nil)
	require.NoError(t, err)

	got, err := p.Plan(context.Background(), second, nil)
	require.NoError(t, err)

	require.Equal(t, 2, up.calls())
	gapBox := model.Bounds{North: 58.0, South: 57.0, East: 12.2, West: 12.0}
	assert.Contains(t, up.queries[1], bboxOf(gapBox))

	ids := make(map[int64]bool, len(got))
	for _, e := range got {
		ids[e.ID] = true
	}
	assert.True(t, ids[1], "entity inside the overlap must be reused")
	assert.True(t, ids[3], "entity from the gap fetch must be included")
	assert.False(t, ids[2], "entity outside the new region must be dropped")
}

func TestPlan_LowOverlapFetchesFullRegion(t *testing.T) {
	first := model.Bounds{North: 58.0, South: 57.0, East: 12.0, West: 11.0}
	second := model.Bounds{North: 58.0, South: 57.0, East: 13.0, West: 12.0} // disjoint

	up := &fakeUpstream{respond: func(query string) (*overpass.Response, error) {
		return &overpass.Response{}, nil
	}}
	p := newPlanner(up)

	_, err := p.Plan(context.Background(), first, nil)
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), second, nil)
	require.NoError(t, err)

	require.Equal(t, 2, up.calls())
	assert.Contains(t, up.queries[1], bboxOf(second))
}

func TestPlan_GapFailureKeepsReusedEntities(t *testing.T) {
	first := model.Bounds{North: 58.0, South: 57.0, East: 12.0, West: 11.0}
	second := model.Bounds{North: 58.0, South: 57.0, East: 12.2, West: 11.2}

	up := &fakeUpstream{}
	up.respond = func(query string) (*overpass.Response, error) {
		if up.calls() == 1 {
			return &overpass.Response{Elements: []overpass.Element{node(1, 57.5, 11.5)}}, nil
		}
		return nil, fmt.Errorf("upstream down")
	}
	p := newPlanner(up)

	_, err := p.Plan(context.Background(), first, nil)
	require.NoError(t, err)

	got, err := p.Plan(context.Background(), second, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func TestPlan_DedupesAcrossReuseAndGaps(t *testing.T) {
	first := model.Bounds{North: 58.0, South: 57.0, East: 12.0, West: 11.0}
	second := model.Bounds{North: 58.0, South: 57.0, East: 12.2, West: 11.2}

	up := &fakeUpstream{}
	up.respond = func(query string) (*overpass.Response, error) {
		// Same entity shows up in both the remembered set and the gap fetch.
		return &overpass.Response{Elements: []overpass.Element{node(1, 57.5, 11.5)}}, nil
	}
	p := newPlanner(up)

	_, err := p.Plan(context.Background(), first, nil)
	require.NoError(t, err)
	got, err := p.Plan(context.Background(), second, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFetchSecondary_UsesSecondaryStatements(t *testing.T) {
	b := model.Bounds{North: 58.0, South: 57.0, East: 12.0, West: 11.0}
	up := &fakeUpstream{respond: func(query string) (*overpass.Response, error) {
		return &overpass.Response{Elements: []overpass.Element{
			{Type: "relation", ID: 9, Center: &overpass.LatLon{Lat: 57.5, Lon: 11.5},
				Tags: map[string]string{"tourism": "camp_site"}},
		}}, nil
	}}
	p := newPlanner(up)

	got, err := p.FetchSecondary(context.Background(), b, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "relation/9", got[0].AltID)
	assert.True(t, strings.Contains(up.queries[0], `relation["tourism"="camp_site"]`))
}

func TestFetchSecondary_MergesIntoSnapshot(t *testing.T) {
	b := model.Bounds{North: 58.0, South: 57.0, East: 12.0, West: 11.0}
	up := &fakeUpstream{}
	up.respond = func(query string) (*overpass.Response, error) {
		if up.calls() == 1 {
			return &overpass.Response{Elements: []overpass.Element{node(1, 57.5, 11.5)}}, nil
		}
		return &overpass.Response{Elements: []overpass.Element{
			{Type: "relation", ID: 2, Center: &overpass.LatLon{Lat: 57.6, Lon: 11.6},
				Tags: map[string]string{"tourism": "camp_site"}},
		}}, nil
	}
	p := newPlanner(up)

	_, err := p.Plan(context.Background(), b, nil)
	require.NoError(t, err)
	_, err = p.FetchSecondary(context.Background(), b, nil)
	require.NoError(t, err)

	// A later fully-overlapping plan reuses both tiers without a new fetch.
	got, err := p.Plan(context.Background(), b, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, up.calls())
}
