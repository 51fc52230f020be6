package invalidation

import (
	"testing"
	"time"

	"github.com/roamplan/sitecache/internal/core/model"
)

func mustTS() time.Time { return time.Date(2026, 9, 1, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_IDsAndBoundsMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: "delete", TS: mustTS(),
		SiteIDs: []int64{1, 2},
		Bounds:  &model.Bounds{North: 58, South: 57, East: 12, West: 11},
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when both site_ids and bounds are set")
	}
	ev = Event{Version: 1, Op: "delete", TS: mustTS()}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when neither site_ids nor bounds is set")
	}
}

func TestEvent_Validate_HappyPaths(t *testing.T) {
	ev := Event{Version: 1, Op: "delete", TS: mustTS(), SiteIDs: []int64{42}}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	ev = Event{
		Version: 1, Op: "refresh", TS: mustTS(),
		Bounds: &model.Bounds{North: 58, South: 57, East: 12, West: 11},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
	}{
		{"bad_version", Event{Version: 2, Op: "delete", TS: mustTS(), SiteIDs: []int64{1}}},
		{"bad_op", Event{Version: 1, Op: "upsert", TS: mustTS(), SiteIDs: []int64{1}}},
		{"missing_ts", Event{Version: 1, Op: "delete", SiteIDs: []int64{1}}},
		{"inverted_bounds", Event{Version: 1, Op: "refresh", TS: mustTS(),
			Bounds: &model.Bounds{North: 57, South: 58, East: 12, West: 11}}},
		{"lat_out_of_range", Event{Version: 1, Op: "refresh", TS: mustTS(),
			Bounds: &model.Bounds{North: 95, South: 57, East: 12, West: 11}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.ev.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestEvent_Key_StableUnderIDOrder(t *testing.T) {
	a := Event{Version: 1, Op: "delete", TS: mustTS(), SiteIDs: []int64{3, 1, 2}}
	b := Event{Version: 1, Op: "delete", TS: mustTS(), SiteIDs: []int64{1, 2, 3}}
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}

	c := Event{Version: 1, Op: "refresh", TS: mustTS(), SiteIDs: []int64{1, 2, 3}}
	if a.Key() == c.Key() {
		t.Fatalf("different ops must not share a key")
	}
}
