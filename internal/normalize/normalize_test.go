package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/overpass"
)

var now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func TestFromElements_CategoryRules(t *testing.T) {
	cases := []struct {
		name string
		tags map[string]string
		want model.SiteType
	}{
		{"caravan_site", map[string]string{"tourism": "caravan_site"}, model.SiteCaravanSite},
		{"camp_site", map[string]string{"tourism": "camp_site"}, model.SiteCampsite},
		{"dump_station", map[string]string{"amenity": "sanitary_dump_station"}, model.SiteServicePoint},
		{"overnight_parking", map[string]string{"amenity": "parking", "motorhome": "yes"}, model.SiteParkingOvernight},
		{"plain_parking_falls_back", map[string]string{"amenity": "parking"}, model.SiteGeneric},
		{"unknown_tags_fall_back", map[string]string{"leisure": "park"}, model.SiteGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromElements([]overpass.Element{
				{Type: "node", ID: 1, Lat: 57.7, Lon: 11.9, Tags: tc.tags},
			}, "osm", now)
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0].Type)
		})
	}
}

func TestFromElements_DropsDisused(t *testing.T) {
	got := FromElements([]overpass.Element{
		{Type: "node", ID: 1, Lat: 57.7, Lon: 11.9, Tags: map[string]string{"disused": "yes", "tourism": "camp_site"}},
		{Type: "node", ID: 2, Lat: 57.7, Lon: 11.9, Tags: map[string]string{"abandoned:tourism": "camp_site"}},
		{Type: "node", ID: 3, Lat: 57.7, Lon: 11.9, Tags: map[string]string{"demolished": "yes"}},
		{Type: "node", ID: 4, Lat: 57.7, Lon: 11.9, Tags: map[string]string{"tourism": "camp_site"}},
	}, "osm", now)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].ID)
}

func TestFromElements_DropsPositionless(t *testing.T) {
	got := FromElements([]overpass.Element{
		{Type: "relation", ID: 9, Tags: map[string]string{"tourism": "camp_site"}}, // no coords, no center
	}, "osm", now)
	assert.Empty(t, got)
}

func TestFromElements_KeepsNodeAtNullIsland(t *testing.T) {
	// (0,0) is a real coordinate for a node, not a missing position.
	got := FromElements([]overpass.Element{
		{Type: "node", ID: 7, Lat: 0, Lon: 0, Tags: map[string]string{"tourism": "camp_site"}},
	}, "osm", now)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].Lat)
	assert.Equal(t, 0.0, got[0].Lon)
}

func TestFromElements_WayUsesCenterAndAltID(t *testing.T) {
	got := FromElements([]overpass.Element{
		{Type: "way", ID: 5, Center: &overpass.LatLon{Lat: 57.8, Lon: 12.0}, Tags: map[string]string{"tourism": "camp_site"}},
	}, "osm", now)
	require.Len(t, got, 1)
	assert.Equal(t, 57.8, got[0].Lat)
	assert.Equal(t, "way/5", got[0].AltID)
}

func TestTierFor_AttributePopulation(t *testing.T) {
	detailed := FromElements([]overpass.Element{{
		Type: "node", ID: 1, Lat: 57.7, Lon: 11.9,
		Tags: map[string]string{
			"tourism":        "camp_site",
			"name":           "Lakeside Camping",
			"drinking_water": "yes",
			"power_supply":   "yes",
			"shower":         "yes",
			"toilets":        "yes",
			"phone":          "+46 31 000000",
			"opening_hours":  "Apr-Oct",
		},
	}}, "osm", now)
	require.Len(t, detailed, 1)
	assert.Equal(t, model.TierDetailed, detailed[0].Completeness)

	minimal := FromElements([]overpass.Element{{
		Type: "node", ID: 2, Lat: 57.7, Lon: 11.9,
		Tags: map[string]string{"tourism": "camp_site", "name": "Bare Site"},
	}}, "osm", now)
	require.Len(t, minimal, 1)
	assert.Equal(t, model.TierMinimal, minimal[0].Completeness)

	basic := FromElements([]overpass.Element{{
		Type: "node", ID: 3, Lat: 57.7, Lon: 11.9,
		Tags: map[string]string{"tourism": "camp_site", "name": "Web Site", "website": "https://example.com"},
	}}, "osm", now)
	require.Len(t, basic, 1)
	assert.Equal(t, model.TierBasic, basic[0].Completeness)
}

func TestFromElements_AccessLimits(t *testing.T) {
	got := FromElements([]overpass.Element{{
		Type: "node", ID: 1, Lat: 57.7, Lon: 11.9,
		Tags: map[string]string{
			"tourism":   "camp_site",
			"maxheight": "3.5 m",
			"maxweight": "7.5",
			"motorhome": "yes",
			"caravan":   "no",
		},
	}}, "osm", now)
	require.Len(t, got, 1)
	a := got[0].Access
	require.NotNil(t, a.MaxHeightM)
	assert.Equal(t, 3.5, *a.MaxHeightM)
	require.NotNil(t, a.MaxWeightT)
	assert.Equal(t, 7.5, *a.MaxWeightT)
	require.NotNil(t, a.Motorhome)
	assert.True(t, *a.Motorhome)
	require.NotNil(t, a.Caravan)
	assert.False(t, *a.Caravan)
	assert.Nil(t, a.MaxLengthM)
}

func TestParseMeasure(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"3.5", 3.5, true},
		{"3.5 m", 3.5, true},
		{"12t", 12, true},
		{"", 0, false},
		{"default", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseMeasure(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseMeasure(%q)=(%f,%v) want (%f,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
