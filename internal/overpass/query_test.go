package overpass

import (
	"strings"
	"testing"
	"time"

	"github.com/roamplan/sitecache/internal/core/model"
)

var testBounds = model.Bounds{North: 58.0, South: 57.5, East: 12.0, West: 11.5}

func TestBuildQuery_PrimaryShape(t *testing.T) {
	q, err := BuildQuery(testBounds, []model.SiteType{model.SiteCampsite}, TierPrimary, 100, 25*time.Second, 2.0)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	for _, want := range []string{
		"[out:json][timeout:25];",
		`node["tourism"="camp_site"](57.500000,11.500000,58.000000,12.000000);`,
		`way["tourism"="camp_site"]`,
		"out center 100;",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
	if strings.Contains(q, "relation[") {
		t.Fatalf("primary query must not include relations:\n%s", q)
	}
}

func TestBuildQuery_SecondaryCoversRareTags(t *testing.T) {
	q, err := BuildQuery(testBounds, nil, TierSecondary, 100, 25*time.Second, 2.0)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	for _, want := range []string{
		`relation["tourism"="camp_site"]`,
		`node["amenity"="parking"]["motorhome"="yes"]`,
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("secondary query missing %q:\n%s", want, q)
		}
	}
}

func TestBuildQuery_InvalidBoundsRejected(t *testing.T) {
	bad := model.Bounds{North: 57.0, South: 58.0, East: 12.0, West: 11.5} // inverted
	_, err := BuildQuery(bad, nil, TierPrimary, 100, 25*time.Second, 2.0)
	if err == nil {
		t.Fatalf("inverted bounds must be rejected")
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("kind=%s want validation", KindOf(err))
	}
}

func TestBuildQuery_OversizedBoundsRejected(t *testing.T) {
	big := model.Bounds{North: 60, South: 50, East: 20, West: 10}
	_, err := BuildQuery(big, nil, TierPrimary, 100, 25*time.Second, 2.0)
	if err == nil || KindOf(err) != KindValidation {
		t.Fatalf("oversized bounds must fail validation, got %v", err)
	}
}

func TestBuildQuery_ServicePointOnly(t *testing.T) {
	q, err := BuildQuery(testBounds, []model.SiteType{model.SiteServicePoint}, TierPrimary, 50, 25*time.Second, 2.0)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if !strings.Contains(q, `node["amenity"="sanitary_dump_station"]`) {
		t.Fatalf("missing dump station selector:\n%s", q)
	}
	if strings.Contains(q, "camp_site") {
		t.Fatalf("unrequested type leaked into query:\n%s", q)
	}
}
