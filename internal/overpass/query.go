package overpass

import (
	"fmt"
	"strings"
	"time"

	"github.com/roamplan/sitecache/internal/core/geo"
	"github.com/roamplan/sitecache/internal/core/model"
)

// StatementTier selects which slice of the tag universe a query covers.
// Primary statements (points and simple polygons of the common types) are
// what the caller waits for; Secondary adds rare tags and relations in the
// background.
type StatementTier int

const (
	TierPrimary StatementTier = iota
	TierSecondary
)

// BuildQuery serializes a bounds+types request into the upstream query
// language. Bounds are validated first; invalid bounds never reach the wire.
func BuildQuery(b model.Bounds, types []model.SiteType, tier StatementTier, limit int, timeout time.Duration, maxSpanDeg float64) (string, error) {
	if err := geo.Validate(b, maxSpanDeg); err != nil {
		return "", newErr(KindValidation, 0, "bounds validation", err)
	}
	if limit <= 0 {
		limit = 200
	}
	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 25
	}

	bbox := fmt.Sprintf("(%.6f,%.6f,%.6f,%.6f)", b.South, b.West, b.North, b.East)

	var stmts []string
	for _, sel := range selectorsFor(types, tier) {
		stmts = append(stmts, sel+bbox+";")
	}
	if len(stmts) == 0 {
		return "", newErr(KindValidation, 0, "no statements for requested types", nil)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];(", secs)
	for _, s := range stmts {
		sb.WriteString(s)
	}
	fmt.Fprintf(&sb, ");out center %d;", limit)
	return sb.String(), nil
}

// selectorsFor expands site types into tag selectors. Primary covers nodes
// and ways of the common tags; secondary covers relations and the niche
// overnight-parking tagging.
func selectorsFor(types []model.SiteType, tier StatementTier) []string {
	want := make(map[model.SiteType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	if len(want) == 0 {
		for _, t := range model.AllSiteTypes() {
			want[t] = true
		}
	}

	var out []string
	add := func(sel ...string) { out = append(out, sel...) }

	switch tier {
	case TierPrimary:
		if want[model.SiteCampsite] || want[model.SiteGeneric] {
			add(`node["tourism"="camp_site"]`, `way["tourism"="camp_site"]`)
		}
		if want[model.SiteCaravanSite] || want[model.SiteGeneric] {
			add(`node["tourism"="caravan_site"]`, `way["tourism"="caravan_site"]`)
		}
		if want[model.SiteServicePoint] || want[model.SiteGeneric] {
			add(`node["amenity"="sanitary_dump_station"]`)
		}
	case TierSecondary:
		if want[model.SiteCampsite] || want[model.SiteGeneric] {
			add(`relation["tourism"="camp_site"]`)
		}
		if want[model.SiteCaravanSite] || want[model.SiteGeneric] {
			add(`relation["tourism"="caravan_site"]`)
		}
		if want[model.SiteServicePoint] || want[model.SiteGeneric] {
			add(`way["amenity"="sanitary_dump_station"]`)
		}
		if want[model.SiteParkingOvernight] || want[model.SiteGeneric] {
			add(
				`node["amenity"="parking"]["motorhome"="yes"]`,
				`way["amenity"="parking"]["motorhome"="yes"]`,
				`node["amenity"="parking"]["caravan"="yes"]`,
			)
		}
	}
	return out
}
