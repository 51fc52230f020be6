// Package keys builds normalized cache signatures for spatial queries.
// Two queries share a signature when their grid-rounded bounds and their
// type/amenity sets match, which is the equivalence the deduplicator and
// the freshness metadata both rely on.
package keys

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/roamplan/sitecache/internal/core/model"
)

// GridDeg is the rounding grid for bounds normalization. Small map pans
// inside one grid step resolve to the same signature.
const GridDeg = 0.1

const (
	sitePrefix = "site:"
	metaPrefix = "meta:"
	cellPrefix = "cellidx:"
)

// Signature returns the normalized query key.
func Signature(b model.Bounds, types []model.SiteType, amenities model.Amenities) string {
	text := normalizedText(b, types, amenities)
	sum := xxhash.Sum64String(text)
	return fmt.Sprintf("%s:h=%016x", sanitize(text), sum)
}

// MetaKey is the metadata row key for a query signature.
func MetaKey(sig string) string { return metaPrefix + sig }

// SiteKey is the entity row key for an upstream id.
func SiteKey(id int64) string { return fmt.Sprintf("%s%d", sitePrefix, id) }

// SitePattern matches every entity row, used by eviction scans.
func SitePattern() string { return sitePrefix + "*" }

// MetaPattern matches every metadata row.
func MetaPattern() string { return metaPrefix + "*" }

// CellKey is the coordinate-index row key for an H3 cell.
func CellKey(cell string) string { return cellPrefix + cell }

func normalizedText(b model.Bounds, types []model.SiteType, amenities model.Amenities) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "b=%.1f,%.1f,%.1f,%.1f",
		roundGrid(b.South), roundGrid(b.West), roundGrid(b.North), roundGrid(b.East))

	ts := make([]string, 0, len(types))
	for _, t := range types {
		ts = append(ts, string(t))
	}
	sort.Strings(ts)
	sb.WriteString(";t=")
	sb.WriteString(strings.Join(ts, ","))

	sb.WriteString(";a=")
	sb.WriteString(amenityList(amenities))
	return sb.String()
}

func amenityList(a model.Amenities) string {
	var on []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"power", a.Power},
		{"sanitation", a.Sanitation},
		{"shower", a.Shower},
		{"toilet", a.Toilet},
		{"waste", a.Waste},
		{"water", a.Water},
		{"wifi", a.Wifi},
	} {
		if f.set {
			on = append(on, f.name)
		}
	}
	return strings.Join(on, ",")
}

func roundGrid(v float64) float64 {
	return math.Round(v/GridDeg) * GridDeg
}

// sanitize keeps signatures ASCII and delimiter-safe.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := r
		switch {
		case r == ' ' || r == '\t':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=' || r == ',' || r == ';' || r == '.':
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
