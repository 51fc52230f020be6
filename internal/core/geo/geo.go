// Package geo holds pure bounds geometry: validation, overlap ratios and
// gap-strip computation. No I/O happens here so the planner math stays
// unit-testable in isolation.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/roamplan/sitecache/internal/core/model"
)

const earthRadiusKm = 6371.0

// ErrInvalidBounds tags every bounds validation failure so callers can
// distinguish it from network errors.
var ErrInvalidBounds = errors.New("invalid bounds")

// Validate rejects malformed or oversized bounds before any network I/O.
// maxSpanDeg bounds both axes; zero disables the span check.
func Validate(b model.Bounds, maxSpanDeg float64) error {
	for _, v := range []float64{b.North, b.South, b.East, b.West} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBounds)
		}
	}
	if b.North > 90 || b.South < -90 {
		return fmt.Errorf("%w: latitude must be in [-90,90]", ErrInvalidBounds)
	}
	if b.East > 180 || b.West < -180 {
		return fmt.Errorf("%w: longitude must be in [-180,180]", ErrInvalidBounds)
	}
	if b.North <= b.South {
		return fmt.Errorf("%w: north must be greater than south", ErrInvalidBounds)
	}
	if b.East <= b.West {
		return fmt.Errorf("%w: east must be greater than west", ErrInvalidBounds)
	}
	if maxSpanDeg > 0 {
		if b.North-b.South > maxSpanDeg || b.East-b.West > maxSpanDeg {
			return fmt.Errorf("%w: region exceeds maximum span of %.2f degrees", ErrInvalidBounds, maxSpanDeg)
		}
	}
	return nil
}

// Area in square degrees. Good enough for overlap ratios at map-pan scale.
func Area(b model.Bounds) float64 {
	if b.North <= b.South || b.East <= b.West {
		return 0
	}
	return (b.North - b.South) * (b.East - b.West)
}

// Intersect returns the overlapping rectangle of a and b, and whether it is
// non-degenerate.
func Intersect(a, b model.Bounds) (model.Bounds, bool) {
	out := model.Bounds{
		North: math.Min(a.North, b.North),
		South: math.Max(a.South, b.South),
		East:  math.Min(a.East, b.East),
		West:  math.Max(a.West, b.West),
	}
	if out.North <= out.South || out.East <= out.West {
		return model.Bounds{}, false
	}
	return out, true
}

// OverlapRatio is intersection-area / area(next): the fraction of the newly
// requested region already covered by the previously loaded one.
func OverlapRatio(next, prev model.Bounds) float64 {
	na := Area(next)
	if na <= 0 {
		return 0
	}
	inter, ok := Intersect(next, prev)
	if !ok {
		return 0
	}
	return Area(inter) / na
}

// Gaps computes up to four strips of next not covered by prev. North/south
// strips take the full longitude width of next; east/west strips are clipped
// to the shared latitude band so corner areas are never counted twice.
// Strips narrower than minSpanDeg in either dimension are dropped.
func Gaps(next, prev model.Bounds, minSpanDeg float64) []model.Bounds {
	if _, ok := Intersect(next, prev); !ok {
		return []model.Bounds{next}
	}

	var gaps []model.Bounds
	add := func(g model.Bounds) {
		if g.North-g.South < minSpanDeg || g.East-g.West < minSpanDeg {
			return
		}
		gaps = append(gaps, g)
	}

	if next.North > prev.North {
		add(model.Bounds{
			North: next.North,
			South: math.Max(next.South, prev.North),
			East:  next.East,
			West:  next.West,
		})
	}
	if next.South < prev.South {
		add(model.Bounds{
			North: math.Min(next.North, prev.South),
			South: next.South,
			East:  next.East,
			West:  next.West,
		})
	}

	// Lat band shared by both rectangles; keeps east/west strips off the corners.
	bandN := math.Min(next.North, prev.North)
	bandS := math.Max(next.South, prev.South)

	if next.East > prev.East {
		add(model.Bounds{
			North: bandN,
			South: bandS,
			East:  next.East,
			West:  math.Max(next.West, prev.East),
		})
	}
	if next.West < prev.West {
		add(model.Bounds{
			North: bandN,
			South: bandS,
			East:  math.Min(next.East, prev.West),
			West:  next.West,
		})
	}
	return gaps
}

// Contains reports whether the point lies inside b (edges inclusive).
func Contains(b model.Bounds, lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// Centroid of the rectangle.
func Centroid(b model.Bounds) (lat, lon float64) {
	return (b.North + b.South) / 2, (b.East + b.West) / 2
}

// DistanceKm is the haversine great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// RadiusBounds derives a bounding box of roughly radiusKm around a point,
// clamped to valid coordinate ranges. Used by the location-query path.
func RadiusBounds(lat, lon, radiusKm float64) model.Bounds {
	dLat := radiusKm / 111.0
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01 // near the poles a radius box degenerates; clamp instead
	}
	dLon := radiusKm / (111.0 * cos)
	return model.Bounds{
		North: math.Min(lat+dLat, 90),
		South: math.Max(lat-dLat, -90),
		East:  math.Min(lon+dLon, 180),
		West:  math.Max(lon-dLon, -180),
	}
}

// ClampSpan shrinks b symmetrically around its centroid until neither axis
// exceeds maxSpanDeg. A radius box widens its longitude span with latitude,
// so without this a fixed-radius box can outgrow the span limit in the north.
// maxSpanDeg <= 0 disables the clamp.
func ClampSpan(b model.Bounds, maxSpanDeg float64) model.Bounds {
	if maxSpanDeg <= 0 {
		return b
	}
	cLat, cLon := Centroid(b)
	if b.North-b.South > maxSpanDeg {
		b.North = cLat + maxSpanDeg/2
		b.South = cLat - maxSpanDeg/2
	}
	if b.East-b.West > maxSpanDeg {
		b.East = cLon + maxSpanDeg/2
		b.West = cLon - maxSpanDeg/2
	}
	return b
}
