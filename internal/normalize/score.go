package normalize

import (
	"sort"

	"github.com/roamplan/sitecache/internal/core/geo"
	"github.com/roamplan/sitecache/internal/core/model"
)

// Compatible reports whether the entity admits the caller's vehicle. Every
// declared numeric limit must be absent or at least the requirement; a class
// the caller needs is only rejected when the entity explicitly declares it
// unsupported.
func Compatible(e model.Entity, v model.VehicleProfile) bool {
	if v.Empty() {
		return true
	}
	if exceeds(e.Access.MaxHeightM, v.HeightM) ||
		exceeds(e.Access.MaxLengthM, v.LengthM) ||
		exceeds(e.Access.MaxWeightT, v.WeightT) {
		return false
	}
	if v.Motorhome && e.Access.Motorhome != nil && !*e.Access.Motorhome {
		return false
	}
	if v.Caravan && e.Access.Caravan != nil && !*e.Access.Caravan {
		return false
	}
	return true
}

func exceeds(limit *float64, need float64) bool {
	return limit != nil && need > 0 && *limit < need
}

// FilterAndRank applies type, amenity and vehicle filters, scores the
// survivors against the vehicle profile, and orders them by completeness
// tier then distance from the query centroid.
func FilterAndRank(entities []model.Entity, q model.Query, b model.Bounds) []model.Entity {
	typeSet := make(map[model.SiteType]bool, len(q.Types))
	for _, t := range q.Types {
		typeSet[t] = true
	}

	cLat, cLon := geo.Centroid(b)

	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		if !e.Amenities.Has(q.Amenities) {
			continue
		}
		if !Compatible(e, q.Vehicle) {
			continue
		}
		e.Score = score(e, q.Vehicle)
		out = append(out, e)
	}

	dist := make(map[int64]float64, len(out))
	for _, e := range out {
		dist[e.ID] = geo.DistanceKm(cLat, cLon, e.Lat, e.Lon)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Completeness.Rank(), out[j].Completeness.Rank()
		if ri != rj {
			return ri < rj
		}
		di, dj := dist[out[i].ID], dist[out[j].ID]
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// score is a coarse quality signal: richer records and explicit support for
// the caller's vehicle classes rank a site higher within its tier.
func score(e model.Entity, v model.VehicleProfile) float64 {
	s := float64(e.Amenities.Count())
	if e.Contact.Any() {
		s++
	}
	if e.OpeningHours != "" {
		s++
	}
	if v.Motorhome && e.Access.Motorhome != nil && *e.Access.Motorhome {
		s += 2
	}
	if v.Caravan && e.Access.Caravan != nil && *e.Access.Caravan {
		s += 2
	}
	return s
}

// DedupeByID keeps the first occurrence of each id, preserving order. Used
// when combining reused and gap-fetched entities.
func DedupeByID(entities []model.Entity) []model.Entity {
	seen := make(map[int64]struct{}, len(entities))
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
