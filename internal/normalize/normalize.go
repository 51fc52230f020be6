// Package normalize maps raw upstream records into the uniform entity shape
// and applies the caller's compatibility constraints. Tag access is explicit
// per known key; unknown tags are ignored, never passed through.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/overpass"
)

// FromElements converts upstream elements, dropping records without a usable
// position and records marked disused/abandoned/demolished at the source.
func FromElements(elems []overpass.Element, source string, now time.Time) []model.Entity {
	out := make([]model.Entity, 0, len(elems))
	for _, el := range elems {
		lat, lon, ok := el.Position()
		if !ok {
			continue
		}
		if isDisused(el.Tags) {
			continue
		}
		e := model.Entity{
			ID:        el.ID,
			Lat:       lat,
			Lon:       lon,
			Type:      categoryFor(el.Tags),
			Source:    source,
			UpdatedAt: now,
		}
		if el.Type != "" && el.Type != "node" {
			e.AltID = el.Type + "/" + strconv.FormatInt(el.ID, 10)
		}

		tags := el.Tags
		e.Name = tag(tags, "name")
		e.OpeningHours = tag(tags, "opening_hours")
		e.Amenities = amenitiesFor(tags)
		e.Access = accessFor(tags)
		e.Contact = model.Contact{
			Phone:   first(tags, "phone", "contact:phone"),
			Email:   first(tags, "email", "contact:email"),
			Website: first(tags, "website", "contact:website"),
		}
		e.Address = addressFor(tags)
		e.Completeness = TierFor(e)
		out = append(out, e)
	}
	return out
}

// TierFor derives the data-completeness tier from attribute population.
func TierFor(e model.Entity) model.Tier {
	switch {
	case e.Name != "" && e.Amenities.Count() >= 3 && e.Contact.Any() && e.OpeningHours != "":
		return model.TierDetailed
	case e.Name != "" && (e.Amenities.Count() >= 1 || e.Contact.Any()):
		return model.TierBasic
	default:
		return model.TierMinimal
	}
}

var disusedPrefixes = []string{"disused:", "abandoned:", "demolished:", "razed:"}

func isDisused(tags map[string]string) bool {
	if tags == nil {
		return false
	}
	for _, k := range []string{"disused", "abandoned", "demolished"} {
		if v, ok := tags[k]; ok && v != "no" {
			return true
		}
	}
	for k := range tags {
		for _, p := range disusedPrefixes {
			if strings.HasPrefix(k, p) {
				return true
			}
		}
	}
	return false
}

// categoryFor applies the prioritized tag rules; the most specific match
// wins and anything unmatched falls back to the generic category.
func categoryFor(tags map[string]string) model.SiteType {
	switch {
	case tags["tourism"] == "caravan_site":
		return model.SiteCaravanSite
	case tags["tourism"] == "camp_site":
		return model.SiteCampsite
	case tags["amenity"] == "sanitary_dump_station":
		return model.SiteServicePoint
	case tags["amenity"] == "parking" && (truthy(tags["motorhome"]) || truthy(tags["caravan"])):
		return model.SiteParkingOvernight
	default:
		return model.SiteGeneric
	}
}

func amenitiesFor(tags map[string]string) model.Amenities {
	return model.Amenities{
		Water:      truthy(tags["drinking_water"]) || truthy(tags["water_point"]),
		Power:      truthy(tags["power_supply"]),
		Sanitation: truthy(tags["sanitary_dump_station"]) || tags["amenity"] == "sanitary_dump_station",
		Shower:     truthy(tags["shower"]),
		Toilet:     truthy(tags["toilets"]),
		Wifi:       truthy(tags["internet_access"]) || tags["internet_access"] == "wlan",
		Waste:      truthy(tags["waste_disposal"]),
	}
}

func accessFor(tags map[string]string) model.AccessLimits {
	var a model.AccessLimits
	if v, ok := parseMeasure(tags["maxheight"]); ok {
		a.MaxHeightM = &v
	}
	if v, ok := parseMeasure(tags["maxlength"]); ok {
		a.MaxLengthM = &v
	}
	if v, ok := parseMeasure(tags["maxweight"]); ok {
		a.MaxWeightT = &v
	}
	if v, ok := tags["motorhome"]; ok {
		b := truthy(v)
		a.Motorhome = &b
	}
	if v, ok := tags["caravan"]; ok {
		b := truthy(v)
		a.Caravan = &b
	}
	return a
}

func addressFor(tags map[string]string) string {
	var parts []string
	street := tag(tags, "addr:street")
	if street != "" {
		if num := tag(tags, "addr:housenumber"); num != "" {
			street += " " + num
		}
		parts = append(parts, street)
	}
	if city := tag(tags, "addr:city"); city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, ", ")
}

func tag(tags map[string]string, key string) string {
	return strings.TrimSpace(tags[key])
}

func first(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tag(tags, k); v != "" {
			return v
		}
	}
	return ""
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1", "designated":
		return true
	}
	return false
}

// parseMeasure reads the leading number of a tag value like "3.5" or
// "3.5 m"; upstream values are free text.
func parseMeasure(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	end := len(v)
	for i, r := range v {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			end = i
			break
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v[:end]), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}
