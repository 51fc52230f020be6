// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

// SiteType is the closed set of categories an entity can carry.
type SiteType string

const (
	SiteCampsite         SiteType = "campsite"
	SiteCaravanSite      SiteType = "caravan-site"
	SiteServicePoint     SiteType = "service-point"
	SiteParkingOvernight SiteType = "parking-overnight"
	SiteGeneric          SiteType = "site"
)

// AllSiteTypes in stable order, used for validation and query defaults.
func AllSiteTypes() []SiteType {
	return []SiteType{SiteCampsite, SiteCaravanSite, SiteServicePoint, SiteParkingOvernight, SiteGeneric}
}

func ValidSiteType(t SiteType) bool {
	switch t {
	case SiteCampsite, SiteCaravanSite, SiteServicePoint, SiteParkingOvernight, SiteGeneric:
		return true
	}
	return false
}

// Tier classifies how populated an entity's optional fields are.
type Tier string

const (
	TierMinimal  Tier = "minimal"
	TierBasic    Tier = "basic"
	TierDetailed Tier = "detailed"
)

// Rank orders tiers most-complete-first for sorting.
func (t Tier) Rank() int {
	switch t {
	case TierDetailed:
		return 0
	case TierBasic:
		return 1
	default:
		return 2
	}
}

// Amenities is the fixed set of boolean amenity flags.
type Amenities struct {
	Water      bool `json:"water"`
	Power      bool `json:"power"`
	Sanitation bool `json:"sanitation"`
	Shower     bool `json:"shower"`
	Toilet     bool `json:"toilet"`
	Wifi       bool `json:"wifi"`
	Waste      bool `json:"waste"`
}

// Count returns the number of flags set.
func (a Amenities) Count() int {
	n := 0
	for _, b := range []bool{a.Water, a.Power, a.Sanitation, a.Shower, a.Toilet, a.Wifi, a.Waste} {
		if b {
			n++
		}
	}
	return n
}

// Has reports whether every flag set in want is also set in a.
func (a Amenities) Has(want Amenities) bool {
	check := func(have, need bool) bool { return !need || have }
	return check(a.Water, want.Water) &&
		check(a.Power, want.Power) &&
		check(a.Sanitation, want.Sanitation) &&
		check(a.Shower, want.Shower) &&
		check(a.Toilet, want.Toilet) &&
		check(a.Wifi, want.Wifi) &&
		check(a.Waste, want.Waste)
}

// None reports whether no flag is set.
func (a Amenities) None() bool { return a.Count() == 0 }

// AccessLimits are the numeric/boolean access constraints a site declares.
// Nil means the site does not declare the constraint.
type AccessLimits struct {
	MaxHeightM *float64 `json:"max_height_m,omitempty"`
	MaxLengthM *float64 `json:"max_length_m,omitempty"`
	MaxWeightT *float64 `json:"max_weight_t,omitempty"`
	Motorhome  *bool    `json:"motorhome,omitempty"`
	Caravan    *bool    `json:"caravan,omitempty"`
}

// VehicleProfile carries the caller's vehicle requirements.
type VehicleProfile struct {
	HeightM   float64 `json:"height_m" validate:"gte=0,lte=10"`
	LengthM   float64 `json:"length_m" validate:"gte=0,lte=30"`
	WeightT   float64 `json:"weight_t" validate:"gte=0,lte=60"`
	Motorhome bool    `json:"motorhome"`
	Caravan   bool    `json:"caravan"`
}

// Empty reports whether no constraint is set.
func (v VehicleProfile) Empty() bool {
	return v.HeightM == 0 && v.LengthM == 0 && v.WeightT == 0 && !v.Motorhome && !v.Caravan
}

// Contact holds free-text contact fields from the source.
type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// Any reports whether at least one contact field is populated.
func (c Contact) Any() bool {
	return c.Phone != "" || c.Email != "" || c.Website != ""
}

// Entity is a point-of-interest record returned by the geo-data upstream.
type Entity struct {
	ID           int64        `json:"id"`
	AltID        string       `json:"alt_id,omitempty"`
	Lat          float64      `json:"lat"`
	Lon          float64      `json:"lon"`
	Type         SiteType     `json:"type"`
	Name         string       `json:"name,omitempty"`
	Amenities    Amenities    `json:"amenities"`
	Access       AccessLimits `json:"access"`
	Contact      Contact      `json:"contact"`
	Address      string       `json:"address,omitempty"`
	OpeningHours string       `json:"opening_hours,omitempty"`
	Completeness Tier         `json:"completeness"`
	Source       string       `json:"source"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Score        float64      `json:"score,omitempty"`
}

// Bounds is a lat/lon rectangle in WGS84 degrees.
// Invariant: North > South and East > West.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func (b Bounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.South, b.West, b.North, b.East)
}

// Query is the caller-facing request. Location takes precedence over Bounds
// and is internally resolved to a bounding box.
type Query struct {
	Bounds    *Bounds        `json:"bounds,omitempty"`
	Location  string         `json:"location,omitempty"`
	Types     []SiteType     `json:"types,omitempty"`
	Amenities Amenities      `json:"amenities"`
	Vehicle   VehicleProfile `json:"vehicle"`
	Limit     int            `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

// QueryStatus reports the outcome of a query.
type QueryStatus string

const (
	StatusSuccess QueryStatus = "success"
	StatusError   QueryStatus = "error"
)

// QueryResult is what callers receive from the service.
type QueryResult struct {
	Status   QueryStatus   `json:"status"`
	Error    string        `json:"error,omitempty"`
	Entities []Entity      `json:"entities"`
	CacheHit bool          `json:"cache_hit"`
	Stale    bool          `json:"stale,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}
