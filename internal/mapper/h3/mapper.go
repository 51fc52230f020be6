// Package h3mapper maps bounding regions and points onto H3 cells. The site
// store uses the cells as its coordinate secondary index.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/roamplan/sitecache/internal/core/model"
)

type Mapper struct {
	res int
}

func New(res int) (*Mapper, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return &Mapper{res: res}, nil
}

func (m *Mapper) Resolution() int { return m.res }

// CellsForBounds covers the rectangle with cells at the mapper resolution.
// Sorted and deduplicated for determinism.
func (m *Mapper) CellsForBounds(b model.Bounds) ([]string, error) {
	outer := h3.GeoLoop{
		{Lat: b.South, Lng: b.West},
		{Lat: b.South, Lng: b.East},
		{Lat: b.North, Lng: b.East},
		{Lat: b.North, Lng: b.West},
	}
	if len(outer) < 4 {
		return nil, errors.New("degenerate bounds loop")
	}
	poly := h3.GeoPolygon{GeoLoop: outer}

	indexes, err := h3.PolygonToCells(poly, m.res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	// Polyfill keys off cell centers; pad with a ring so points near the
	// rectangle edge still land in an indexed cell.
	padded := make(map[string]struct{}, len(out)*3)
	for _, s := range out {
		var c h3.Cell
		if err := c.UnmarshalText([]byte(s)); err != nil {
			continue
		}
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			padded[s] = struct{}{}
			continue
		}
		for _, n := range ring {
			padded[n.String()] = struct{}{}
		}
	}
	out = out[:0]
	for s := range padded {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// CellForPoint returns the cell containing the point at the mapper resolution.
func (m *Mapper) CellForPoint(lat, lon float64) (string, error) {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, m.res)
	if err != nil {
		return "", fmt.Errorf("h3 point to cell: %w", err)
	}
	return cell.String(), nil
}
