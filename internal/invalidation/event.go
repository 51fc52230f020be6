// Package invalidation defines the cache-invalidation event contract. Events
// carry either a list of upstream site ids or a bounding box; never both.
package invalidation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roamplan/sitecache/internal/core/model"
)

type Event struct {
	Version int           `json:"version"`
	Op      string        `json:"op"` // delete | refresh
	TS      time.Time     `json:"ts"`
	SiteIDs []int64       `json:"site_ids,omitempty"`
	Bounds  *model.Bounds `json:"bounds,omitempty"`
	Source  string        `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "delete", "refresh":
	default:
		return fmt.Errorf("op must be delete|refresh")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	hasIDs := len(e.SiteIDs) > 0
	hasBounds := e.Bounds != nil
	if hasIDs == hasBounds {
		return fmt.Errorf("exactly one of site_ids or bounds is required")
	}
	if hasBounds {
		b := *e.Bounds
		if !(b.West >= -180 && b.West <= 180 && b.East >= -180 && b.East <= 180) {
			return fmt.Errorf("bounds longitude out of range")
		}
		if !(b.South >= -90 && b.South <= 90 && b.North >= -90 && b.North <= 90) {
			return fmt.Errorf("bounds latitude out of range")
		}
		if !(b.East > b.West && b.North > b.South) {
			return fmt.Errorf("bounds must satisfy east>west and north>south")
		}
	}
	return nil
}

// Key identifies an event for redelivery deduplication. Two deliveries of the
// same logical event produce the same key.
func (e Event) Key() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s@%d", e.Op, e.TS.UnixNano())
	if e.Bounds != nil {
		sb.WriteString("|b=")
		sb.WriteString(e.Bounds.String())
	}
	if len(e.SiteIDs) > 0 {
		ids := append([]int64(nil), e.SiteIDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		sb.WriteString("|ids=")
		for i, id := range ids {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%d", id)
		}
	}
	return sb.String()
}
