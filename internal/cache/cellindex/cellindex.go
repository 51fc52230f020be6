// Package cellindex maintains the per-H3-cell entity id lists that give the
// site store its coordinate secondary lookup.
package cellindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roamplan/sitecache/internal/cache/keys"
	"github.com/roamplan/sitecache/internal/cache/redisstore"
)

type CellIndex interface {
	GetIDs(ctx context.Context, cell string) ([]int64, error)
	MergeIDs(ctx context.Context, cell string, ids []int64, ttl time.Duration) error
	Del(ctx context.Context, cells ...string) error
}

type redisCellIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) CellIndex {
	return &redisCellIndex{cli: cli}
}

func (ci *redisCellIndex) GetIDs(ctx context.Context, cell string) ([]int64, error) {
	key := keys.CellKey(cell)

	raw, err := ci.cli.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cellindex get: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("cellindex decode ids: %w", err)
	}
	return ids, nil
}

// MergeIDs unions ids into the cell's list. Entity rows expire on their own;
// ids left dangling after eviction are skipped by readers.
func (ci *redisCellIndex) MergeIDs(ctx context.Context, cell string, ids []int64, ttl time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	existing, err := ci.GetIDs(ctx, cell)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(existing)+len(ids))
	merged := make([]int64, 0, len(existing)+len(ids))
	for _, id := range existing {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("cellindex encode ids: %w", err)
	}
	if err := ci.cli.Set(ctx, keys.CellKey(cell), payload, ttl); err != nil {
		return fmt.Errorf("cellindex set %q: %w", cell, err)
	}
	return nil
}

func (ci *redisCellIndex) Del(ctx context.Context, cells ...string) error {
	if len(cells) == 0 {
		return nil
	}
	ks := make([]string, 0, len(cells))
	for _, c := range cells {
		ks = append(ks, keys.CellKey(c))
	}
	if err := ci.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("cellindex del %d cells: %w", len(cells), err)
	}
	return nil
}
