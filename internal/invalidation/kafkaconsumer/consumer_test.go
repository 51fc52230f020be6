package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/invalidation"
)

type fakeStore struct {
	mu          sync.Mutex
	deleted     [][]int64
	invalidated []model.Bounds
	failNext    bool
}

func (f *fakeStore) DeleteSites(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("boom")
	}
	f.deleted = append(f.deleted, ids)
	return nil
}

func (f *fakeStore) InvalidateBounds(_ context.Context, b model.Bounds) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, b)
	return nil
}

func newConsumer(t *testing.T, store Invalidator) *Consumer {
	t.Helper()
	c, err := New(Config{Topic: "site-invalidation"}, nil, store)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func message(t *testing.T, ev invalidation.Event) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "site-invalidation", Value: raw}
}

func ts() time.Time { return time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC) }

func TestProcessOne_DeletesByID(t *testing.T) {
	store := &fakeStore{}
	c := newConsumer(t, store)

	ev := invalidation.Event{Version: 1, Op: "delete", TS: ts(), SiteIDs: []int64{7, 8}}
	if err := c.ProcessOne(context.Background(), message(t, ev)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(store.deleted) != 1 || len(store.deleted[0]) != 2 {
		t.Fatalf("expected one delete of two ids, got %v", store.deleted)
	}
}

func TestProcessOne_InvalidatesBounds(t *testing.T) {
	store := &fakeStore{}
	c := newConsumer(t, store)

	b := model.Bounds{North: 58, South: 57, East: 12, West: 11}
	ev := invalidation.Event{Version: 1, Op: "refresh", TS: ts(), Bounds: &b}
	if err := c.ProcessOne(context.Background(), message(t, ev)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(store.invalidated) != 1 || store.invalidated[0] != b {
		t.Fatalf("expected bounds invalidation, got %v", store.invalidated)
	}
}

func TestProcessOne_RedeliveryIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	c := newConsumer(t, store)

	ev := invalidation.Event{Version: 1, Op: "delete", TS: ts(), SiteIDs: []int64{7}}
	for i := 0; i < 3; i++ {
		if err := c.ProcessOne(context.Background(), message(t, ev)); err != nil {
			t.Fatalf("unexpected: %v", err)
		}
	}
	if len(store.deleted) != 1 {
		t.Fatalf("redelivery must apply once, got %d applications", len(store.deleted))
	}
}

func TestProcessOne_MalformedMessageIsDropped(t *testing.T) {
	store := &fakeStore{}
	c := newConsumer(t, store)

	msg := &sarama.ConsumerMessage{Topic: "site-invalidation", Value: []byte("{not json")}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("malformed message must not wedge the partition: %v", err)
	}
	if len(store.deleted) != 0 || len(store.invalidated) != 0 {
		t.Fatalf("malformed message must not reach the store")
	}
}

func TestProcessOne_InvalidEventIsDropped(t *testing.T) {
	store := &fakeStore{}
	c := newConsumer(t, store)

	ev := invalidation.Event{Version: 1, Op: "upsert", TS: ts(), SiteIDs: []int64{1}}
	if err := c.ProcessOne(context.Background(), message(t, ev)); err != nil {
		t.Fatalf("invalid event must not wedge the partition: %v", err)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("invalid event must not reach the store")
	}
}

func TestProcessOne_StoreFailureIsRetryable(t *testing.T) {
	store := &fakeStore{failNext: true}
	c := newConsumer(t, store)

	ev := invalidation.Event{Version: 1, Op: "delete", TS: ts(), SiteIDs: []int64{7}}
	if err := c.ProcessOne(context.Background(), message(t, ev)); err == nil {
		t.Fatalf("store failure must surface so the message is redelivered")
	}
	// the failed attempt must not be remembered as applied
	if err := c.ProcessOne(context.Background(), message(t, ev)); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected exactly one successful application, got %d", len(store.deleted))
	}
}
