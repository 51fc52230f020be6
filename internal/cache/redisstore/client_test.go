package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestSetGetMGetDel_HappyPath(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	b, err := rc.Get(ctx, "k1")
	if err != nil || string(b) != "v1" {
		t.Fatalf("Get k1=%q err=%v", b, err)
	}
	if b, err := rc.Get(ctx, "absent"); err != nil || b != nil {
		t.Fatalf("Get absent=%q err=%v want nil,nil", b, err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected MGet result: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
}

func TestMSetWithTTL_AndScan(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	kv := map[string][]byte{
		"site:1": []byte("a"),
		"site:2": []byte("b"),
		"meta:x": []byte("c"),
	}
	if err := rc.MSetWithTTL(ctx, kv, time.Minute); err != nil {
		t.Fatalf("MSetWithTTL: %v", err)
	}

	keys, err := rc.Scan(ctx, "site:*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Scan site:*=%v want 2 keys", keys)
	}
}

func TestContextCancel_IsRespected(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
}
