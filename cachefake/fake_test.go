package cachefake

import (
	"context"
	"testing"
	"time"
)

func TestFakeCountsDriverCalls(t *testing.T) {
	f := New()
	ctx := context.Background()
	store := f.Store()

	if ok, err := store.Set(ctx, "board:1", map[string]any{"name": "General"}, time.Minute); err != nil || !ok {
		t.Fatalf("set failed: ok=%v err=%v", ok, err)
	}
	if _, ok := store.Get(ctx, "board:1"); !ok {
		t.Fatalf("expected hit")
	}
	store.Get(ctx, "board:1")
	store.Delete(ctx, "board:1")
	store.Clear(ctx, "")

	f.AssertCalled(t, OpSet, "board:1", 1)
	f.AssertCalled(t, OpGet, "board:1", 2)
	f.AssertCalled(t, OpDelete, "board:1", 1)
	f.AssertNotCalled(t, OpGet, "board:2")
	f.AssertTotal(t, OpClear, 1)
	f.AssertTotal(t, OpInvalidate, 1)

	f.Reset()
	f.AssertTotal(t, OpGet, 0)
}

func TestFakeNilValueCountsAsDelete(t *testing.T) {
	f := New()
	ctx := context.Background()

	if _, err := f.Store().Set(ctx, "topic:9", nil, 0); err != nil {
		t.Fatalf("set nil failed: %v", err)
	}
	f.AssertCalled(t, OpDelete, "topic:9", 1)
	f.AssertTotal(t, OpSet, 0)
}
