package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type named struct{ name string }

func (n named) EventName() string { return n.name }

func TestDispatcher_PriorityOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.SubscribeFunc("x", func(context.Context, Event) { order = append(order, "low") }, -10)
	d.SubscribeFunc("x", func(context.Context, Event) { order = append(order, "first") }, 0)
	d.SubscribeFunc("x", func(context.Context, Event) { order = append(order, "high") }, 10)
	d.SubscribeFunc("x", func(context.Context, Event) { order = append(order, "second") }, 0)
	d.SubscribeFunc("y", func(context.Context, Event) { order = append(order, "other") }, 100)

	d.Dispatch(context.Background(), named{"x"})

	assert.Equal(t, []string{"high", "first", "second", "low"}, order)
}

func TestDispatcher_StopsPropagation(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.SubscribeFunc(EventCacheLookup, func(_ context.Context, e Event) {
		calls++
		e.(*CacheLookup).SetValue("from-listener")
	}, 10)
	d.SubscribeFunc(EventCacheLookup, func(context.Context, Event) {
		calls++
	}, 0)

	lookup := NewCacheLookup("k", "p-k")
	d.Dispatch(context.Background(), lookup)

	assert.Equal(t, 1, calls)
	v, ok := lookup.Value()
	require.True(t, ok)
	assert.Equal(t, "from-listener", v)
	assert.True(t, lookup.IsPropagationStopped())
}

func TestDispatcher_NilSafe(t *testing.T) {
	var d *Dispatcher
	e := named{"x"}
	assert.Equal(t, e, d.Dispatch(context.Background(), e))
	assert.False(t, d.HasListeners("x"))
}

func TestDispatcher_RecoversListenerPanic(t *testing.T) {
	d := NewDispatcher()
	ran := false
	d.SubscribeFunc("x", func(context.Context, Event) { panic("boom") }, 1)
	d.SubscribeFunc("x", func(context.Context, Event) { ran = true }, 0)

	require.NotPanics(t, func() { d.Dispatch(context.Background(), named{"x"}) })
	assert.True(t, ran)
}

func TestCacheLookup_Callbacks(t *testing.T) {
	lookup := NewCacheLookup("k", "p-k")
	lookup.AddCallback(nil)
	var got []any
	lookup.AddCallback(func(_ context.Context, v any) { got = append(got, v) })
	lookup.AddCallback(func(_ context.Context, v any) { got = append(got, v) })

	for _, cb := range lookup.Callbacks() {
		cb(context.Background(), 7)
	}

	assert.Equal(t, []any{7, 7}, got)
	assert.False(t, lookup.IsPropagationStopped())
}

func TestQuickGetEventNames(t *testing.T) {
	assert.Equal(t, EventQuickGetBefore, NewQuickGetBefore("k", 1).EventName())
	after := NewQuickGetAfter("k", 2, "data")
	assert.Equal(t, EventQuickGetAfter, after.EventName())
	assert.Equal(t, "data", after.Data)
}
