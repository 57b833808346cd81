// Package events provides a small prioritized listener registry used to
// expose extension points ("mods") around cache and container operations.
package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Event is anything that can be dispatched. The name selects listeners.
type Event interface {
	EventName() string
}

// StoppableEvent lets a listener end dispatch early.
type StoppableEvent interface {
	Event
	IsPropagationStopped() bool
}

// Listener reacts to a dispatched event.
type Listener interface {
	Handle(ctx context.Context, e Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, e Event)

// Handle implements Listener.
func (f ListenerFunc) Handle(ctx context.Context, e Event) {
	if f == nil {
		return
	}
	f(ctx, e)
}

type subscription struct {
	listener Listener
	priority int
	seq      uint64
}

// Dispatcher delivers events to subscribed listeners. Listeners with a
// higher priority run first; ties run in subscription order.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	seq    uint64
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used to report listener panics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:   make(map[string][]subscription),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers listener for events named name.
func (d *Dispatcher) Subscribe(name string, listener Listener, priority int) {
	if listener == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	// copy so a Dispatch holding the previous slice is unaffected
	subs := make([]subscription, 0, len(d.subs[name])+1)
	subs = append(subs, d.subs[name]...)
	subs = append(subs, subscription{listener: listener, priority: priority, seq: d.seq})
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	d.subs[name] = subs
}

// SubscribeFunc is shorthand for Subscribe(name, ListenerFunc(fn), priority).
func (d *Dispatcher) SubscribeFunc(name string, fn func(ctx context.Context, e Event), priority int) {
	d.Subscribe(name, ListenerFunc(fn), priority)
}

// HasListeners reports whether anything listens for name.
func (d *Dispatcher) HasListeners(name string) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[name]) > 0
}

// Dispatch delivers e to its listeners and returns it. A nil dispatcher is a
// no-op so callers do not need to guard optional wiring.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) Event {
	if d == nil || e == nil {
		return e
	}
	d.mu.RLock()
	subs := d.subs[e.EventName()]
	d.mu.RUnlock()

	stoppable, _ := e.(StoppableEvent)
	for _, sub := range subs {
		if stoppable != nil && stoppable.IsPropagationStopped() {
			break
		}
		d.deliver(ctx, sub.listener, e)
	}
	return e
}

func (d *Dispatcher) deliver(ctx context.Context, l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "event listener panicked", "event", e.EventName(), "panic", r)
		}
	}()
	l.Handle(ctx, e)
}
