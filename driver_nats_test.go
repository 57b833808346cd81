package forumcache

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goforj/forumcache/cachetest"
)

type stubNATSKeyValue struct {
	mu      sync.Mutex
	rev     uint64
	entries map[string]*stubNATSEntry
	purged  []string

	getErr  error
	listErr error
}

func newStubNATSKeyValue() *stubNATSKeyValue {
	return &stubNATSKeyValue{entries: make(map[string]*stubNATSEntry)}
}

func (s *stubNATSKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	if entry.op == nats.KeyValueDelete {
		return nil, nats.ErrKeyDeleted
	}
	cp := *entry
	cp.value = cloneBytes(entry.value)
	return &cp, nil
}

func (s *stubNATSKeyValue) Put(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	s.entries[key] = &stubNATSEntry{key: key, value: cloneBytes(value), revision: s.rev, op: nats.KeyValuePut}
	return s.rev, nil
}

func (s *stubNATSKeyValue) Delete(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	s.entries[key] = &stubNATSEntry{key: key, revision: s.rev, op: nats.KeyValueDelete}
	return nil
}

func (s *stubNATSKeyValue) Purge(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	s.purged = append(s.purged, key)
	return nil
}

func (s *stubNATSKeyValue) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.entries) == 0 {
		return nil, nats.ErrNoKeysFound
	}
	keys := make(chan string, len(s.entries))
	for key := range s.entries {
		keys <- key
	}
	close(keys)
	errs := make(chan error)
	close(errs)
	return &stubNATSKeyLister{keys: keys, errs: errs}, nil
}

type stubNATSEntry struct {
	key      string
	value    []byte
	revision uint64
	op       nats.KeyValueOp
}

func (e *stubNATSEntry) Bucket() string             { return "forum_cache" }
func (e *stubNATSEntry) Key() string                { return e.key }
func (e *stubNATSEntry) Value() []byte              { return e.value }
func (e *stubNATSEntry) Revision() uint64           { return e.revision }
func (e *stubNATSEntry) Created() time.Time         { return time.Time{} }
func (e *stubNATSEntry) Delta() uint64              { return 0 }
func (e *stubNATSEntry) Operation() nats.KeyValueOp { return e.op }

type stubNATSKeyLister struct {
	keys chan string
	errs chan error
}

func (l *stubNATSKeyLister) Keys() <-chan string { return l.keys }
func (l *stubNATSKeyLister) Error() <-chan error { return l.errs }
func (l *stubNATSKeyLister) Stop() error         { return nil }

func newStubNATSDriver(t *testing.T, namespace string) (*NATSDriver, *stubNATSKeyValue, *fakeClock) {
	t.Helper()
	cfg, clock := testConfigWithClock(t)
	kv := newStubNATSKeyValue()
	cfg.NATSKeyValue = kv
	cfg.Namespace = namespace
	d, err := NewNATSDriver(cfg)
	if err != nil {
		t.Fatalf("new nats driver: %v", err)
	}
	return d, kv, clock
}

func TestNATSDriverContract(t *testing.T) {
	d, _, clock := newStubNATSDriver(t, "forum")
	cachetest.RunDriverContract(t, d, cachetest.Options{Advance: clock.Advance})
}

func TestNATSDriverKeysFitBucketAlphabet(t *testing.T) {
	ctx := context.Background()
	d, kv, _ := newStubNATSDriver(t, "forum")
	if err := d.Set(ctx, "topic:42/reply 7", []byte(`1`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	for key := range kv.entries {
		want := "ns." + base64.RawURLEncoding.EncodeToString([]byte("forum")) + ".k." +
			base64.RawURLEncoding.EncodeToString([]byte("topic:42/reply 7"))
		if key != want {
			t.Fatalf("unexpected bucket key %q, want %q", key, want)
		}
	}
}

func TestNATSDriverClearKeepsOtherNamespaces(t *testing.T) {
	ctx := context.Background()
	cfg, _ := testConfigWithClock(t)
	kv := newStubNATSKeyValue()
	cfg.NATSKeyValue = kv

	cfg.Namespace = "forum"
	ours, _ := NewNATSDriver(cfg)
	cfg.Namespace = "wiki"
	theirs, _ := NewNATSDriver(cfg)

	_ = ours.Set(ctx, "k", []byte(`1`), time.Minute)
	_ = theirs.Set(ctx, "k", []byte(`2`), time.Minute)
	if err := ours.Clear(ctx, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := ours.Get(ctx, "k"); ok {
		t.Fatalf("own key survived clear")
	}
	if body, ok, _ := theirs.Get(ctx, "k"); !ok || string(body) != "2" {
		t.Fatalf("clear crossed namespaces: %q ok=%v", body, ok)
	}
}

func TestNATSDriverClearEmptyBucket(t *testing.T) {
	d, _, _ := newStubNATSDriver(t, "forum")
	if err := d.Clear(context.Background(), ""); err != nil {
		t.Fatalf("clear of empty bucket: %v", err)
	}
}

func TestNATSDriverPurgesExpiredAndCorruptEntries(t *testing.T) {
	ctx := context.Background()
	d, kv, clock := newStubNATSDriver(t, "forum")

	_ = d.Set(ctx, "old", []byte(`1`), time.Second)
	clock.Advance(2 * time.Second)
	if _, ok, err := d.Get(ctx, "old"); ok || err != nil {
		t.Fatalf("expected expiry, ok=%v err=%v", ok, err)
	}

	_, _ = kv.Put(d.cacheKey("bad"), []byte("not an envelope"))
	if _, ok, err := d.Get(ctx, "bad"); ok || err == nil {
		t.Fatalf("expected decode error, ok=%v err=%v", ok, err)
	}
	if len(kv.purged) != 2 {
		t.Fatalf("expected two purges, got %v", kv.purged)
	}
}

func TestNATSDriverSupport(t *testing.T) {
	ctx := context.Background()
	d, kv, _ := newStubNATSDriver(t, "forum")
	if !d.IsSupported(ctx) {
		t.Fatalf("a probe miss must count as supported")
	}
	kv.getErr = errors.New("no responders")
	if d.IsSupported(ctx) {
		t.Fatalf("expected unsupported when the bucket is unreachable")
	}

	cfg := testConfig(t)
	if _, err := NewNATSDriver(cfg); err == nil {
		t.Fatalf("expected error without url or handle")
	}
}
