package forumcache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goforj/forumcache/cachecore"
)

const natsProbeKey = "probe"

// NATSKeyValue captures the subset of nats.KeyValue used by the driver.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
}

// NATSDriver stores entries in a JetStream key-value bucket. Per-entry
// expiry is carried in an envelope because bucket TTLs are bucket-wide.
type NATSDriver struct {
	kv   NATSKeyValue
	base cachecore.BaseConfig
}

type natsEnvelope struct {
	Value     json.RawMessage `json:"v"`
	ExpiresAt int64           `json:"ea"`
}

// NewNATSDriver binds to cfg.NATSKeyValue, or connects to cfg.NATSURL and
// opens (creating if needed) cfg.NATSBucket.
// @group Drivers
func NewNATSDriver(cfg Config) (*NATSDriver, error) {
	cfg = cfg.withDefaults()
	kv := cfg.NATSKeyValue
	if kv == nil {
		var err error
		kv, err = openNATSBucket(cfg.NATSURL, cfg.NATSBucket)
		if err != nil {
			return nil, err
		}
	}
	return &NATSDriver{kv: kv, base: cfg.base()}, nil
}

func openNATSBucket(url, bucket string) (nats.KeyValue, error) {
	if url == "" {
		return nil, errors.New("nats driver requires a url or key-value handle")
	}
	nc, err := nats.Connect(url, nats.Timeout(3*time.Second))
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		nc.Close()
		return nil, err
	}
	return kv, nil
}

func (d *NATSDriver) ID() cachecore.DriverID { return cachecore.DriverNATS }

func (d *NATSDriver) IsSupported(context.Context) bool {
	if d.kv == nil {
		return false
	}
	_, err := d.kv.Get(d.scopePrefix() + natsProbeKey)
	return err == nil || isNATSMiss(err)
}

func (d *NATSDriver) Get(_ context.Context, key string) ([]byte, bool, error) {
	if d.kv == nil {
		return nil, false, errClientUnavailable
	}
	cacheKey := d.cacheKey(key)
	entry, err := d.kv.Get(cacheKey)
	if isNATSMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return nil, false, nil
	}
	var envelope natsEnvelope
	if err := json.Unmarshal(entry.Value(), &envelope); err != nil {
		_ = d.kv.Purge(cacheKey)
		return nil, false, fmt.Errorf("decode nats cache envelope: %w", err)
	}
	if d.base.Now().UnixMilli() > envelope.ExpiresAt {
		_ = d.kv.Purge(cacheKey)
		return nil, false, nil
	}
	return cloneBytes(envelope.Value), true, nil
}

func (d *NATSDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		return d.Delete(ctx, key)
	}
	if d.kv == nil {
		return errClientUnavailable
	}
	if ttl <= 0 {
		ttl = d.base.DefaultTTL
	}
	body, err := json.Marshal(natsEnvelope{
		Value:     json.RawMessage(value),
		ExpiresAt: d.base.Now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal nats cache envelope: %w", err)
	}
	_, err = d.kv.Put(d.cacheKey(key), body)
	return err
}

func (d *NATSDriver) Delete(_ context.Context, key string) error {
	if d.kv == nil {
		return errClientUnavailable
	}
	err := d.kv.Delete(d.cacheKey(key))
	if isNATSMiss(err) {
		return nil
	}
	return err
}

func (d *NATSDriver) Clear(_ context.Context, match string) error {
	if d.kv == nil {
		return errClientUnavailable
	}
	lister, err := d.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	scope := d.scopePrefix()
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, scope) {
			continue
		}
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(key, scope))
		if err != nil || !strings.HasPrefix(string(decoded), match) {
			continue
		}
		if err := d.kv.Purge(key); err != nil && !isNATSMiss(err) {
			return err
		}
	}
	for err := range lister.Error() {
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *NATSDriver) InvalidateCache(context.Context) error {
	return touchBaseSentinel(d.base)
}

func (d *NATSDriver) cacheKey(key string) string {
	return d.scopePrefix() + base64.RawURLEncoding.EncodeToString([]byte(key))
}

// scopePrefix keeps this namespace's keys apart from other users of the
// bucket. Keys are base64 so arbitrary cache keys fit the NATS key alphabet.
func (d *NATSDriver) scopePrefix() string {
	ns := d.base.Namespace
	if ns == "" {
		ns = "_"
	}
	return "ns." + base64.RawURLEncoding.EncodeToString([]byte(ns)) + ".k."
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}
