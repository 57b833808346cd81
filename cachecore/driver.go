package cachecore

import (
	"context"
	"strings"
	"time"
)

// DriverID identifies a cache backend.
type DriverID string

const (
	DriverNull      DriverID = "null"
	DriverFile      DriverID = "file"
	DriverMemory    DriverID = "memory"
	DriverRedis     DriverID = "redis"
	DriverMemcached DriverID = "memcached"
	DriverSQL       DriverID = "sql"
	DriverNATS      DriverID = "nats"
	DriverDynamo    DriverID = "dynamodb"
)

var legacyDriverIDs = map[string]DriverID{
	"filesystem": DriverFile,
	"files":      DriverFile,
	"apcu":       DriverMemory,
	"apc":        DriverMemory,
	"memcache":   DriverMemcached,
	"dynamo":     DriverDynamo,
	"database":   DriverSQL,
}

// NormalizeDriverID maps accelerator names found in older installation
// settings onto the identifiers used by the driver registry.
func NormalizeDriverID(name string) DriverID {
	id := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := legacyDriverIDs[id]; ok {
		return mapped
	}
	return DriverID(id)
}

// Driver is a single backing store. Keys reach a driver already prefixed and
// values are JSON documents. Operations are best-effort: callers treat any
// error as a miss or a failed write.
type Driver interface {
	ID() DriverID
	// IsSupported reports whether the backend's prerequisites are present.
	IsSupported(ctx context.Context) bool
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value until ttl elapses. A nil value removes the key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes entries whose key starts with match. An empty match
	// removes everything the driver owns.
	Clear(ctx context.Context, match string) error
	// InvalidateCache bumps the installation sentinel so prefixed keys go stale.
	InvalidateCache(ctx context.Context) error
}
