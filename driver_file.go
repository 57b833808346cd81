package forumcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goforj/forumcache/cachecore"
)

const (
	fileEntryPrefix  = "data_"
	fileEntrySuffix  = ".cache"
	maxFileKeyLength = 160
	fileLockAttempts = 3
)

var (
	errShortWrite    = errors.New("cache: short write")
	errEntryReplaced = errors.New("cache: entry file replaced while waiting for its lock")
)

type fileEntry struct {
	Expiration *int64          `json:"expiration"`
	Value      json.RawMessage `json:"value"`
}

// FileDriver keeps one JSON file per key under a directory. It is the
// default driver and the fallback target of driver selection.
type FileDriver struct {
	dir         string
	base        cachecore.BaseConfig
	lockTimeout time.Duration
}

// NewFileDriver creates a file driver rooted at cfg.CacheDir.
// @group Drivers
//
// Example: file driver
//
//	cfg := forumcache.DefaultConfig()
//	cfg.CacheDir = "/var/cache/forum"
//	d := forumcache.NewFileDriver(cfg)
//	fmt.Println(d.ID()) // file
func NewFileDriver(cfg Config) *FileDriver {
	cfg = cfg.withDefaults()
	return &FileDriver{
		dir:         cfg.CacheDir,
		base:        cfg.base(),
		lockTimeout: cfg.LockTimeout,
	}
}

func (d *FileDriver) ID() cachecore.DriverID { return cachecore.DriverFile }

// Dir returns the cache directory.
func (d *FileDriver) Dir() string { return d.dir }

// IsSupported reports whether the cache directory exists (or can be
// created) and is writable.
func (d *FileDriver) IsSupported(context.Context) bool {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(d.dir, ".probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return true
}

func (d *FileDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	path := d.path(key)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	if err := lockFile(ctx, f, false, d.lockTimeout); err != nil {
		return nil, false, err
	}
	data, readErr := io.ReadAll(f)
	if readErr != nil {
		_ = unlockFile(f)
		return nil, false, readErr
	}
	if value, ok := d.decode(data); ok {
		_ = unlockFile(f)
		return value, true, nil
	}
	// partial writes and expired entries both read as misses
	_ = unlockFile(f)
	d.dropStale(ctx, f, path)
	return nil, false, nil
}

func (d *FileDriver) decode(data []byte) ([]byte, bool) {
	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil ||
		entry.Expiration == nil ||
		*entry.Expiration < d.base.Now().Unix() ||
		len(entry.Value) == 0 {
		return nil, false
	}
	return cloneBytes(entry.Value), true
}

// dropStale removes the entry behind f once an exclusive lock is held, unless
// a writer replaced or refreshed it after the shared lock was released.
func (d *FileDriver) dropStale(ctx context.Context, f *os.File, path string) {
	if err := lockFile(ctx, f, true, d.lockTimeout); err != nil {
		return
	}
	defer func() { _ = unlockFile(f) }()
	if !samePath(f, path) {
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}
	if _, ok := d.decode(data); ok {
		return
	}
	_ = os.Remove(path)
}

// samePath reports whether path still names the open file f.
func samePath(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func (d *FileDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		return d.Delete(ctx, key)
	}
	if ttl <= 0 {
		ttl = d.base.DefaultTTL
	}
	expiration := d.base.Now().Add(ttl).Unix()
	body, err := json.Marshal(fileEntry{Expiration: &expiration, Value: json.RawMessage(value)})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}

	path := d.path(key)
	f, err := d.openLocked(ctx, path)
	if err != nil {
		return err
	}
	werr := writeLocked(f, body)
	_ = unlockFile(f)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return werr
	}
	return nil
}

// openLocked opens path for writing under an exclusive lock. A file that
// was removed while the lock was pending is opened again.
func (d *FileDriver) openLocked(ctx context.Context, path string) (*os.File, error) {
	for range fileLockAttempts {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		if err := lockFile(ctx, f, true, d.lockTimeout); err != nil {
			_ = f.Close()
			return nil, err
		}
		if samePath(f, path) {
			return f, nil
		}
		_ = unlockFile(f)
		_ = f.Close()
	}
	return nil, errEntryReplaced
}

func writeLocked(f *os.File, body []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	n, err := f.Write(body)
	if err != nil {
		return err
	}
	if n != len(body) {
		return fmt.Errorf("%w: %d of %d bytes", errShortWrite, n, len(body))
	}
	return nil
}

func (d *FileDriver) Delete(_ context.Context, key string) error {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes entry files whose key starts with match.
func (d *FileDriver) Clear(_ context.Context, match string) error {
	if _, err := os.Stat(d.dir); err != nil {
		return err
	}
	name := encodeFileKey(match)
	if len(name) > maxFileKeyLength {
		name = name[:maxFileKeyLength]
	}
	paths, err := filepath.Glob(filepath.Join(d.dir, fileEntryPrefix+name+"*"+fileEntrySuffix))
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *FileDriver) InvalidateCache(context.Context) error {
	return touchBaseSentinel(d.base)
}

func (d *FileDriver) path(key string) string {
	name := encodeFileKey(key)
	if len(name) > maxFileKeyLength {
		sum := sha256.Sum256([]byte(key))
		name = name[:maxFileKeyLength] + "~" + hex.EncodeToString(sum[:16])
	}
	return filepath.Join(d.dir, fileEntryPrefix+name+fileEntrySuffix)
}

// encodeFileKey maps a key onto a file-name-safe string. The mapping is
// injective and works byte by byte, so key prefixes stay name prefixes.
func encodeFileKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "~%02X", c)
		}
	}
	return b.String()
}
