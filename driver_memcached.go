package forumcache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goforj/forumcache/cachecore"
)

const (
	memcachedMaxKeyLength     = 250
	memcachedRelativeTTLLimit = 30 * 24 * time.Hour
)

var dialMemcached = func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 3 * time.Second}
	return d.DialContext(ctx, network, addr)
}

// MemcachedDriver speaks the memcached text protocol over a small
// per-server connection pool.
type MemcachedDriver struct {
	addrs []string
	base  cachecore.BaseConfig
	pools map[string]chan *memcachedConn
	rr    uint32
}

type memcachedConn struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
}

// NewMemcachedDriver creates a driver for cfg.MemcachedAddresses.
// @group Drivers
func NewMemcachedDriver(cfg Config) *MemcachedDriver {
	cfg = cfg.withDefaults()
	pools := make(map[string]chan *memcachedConn, len(cfg.MemcachedAddresses))
	for _, addr := range cfg.MemcachedAddresses {
		pools[addr] = make(chan *memcachedConn, 16)
	}
	return &MemcachedDriver{addrs: cfg.MemcachedAddresses, base: cfg.base(), pools: pools}
}

func (d *MemcachedDriver) ID() cachecore.DriverID { return cachecore.DriverMemcached }

func (d *MemcachedDriver) IsSupported(ctx context.Context) bool {
	mc, err := d.acquire(ctx)
	if err != nil {
		return false
	}
	bad := true
	defer func() { d.release(mc, bad) }()
	if _, err := io.WriteString(mc.conn, "version\r\n"); err != nil {
		return false
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "VERSION") {
		return false
	}
	bad = false
	return true
}

func (d *MemcachedDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	mc, err := d.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	bad := false
	defer func() { d.release(mc, bad) }()

	if _, err := fmt.Fprintf(mc.conn, "get %s\r\n", d.cacheKey(key)); err != nil {
		bad = true
		return nil, false, err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return nil, false, err
	}
	if line == "END\r\n" {
		return nil, false, nil
	}

	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 4 || fields[0] != "VALUE" {
		bad = true
		return nil, false, fmt.Errorf("memcached: unexpected response %q", strings.TrimSpace(line))
	}
	size, err := strconv.Atoi(fields[3])
	if err != nil {
		bad = true
		return nil, false, fmt.Errorf("memcached: parse length: %w", err)
	}
	// value, trailing \r\n, then END\r\n
	value := make([]byte, size+2)
	if _, err := io.ReadFull(mc.reader, value); err != nil {
		bad = true
		return nil, false, err
	}
	if end, err := mc.reader.ReadString('\n'); err != nil || end != "END\r\n" {
		bad = true
		if err == nil {
			err = fmt.Errorf("memcached: unexpected trailer %q", strings.TrimSpace(end))
		}
		return nil, false, err
	}
	return value[:size], true, nil
}

func (d *MemcachedDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		return d.Delete(ctx, key)
	}
	if ttl <= 0 {
		ttl = d.base.DefaultTTL
	}
	mc, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	bad := false
	defer func() { d.release(mc, bad) }()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "set %s 0 %d %d\r\n", d.cacheKey(key), d.exptime(ttl), len(value))
	buf.Write(value)
	buf.WriteString("\r\n")
	if _, err := mc.conn.Write(buf.Bytes()); err != nil {
		bad = true
		return err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return err
	}
	if !strings.HasPrefix(line, "STORED") {
		bad = true
		return fmt.Errorf("memcached set failed: %s", strings.TrimSpace(line))
	}
	return nil
}

func (d *MemcachedDriver) Delete(ctx context.Context, key string) error {
	mc, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	bad := false
	defer func() { d.release(mc, bad) }()
	if _, err := fmt.Fprintf(mc.conn, "delete %s\r\n", d.cacheKey(key)); err != nil {
		bad = true
		return err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return err
	}
	if !strings.HasPrefix(line, "DELETED") && !strings.HasPrefix(line, "NOT_FOUND") {
		bad = true
		return fmt.Errorf("memcached delete failed: %s", strings.TrimSpace(line))
	}
	return nil
}

// Clear flushes every configured server. Memcached cannot enumerate keys,
// so a scoped clear removes everything too.
func (d *MemcachedDriver) Clear(ctx context.Context, _ string) error {
	var errs []error
	for _, addr := range d.addrs {
		if err := d.flush(ctx, addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}

func (d *MemcachedDriver) flush(ctx context.Context, addr string) error {
	mc, err := d.dial(ctx, addr)
	if err != nil {
		return err
	}
	bad := false
	defer func() { d.release(mc, bad) }()
	if _, err := io.WriteString(mc.conn, "flush_all\r\n"); err != nil {
		bad = true
		return err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		bad = true
		return fmt.Errorf("memcached flush failed: %s", strings.TrimSpace(line))
	}
	return nil
}

func (d *MemcachedDriver) InvalidateCache(context.Context) error {
	return touchBaseSentinel(d.base)
}

// exptime converts ttl to the protocol's expiry field, which switches to an
// absolute unix time beyond thirty days.
func (d *MemcachedDriver) exptime(ttl time.Duration) int64 {
	if ttl > memcachedRelativeTTLLimit {
		return d.base.Now().Add(ttl).Unix()
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (d *MemcachedDriver) cacheKey(key string) string {
	full := namespacedKey(d.base.Namespace, key)
	if len(full) <= memcachedMaxKeyLength && !strings.ContainsFunc(full, func(r rune) bool { return r <= ' ' || r == 0x7f }) {
		return full
	}
	sum := sha256.Sum256([]byte(key))
	return namespacedKey(d.base.Namespace, "~"+hex.EncodeToString(sum[:]))
}

func (d *MemcachedDriver) acquire(ctx context.Context) (*memcachedConn, error) {
	if len(d.addrs) == 0 {
		return nil, errors.New("memcached: no addresses configured")
	}
	var errs bytes.Buffer
	start := int(atomic.AddUint32(&d.rr, 1)-1) % len(d.addrs)
	for i := 0; i < len(d.addrs); i++ {
		mc, err := d.dial(ctx, d.addrs[(start+i)%len(d.addrs)])
		if err == nil {
			return mc, nil
		}
		fmt.Fprintf(&errs, "%v; ", err)
	}
	return nil, fmt.Errorf("memcached dial failed: %s", errs.String())
}

func (d *MemcachedDriver) dial(ctx context.Context, addr string) (*memcachedConn, error) {
	if pool, ok := d.pools[addr]; ok {
		select {
		case mc := <-pool:
			if mc != nil {
				return mc, nil
			}
		default:
		}
	}
	conn, err := dialMemcached(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", addr, err)
	}
	return &memcachedConn{addr: addr, conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (d *MemcachedDriver) release(mc *memcachedConn, bad bool) {
	if mc == nil || mc.conn == nil {
		return
	}
	if bad {
		_ = mc.conn.Close()
		return
	}
	pool, ok := d.pools[mc.addr]
	if !ok {
		_ = mc.conn.Close()
		return
	}
	select {
	case pool <- mc:
	default:
		_ = mc.conn.Close()
	}
}
