package forumcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/goforj/forumcache/cachecore"
)

var (
	sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	sqlLikeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
)

// SQLDriver stores entries in a relational table. It supports sqlite
// (modernc), mysql and postgres (pgx) through database/sql.
type SQLDriver struct {
	db         *sql.DB
	table      string
	driverName string
	base       cachecore.BaseConfig
}

// NewSQLDriver opens cfg.SQLDSN with cfg.SQLDriverName and ensures the cache
// table exists.
// @group Drivers
//
// Example: sqlite driver
//
//	cfg := forumcache.DefaultConfig()
//	cfg.SQLDriverName = "sqlite"
//	cfg.SQLDSN = "file:/var/lib/forum/cache.db"
//	d, err := forumcache.NewSQLDriver(ctx, cfg)
func NewSQLDriver(ctx context.Context, cfg Config) (*SQLDriver, error) {
	cfg = cfg.withDefaults()
	if cfg.SQLDriverName == "" || cfg.SQLDSN == "" {
		return nil, errors.New("sql driver requires driver name and dsn")
	}
	if err := validateSQLTableName(cfg.SQLTable); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.SQLDriverName, cfg.SQLDSN)
	if err != nil {
		return nil, err
	}
	if cfg.SQLDriverName == "sqlite" {
		// one connection keeps in-memory databases coherent
		db.SetMaxOpenConns(1)
	}
	d := &SQLDriver{
		db:         db,
		table:      cfg.SQLTable,
		driverName: cfg.SQLDriverName,
		base:       cfg.base(),
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := d.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLDriver) ID() cachecore.DriverID { return cachecore.DriverSQL }

// Close releases the database handle.
func (d *SQLDriver) Close() error { return d.db.Close() }

func (d *SQLDriver) IsSupported(ctx context.Context) bool {
	return d.db.PingContext(ctx) == nil
}

func (d *SQLDriver) ensureSchema(ctx context.Context) error {
	var stmt string
	switch d.driverName {
	case "postgres", "pgx":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BYTEA NOT NULL,
			ea BIGINT NOT NULL
		);`, d.table)
	case "mysql":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k VARBINARY(255) PRIMARY KEY,
			v LONGBLOB NOT NULL,
			ea BIGINT NOT NULL
		) ENGINE=InnoDB;`, d.table)
	default: // sqlite
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL,
			ea INTEGER NOT NULL
		);`, d.table)
	}
	_, err := d.db.ExecContext(ctx, stmt)
	return err
}

func (d *SQLDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	var exp int64
	query := fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", d.table, d.ph(1))
	err := d.db.QueryRowContext(ctx, query, d.cacheKey(key)).Scan(&v, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if d.base.Now().UnixMilli() > exp {
		_ = d.Delete(ctx, key)
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (d *SQLDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		return d.Delete(ctx, key)
	}
	if ttl <= 0 {
		ttl = d.base.DefaultTTL
	}
	exp := d.base.Now().Add(ttl).UnixMilli()
	_, err := d.db.ExecContext(ctx, d.upsertSQL(), d.cacheKey(key), value, exp, value, exp)
	return err
}

func (d *SQLDriver) Delete(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k = %s", d.table, d.ph(1)), d.cacheKey(key))
	return err
}

func (d *SQLDriver) Clear(ctx context.Context, match string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE k LIKE %s ESCAPE '!'", d.table, d.ph(1))
	_, err := d.db.ExecContext(ctx, query, sqlLikeEscaper.Replace(d.cacheKey(match))+"%")
	return err
}

func (d *SQLDriver) InvalidateCache(context.Context) error {
	return touchBaseSentinel(d.base)
}

func (d *SQLDriver) cacheKey(key string) string {
	return namespacedKey(d.base.Namespace, key)
}

func (d *SQLDriver) upsertSQL() string {
	// Placeholders must be positional for postgres/pgx.
	p1, p2, p3, p4, p5 := d.ph(1), d.ph(2), d.ph(3), d.ph(4), d.ph(5)
	switch d.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT (k) DO UPDATE SET v = %s, ea = %s", d.table, p1, p2, p3, p4, p5)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ea = %s", d.table, p1, p2, p3, p4, p5)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT(k) DO UPDATE SET v = %s, ea = %s", d.table, p1, p2, p3, p4, p5)
	}
}

func (d *SQLDriver) ph(i int) string {
	if d.driverName == "postgres" || d.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
