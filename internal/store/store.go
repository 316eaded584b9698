package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dbFile = ".till/till.db"

	// DefaultMaxBytes is the default capacity limit for stored values.
	DefaultMaxBytes = 64 << 20
)

// Region is a named partition of the store. Regions are independent
// namespaces; no cross-region transactions are offered or needed.
type Region string

const (
	RegionPending  Region = "pending"
	RegionProducts Region = "products"
	RegionStock    Region = "stock"
	RegionBackups  Region = "backups"
	RegionMeta     Region = "meta"
	RegionHistory  Region = "history"
)

var (
	// ErrNotFound is returned when a key does not exist in a region.
	ErrNotFound = errors.New("key not found")
	// ErrCapacity is returned when a put would exceed the capacity limit.
	// The offending put writes nothing; existing data is untouched.
	ErrCapacity = errors.New("store capacity exceeded")
)

// Store wraps the sqlite database backing all durable state
type Store struct {
	conn     *sql.DB
	baseDir  string
	maxBytes int64
}

// Open opens an existing store and runs any pending migrations.
func Open(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("store not found: run 'till init' first")
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn, baseDir: baseDir, maxBytes: DefaultMaxBytes}
	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Initialize creates the store, its schema, and runs migrations.
func Initialize(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{conn: conn, baseDir: baseDir, maxBytes: DefaultMaxBytes}
	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// WAL allows concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Busy timeout as fallback protection (matches lock timeout)
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	return conn, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.conn.Close()
}

// BaseDir returns the base directory for the store
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Conn returns the underlying *sql.DB connection (used by tests and
// corruption drills that need raw access).
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// SetMaxBytes overrides the capacity limit. Zero or negative disables it.
func (s *Store) SetMaxBytes(n int64) {
	s.maxBytes = n
}

// withWriteLock executes fn while holding an exclusive cross-process lock.
func (s *Store) withWriteLock(fn func() error) error {
	locker := newWriteLocker(s.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// Get returns the value stored under key in region.
func (s *Store) Get(region Region, key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRow(
		`SELECT value FROM kv WHERE region = ? AND key = ?`, region, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", region, key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores value under key in region. The write is atomic with respect
// to the key: readers observe either the old value or the new one.
// Returns ErrCapacity without writing if the put would exceed the limit.
func (s *Store) Put(region Region, key string, value []byte) error {
	return s.withWriteLock(func() error {
		if s.maxBytes > 0 {
			used, err := s.usedBytesExcluding(region, key)
			if err != nil {
				return fmt.Errorf("check capacity: %w", err)
			}
			if used+int64(len(key))+int64(len(value)) > s.maxBytes {
				return fmt.Errorf("put %s/%s (%d bytes): %w", region, key, len(value), ErrCapacity)
			}
		}

		_, err := s.conn.Exec(`
			INSERT INTO kv (region, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(region, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, region, key, value, time.Now().UTC())
		return err
	})
}

// Delete removes key from region. Deleting a missing key is not an error.
func (s *Store) Delete(region Region, key string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM kv WHERE region = ? AND key = ?`, region, key)
		return err
	})
}

// ListKeys returns all keys in region in lexicographic order.
func (s *Store) ListKeys(region Region) ([]string, error) {
	rows, err := s.conn.Query(`SELECT key FROM kv WHERE region = ? ORDER BY key`, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ListValues returns all values in region ordered by key.
func (s *Store) ListValues(region Region) ([][]byte, error) {
	rows, err := s.conn.Query(`SELECT value FROM kv WHERE region = ? ORDER BY key`, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Count returns the number of keys in region.
func (s *Store) Count(region Region) (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM kv WHERE region = ?`, region).Scan(&n)
	return n, err
}

// DeleteOlderThan removes entries in region last updated before cutoff.
// Returns the number of rows removed.
func (s *Store) DeleteOlderThan(region Region, cutoff time.Time) (int64, error) {
	var affected int64
	err := s.withWriteLock(func() error {
		res, err := s.conn.Exec(
			`DELETE FROM kv WHERE region = ? AND updated_at < ?`, region, cutoff.UTC())
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// Export returns the full contents of every region except those listed in
// skip. Used by backup snapshots.
func (s *Store) Export(skip ...Region) (map[Region]map[string][]byte, error) {
	skipped := make(map[Region]bool, len(skip))
	for _, r := range skip {
		skipped[r] = true
	}

	rows, err := s.conn.Query(`SELECT region, key, value FROM kv ORDER BY region, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Region]map[string][]byte)
	for rows.Next() {
		var region, key string
		var value []byte
		if err := rows.Scan(&region, &key, &value); err != nil {
			return nil, err
		}
		if skipped[Region(region)] {
			continue
		}
		if out[Region(region)] == nil {
			out[Region(region)] = make(map[string][]byte)
		}
		out[Region(region)][key] = value
	}
	return out, rows.Err()
}

// Import replaces the contents of every region present in data. Regions
// absent from data are left untouched. The replacement runs in a single
// transaction so a crash never leaves a region half-restored.
func (s *Store) Import(data map[Region]map[string][]byte) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		for region, entries := range data {
			if _, err := tx.Exec(`DELETE FROM kv WHERE region = ?`, region); err != nil {
				return fmt.Errorf("clear region %s: %w", region, err)
			}
			for key, value := range entries {
				if _, err := tx.Exec(
					`INSERT INTO kv (region, key, value, updated_at) VALUES (?, ?, ?, ?)`,
					region, key, value, time.Now().UTC(),
				); err != nil {
					return fmt.Errorf("restore %s/%s: %w", region, key, err)
				}
			}
		}
		return tx.Commit()
	})
}

// usedBytesExcluding sums stored key+value sizes, excluding the current
// value at (region, key) since a put replaces it.
func (s *Store) usedBytesExcluding(region Region, key string) (int64, error) {
	var used sql.NullInt64
	err := s.conn.QueryRow(`
		SELECT SUM(LENGTH(key) + LENGTH(value)) FROM kv
		WHERE NOT (region = ? AND key = ?)
	`, region, key).Scan(&used)
	if err != nil {
		return 0, err
	}
	return used.Int64, nil
}

// GetSchemaVersion returns the current schema version from the store.
func (s *Store) GetSchemaVersion() (int, error) {
	var version string
	err := s.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		// Table might not exist yet
		return 0, nil
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// runMigrations applies any pending forward-only migrations.
func (s *Store) runMigrations() error {
	current, _ := s.GetSchemaVersion()
	if current >= SchemaVersion {
		return nil
	}

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
		if err != nil {
			return fmt.Errorf("create schema_info: %w", err)
		}

		current, err := s.GetSchemaVersion()
		if err != nil {
			return fmt.Errorf("get schema version: %w", err)
		}

		for _, m := range Migrations {
			if m.Version <= current {
				continue
			}
			if _, err := s.conn.Exec(m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if err := s.setSchemaVersion(m.Version); err != nil {
				return fmt.Errorf("set version %d: %w", m.Version, err)
			}
		}

		if current == 0 {
			return s.setSchemaVersion(SchemaVersion)
		}
		return nil
	})
}
