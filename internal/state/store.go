// Package state persists small pieces of engine state in SQLite: live
// checkpoints and the apply history. Values are JSON documents grouped in
// buckets; every write bumps a store-wide version and lands in a change log.
package state

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"grimm.is/netstate/internal/clock"
	"grimm.is/netstate/internal/errors"
)

// Common errors
var (
	ErrNotFound      = errors.New(errors.KindNotFound, "key not found")
	ErrBucketExists  = errors.New(errors.KindConflict, "bucket already exists")
	ErrBucketMissing = errors.New(errors.KindNotFound, "bucket does not exist")
	ErrStoreClosed   = errors.New(errors.KindInternal, "store is closed")
)

// ChangeType represents the type of state change.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one entry of the change log.
type Change struct {
	Bucket    string     `json:"bucket"`
	Key       string     `json:"key"`
	Type      ChangeType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Version   uint64     `json:"version"`
}

// Entry represents a single stored value with metadata.
type Entry struct {
	Value     []byte    `json:"value"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the storage interface used by the checkpoint and history code.
type Store interface {
	CreateBucket(name string) error

	Get(bucket, key string) ([]byte, error)
	GetWithMeta(bucket, key string) (*Entry, error)
	Set(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	List(bucket string) (map[string][]byte, error)
	ListKeys(bucket string) ([]string, error)

	GetJSON(bucket, key string, v interface{}) error
	SetJSON(bucket, key string, v interface{}) error

	CurrentVersion() uint64

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	version uint64
	closed  bool
	clock   clock.Clock
}

// Options configures the SQLite store.
type Options struct {
	Path    string // Database file path (":memory:" for in-memory)
	WALMode bool
	Clock   clock.Clock // defaults to clock.Real
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{Path: path, WALMode: true}
}

// NewSQLiteStore opens (or creates) the database at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to open state database")
	}
	// An in-memory database lives and dies with its connection.
	if opts.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "failed to connect to state database")
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real
	}
	s := &SQLiteStore{db: db, clock: clk}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "failed to initialize schema")
	}
	if err := s.loadVersion(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "failed to load version")
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			version INTEGER NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (bucket, key),
			FOREIGN KEY (bucket) REFERENCES buckets(name) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			change_type TEXT NOT NULL,
			version INTEGER NOT NULL,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_changes_version ON changes(version);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) loadVersion() error {
	var version sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM changes").Scan(&version); err != nil {
		return err
	}
	if version.Valid {
		s.version = uint64(version.Int64)
	}
	return nil
}

// CreateBucket creates a new bucket.
func (s *SQLiteStore) CreateBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	var one int
	err := s.db.QueryRow("SELECT 1 FROM buckets WHERE name = ?", name).Scan(&one)
	if err == nil {
		return ErrBucketExists
	}
	if err != sql.ErrNoRows {
		return err
	}
	_, err = s.db.Exec("INSERT INTO buckets (name, created_at) VALUES (?, ?)", name, s.clock.Now().UTC())
	return err
}

// Get retrieves a value by bucket and key.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	entry, err := s.GetWithMeta(bucket, key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// GetWithMeta retrieves a value with its metadata.
func (s *SQLiteStore) GetWithMeta(bucket, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var entry Entry
	err := s.db.QueryRow(`
		SELECT value, version, updated_at
		FROM entries
		WHERE bucket = ? AND key = ?
	`, bucket, key).Scan(&entry.Value, &entry.Version, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set stores a value.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow("SELECT 1 FROM buckets WHERE name = ?", bucket).Scan(&one)
	if err == sql.ErrNoRows {
		return errors.Wrapf(ErrBucketMissing, errors.KindNotFound, "bucket %s", bucket)
	}
	if err != nil {
		return err
	}

	err = tx.QueryRow("SELECT 1 FROM entries WHERE bucket = ? AND key = ?", bucket, key).Scan(&one)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	changeType := ChangeInsert
	if err == nil {
		changeType = ChangeUpdate
	}

	now := s.clock.Now().UTC()
	version := s.version + 1
	_, err = tx.Exec(`
		INSERT INTO entries (bucket, key, value, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, bucket, key, value, version, now)
	if err != nil {
		return err
	}

	if err := recordChange(tx, Change{
		Bucket: bucket, Key: key, Type: changeType, Timestamp: now, Version: version,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.version = version
	return nil
}

// Delete removes a key.
func (s *SQLiteStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM entries WHERE bucket = ? AND key = ?", bucket, key)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	version := s.version + 1
	if err := recordChange(tx, Change{
		Bucket: bucket, Key: key, Type: ChangeDelete, Timestamp: s.clock.Now().UTC(), Version: version,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.version = version
	return nil
}

// List returns all key-value pairs in a bucket.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query("SELECT key, value FROM entries WHERE bucket = ?", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

// ListKeys returns the keys of a bucket in order.
func (s *SQLiteStore) ListKeys(bucket string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query("SELECT key FROM entries WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *SQLiteStore) GetJSON(bucket, key string, v interface{}) error {
	data, err := s.Get(bucket, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON marshals and stores a JSON value.
func (s *SQLiteStore) SetJSON(bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(bucket, key, data)
}

func recordChange(tx *sql.Tx, change Change) error {
	_, err := tx.Exec(`
		INSERT INTO changes (bucket, key, change_type, version, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, change.Bucket, change.Key, change.Type, change.Version, change.Timestamp)
	return err
}

// CurrentVersion returns the current version number.
func (s *SQLiteStore) CurrentVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
