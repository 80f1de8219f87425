package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned by a queue store whose backend was never configured.
var ErrStoreUnavailable = errors.New("queue store unavailable")

// NewQueueStore selects the offline queue backend from queue.store.
func NewQueueStore(q *conf.Queue, rdb *redis.Client, db *sql.DB, logger log.Logger) biz.QueueStore {
	helper := log.NewHelper(logger)

	key := biz.DefaultQueueKey
	store := "redis"
	if q != nil {
		if q.Key != "" {
			key = q.Key
		}
		if q.Store != "" {
			store = q.Store
		}
	}

	switch store {
	case "sqlite":
		helper.Infow("msg", "offline queue backed by SQLite", "key", key)
		return NewSQLiteQueueStore(db, key)
	case "memory":
		helper.Warnw("msg", "offline queue is memory only, queued operations are lost on restart")
		return NewMemoryQueueStore()
	default:
		helper.Infow("msg", "offline queue backed by Redis", "key", key)
		return NewRedisQueueStore(rdb, key)
	}
}

// RedisQueueStore keeps the serialized queue under a single Redis string key.
type RedisQueueStore struct {
	rdb *redis.Client
	key string
}

// NewRedisQueueStore creates a RedisQueueStore. A nil client makes every call
// fail so the queue stays in degraded mode.
func NewRedisQueueStore(rdb *redis.Client, key string) *RedisQueueStore {
	return &RedisQueueStore{rdb: rdb, key: key}
}

// Load returns the stored queue, or nil when the key does not exist.
func (s *RedisQueueStore) Load(ctx context.Context) ([]byte, error) {
	if s.rdb == nil {
		return nil, ErrStoreUnavailable
	}
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Save overwrites the stored queue. The key never expires.
func (s *RedisQueueStore) Save(ctx context.Context, data []byte) error {
	if s.rdb == nil {
		return ErrStoreUnavailable
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// NewSQLiteClient opens the SQLite database used when queue.store is sqlite.
// It returns nil for every other store.
func NewSQLiteClient(c *conf.Data, q *conf.Queue, logger log.Logger) (*sql.DB, func(), error) {
	helper := log.NewHelper(logger)

	if q == nil || q.Store != "sqlite" {
		return nil, func() {}, nil
	}
	if c == nil || c.SQLite == nil || c.SQLite.Path == "" {
		return nil, nil, errors.New("sqlite path is required when queue.store is sqlite")
	}

	db, err := sql.Open("sqlite3", c.SQLite.Path+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer; the queue already serializes saves
	db.SetMaxOpenConns(1)

	if err := initKVSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	helper.Infow("msg", "SQLite queue database opened", "path", c.SQLite.Path)

	cleanup := func() {
		helper.Info("closing SQLite database")
		if err := db.Close(); err != nil {
			helper.Errorf("failed to close SQLite database: %v", err)
		}
	}
	return db, cleanup, nil
}

func initKVSchema(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		return fmt.Errorf("failed to initialize kv_store schema: %w", err)
	}
	return nil
}

// SQLiteQueueStore keeps the serialized queue in one kv_store row.
type SQLiteQueueStore struct {
	db  *sql.DB
	key string
	now func() time.Time
}

// NewSQLiteQueueStore creates a SQLiteQueueStore over an initialized database.
func NewSQLiteQueueStore(db *sql.DB, key string) *SQLiteQueueStore {
	return &SQLiteQueueStore{db: db, key: key, now: time.Now}
}

// Load returns the stored queue, or nil when the row does not exist.
func (s *SQLiteQueueStore) Load(ctx context.Context) ([]byte, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load %s: %w", s.key, err)
	}
	return data, nil
}

// Save upserts the stored queue.
func (s *SQLiteQueueStore) Save(ctx context.Context, data []byte) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, data, s.now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite save %s: %w", s.key, err)
	}
	return nil
}

// MemoryQueueStore keeps the serialized queue in process memory.
type MemoryQueueStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryQueueStore creates an empty MemoryQueueStore.
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{}
}

// Load returns a copy of the stored queue.
func (s *MemoryQueueStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return append([]byte(nil), s.data...), nil
}

// Save replaces the stored queue.
func (s *MemoryQueueStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}
