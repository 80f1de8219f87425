package data

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisQueueStore_LoadMissingKey(t *testing.T) {
	_, rdb := newMiniRedis(t)
	store := NewRedisQueueStore(rdb, "autorepai:offline_queue")

	data, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRedisQueueStore_SaveAndLoad(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisQueueStore(rdb, "autorepai:offline_queue")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []byte(`[{"id":"a"}]`)))

	stored, err := mr.Get("autorepai:offline_queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, stored)
	assert.Zero(t, mr.TTL("autorepai:offline_queue"))

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(data))
}

func TestRedisQueueStore_Unavailable(t *testing.T) {
	store := NewRedisQueueStore(nil, "q")

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, store.Save(context.Background(), []byte("[]")), ErrStoreUnavailable)
}

func TestRedisQueueStore_ServerDown(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisQueueStore(rdb, "q")
	mr.Close()

	_, err := store.Load(context.Background())
	assert.Error(t, err)
	assert.Error(t, store.Save(context.Background(), []byte("[]")))
}

// The queue degrades to memory while Redis is down and persists the merged
// queue once it answers again.
func TestRedisQueueStore_OfflineQueueRecovers(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	require.NoError(t, mr.Set("q", `[{"id":"stored","connector":"autovance","operation":"syncVehicles","status":"pending","maxRetries":3}]`))
	ctx := context.Background()

	mr.SetError("ERR injected failure")
	queue := biz.NewOfflineQueue(&conf.Queue{Key: "q", MaxRetries: 3}, NewRedisQueueStore(rdb, "q"), nil, log.DefaultLogger)

	id, err := queue.Enqueue(ctx, "autovance", "createLead", map[string]string{"firstName": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, 1, queue.GetPendingCount(ctx))

	mr.SetError("")
	ops := queue.GetAll(ctx)
	require.Len(t, ops, 2)
	assert.Equal(t, "stored", ops[0].ID)
	assert.Equal(t, id, ops[1].ID)

	_, err = queue.Enqueue(ctx, "autovance", "syncVehicles", nil)
	require.NoError(t, err)

	stored, err := mr.Get("q")
	require.NoError(t, err)
	assert.Contains(t, stored, id)
	assert.Contains(t, stored, `"stored"`)
}

func TestSQLiteQueueStore_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLiteQueueStore(db, "q")
	query := regexp.QuoteMeta(`SELECT value FROM kv_store WHERE key = ?`)

	mock.ExpectQuery(query).WithArgs("q").WillReturnError(sql.ErrNoRows)
	data, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)

	mock.ExpectQuery(query).WithArgs("q").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[]`)))
	data, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	mock.ExpectQuery(query).WithArgs("q").WillReturnError(errors.New("database is locked"))
	_, err = store.Load(context.Background())
	assert.ErrorContains(t, err, "database is locked")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteQueueStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLiteQueueStore(db, "q")
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)`)).
		WithArgs("q", []byte(`[{"id":"a"}]`), int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), []byte(`[{"id":"a"}]`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitKVSchema(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS kv_store`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, initKVSchema(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryQueueStore(t *testing.T) {
	store := NewMemoryQueueStore()
	ctx := context.Background()

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	in := []byte(`[1]`)
	require.NoError(t, store.Save(ctx, in))
	in[1] = '2'

	data, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[1]", string(data))
}

func TestNewQueueStore_Selects(t *testing.T) {
	logger := log.DefaultLogger

	assert.IsType(t, &RedisQueueStore{}, NewQueueStore(&conf.Queue{Store: "redis", Key: "k"}, nil, nil, logger))
	assert.IsType(t, &SQLiteQueueStore{}, NewQueueStore(&conf.Queue{Store: "sqlite", Key: "k"}, nil, nil, logger))
	assert.IsType(t, &MemoryQueueStore{}, NewQueueStore(&conf.Queue{Store: "memory"}, nil, nil, logger))

	redisStore, ok := NewQueueStore(nil, nil, nil, logger).(*RedisQueueStore)
	require.True(t, ok)
	assert.Equal(t, biz.DefaultQueueKey, redisStore.key)
}

func TestNewSQLiteClient_NotSelected(t *testing.T) {
	db, cleanup, err := NewSQLiteClient(&conf.Data{}, &conf.Queue{Store: "redis"}, log.DefaultLogger)
	require.NoError(t, err)
	assert.Nil(t, db)
	cleanup()

	_, _, err = NewSQLiteClient(&conf.Data{SQLite: &conf.SQLite{}}, &conf.Queue{Store: "sqlite"}, log.DefaultLogger)
	assert.Error(t, err)
}
