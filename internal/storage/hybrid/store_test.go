package hybrid

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/config"
	"freemail/backend/internal/storage/memory"
	"freemail/backend/internal/storage/redis"
	"freemail/backend/internal/storage/sqlite"
)

func TestNewStoreWithType(t *testing.T) {
	t.Run("默认内存存储", func(t *testing.T) {
		store, err := NewStoreWithType(config.DatabaseConfig{}, nil)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, store)
		assert.NoError(t, store.Health(context.Background()))
	})

	t.Run("sqlite 内存库", func(t *testing.T) {
		store, err := NewStoreWithType(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, nil)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &sqlite.Store{}, store)
	})

	t.Run("sqlite 文件库自动建目录", func(t *testing.T) {
		path := t.TempDir() + "/nested/freemail.db"
		store, err := NewStoreWithType(config.DatabaseConfig{Type: "sqlite", DSN: path}, nil)
		require.NoError(t, err)
		defer store.Close()
		assert.NoError(t, store.Health(context.Background()))
	})

	t.Run("不支持的类型", func(t *testing.T) {
		_, err := NewStoreWithType(config.DatabaseConfig{Type: "oracle"}, nil)
		assert.Error(t, err)
	})
}

func TestStore_RedisUnavailable(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewStore(memory.NewStore(), redis.NewFromClient(rdb, nil))
	ctx := context.Background()

	t.Run("健康检查包含 Redis", func(t *testing.T) {
		assert.Error(t, s.Health(ctx))
	})

	t.Run("线程键仲裁失败返回错误", func(t *testing.T) {
		_, err := s.ClaimThreadKey(ctx, "k", "thread-1")
		assert.Error(t, err)
	})

	t.Run("其余操作仍走底层存储", func(t *testing.T) {
		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}
