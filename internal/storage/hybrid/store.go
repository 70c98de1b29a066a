// Package hybrid 按配置组装存储：关系型数据库负责持久化，
// 启用 Redis 时线程键仲裁改走 Redis。
package hybrid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"freemail/backend/internal/config"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/storage"
	"freemail/backend/internal/storage/memory"
	"freemail/backend/internal/storage/postgres"
	"freemail/backend/internal/storage/redis"
	"freemail/backend/internal/storage/sqlite"
)

// DefaultSQLitePath sqlite 未配置 DSN 时的数据库文件
const DefaultSQLitePath = "./data/freemail.db"

// NewStoreWithType 根据 database.type 创建存储实例
func NewStoreWithType(cfg config.DatabaseConfig, log *zap.Logger) (storage.Store, error) {
	log = logger.OrNop(log)

	switch cfg.Type {
	case "", "memory":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil

	case "sqlite":
		path := cfg.DSN
		if path == "" {
			path = DefaultSQLitePath
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		store, err := sqlite.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite: %w", err)
		}
		log.Info("using sqlite storage", zap.String("path", path))
		return store, nil

	case "postgres", "mysql":
		pool := postgres.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}
		var (
			store *postgres.Store
			err   error
		)
		if cfg.Type == "mysql" {
			store, err = postgres.NewMySQLStore(cfg.DSN, pool)
		} else {
			store, err = postgres.NewStore(cfg.DSN, pool)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("using database storage", zap.String("type", cfg.Type))
		return store, nil
	}

	return nil, fmt.Errorf("unsupported database type: %s (supported: memory, sqlite, postgres, mysql)", cfg.Type)
}

var _ storage.Store = (*Store)(nil)

// Store 在底层存储之上，把线程键仲裁交给 Redis SETNX
type Store struct {
	storage.Store
	redis   *redis.Client
	claimer *redis.ThreadKeyClaimer
}

// NewStore 组合底层存储与 Redis
func NewStore(base storage.Store, client *redis.Client) *Store {
	return &Store{
		Store:   base,
		redis:   client,
		claimer: redis.NewThreadKeyClaimer(client),
	}
}

// ClaimThreadKey 首个写入者胜出
func (s *Store) ClaimThreadKey(ctx context.Context, key, threadID string) (string, error) {
	return s.claimer.ClaimThreadKey(ctx, key, threadID)
}

// Health 数据库与 Redis 均可用才算健康
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return err
	}
	if err := s.redis.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close 关闭底层存储与 Redis 连接
func (s *Store) Close() error {
	err := s.Store.Close()
	if rerr := s.redis.Close(); err == nil {
		err = rerr
	}
	return err
}
