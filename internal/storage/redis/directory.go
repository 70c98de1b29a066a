package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"freemail/backend/internal/domain"
)

// DirectoryChannel 目录缓存失效通知的发布频道
const DirectoryChannel = "freemail:directory"

// invalidation 失效通知，各实例据此清除本地缓存
type invalidation struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

// DirectoryCache 地址目录的共享缓存（L2），多实例间共享解析结果。
// Redis 故障按未命中处理，只记录日志。
type DirectoryCache struct {
	client *Client
	ttl    time.Duration
}

// NewDirectoryCache 创建地址目录缓存
func NewDirectoryCache(client *Client, ttl time.Duration) *DirectoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DirectoryCache{client: client, ttl: ttl}
}

func addressKey(email string) string {
	return fmt.Sprintf("directory:address:%s", strings.ToLower(email))
}

func domainKey(name string) string {
	return fmt.Sprintf("directory:domain:%s", strings.ToLower(name))
}

// GetAddress 读取缓存的地址绑定
func (d *DirectoryCache) GetAddress(ctx context.Context, email string) (domain.AddressBinding, bool) {
	var b domain.AddressBinding
	return b, d.get(ctx, addressKey(email), &b)
}

// SetAddress 缓存地址绑定
func (d *DirectoryCache) SetAddress(ctx context.Context, email string, b domain.AddressBinding) {
	d.set(ctx, addressKey(email), b)
}

// InvalidateAddress 删除地址缓存并通知其他实例
func (d *DirectoryCache) InvalidateAddress(ctx context.Context, email string) {
	d.del(ctx, addressKey(email))
	d.broadcast(ctx, domain.DirectoryAddress, email)
}

// GetDomain 读取缓存的域名归属
func (d *DirectoryCache) GetDomain(ctx context.Context, name string) (domain.DomainOwner, bool) {
	var o domain.DomainOwner
	return o, d.get(ctx, domainKey(name), &o)
}

// SetDomain 缓存域名归属
func (d *DirectoryCache) SetDomain(ctx context.Context, name string, o domain.DomainOwner) {
	d.set(ctx, domainKey(name), o)
}

// InvalidateDomain 删除域名缓存并通知其他实例
func (d *DirectoryCache) InvalidateDomain(ctx context.Context, name string) {
	d.del(ctx, domainKey(name))
	d.broadcast(ctx, domain.DirectoryDomain, name)
}

// Subscribe 接收失效通知并交给 evict，直到 ctx 取消
func (d *DirectoryCache) Subscribe(ctx context.Context, evict func(kind, key string)) error {
	sub := d.client.rdb.Subscribe(ctx, DirectoryChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			inv, err := decodeInvalidation([]byte(msg.Payload))
			if err != nil {
				d.client.log.Warn("dropping malformed directory invalidation", zap.Error(err))
				continue
			}
			evict(inv.Kind, inv.Key)
		}
	}
}

func (d *DirectoryCache) broadcast(ctx context.Context, kind, key string) {
	data, err := json.Marshal(invalidation{Kind: kind, Key: key})
	if err != nil {
		return
	}
	if err := d.client.rdb.Publish(ctx, DirectoryChannel, data).Err(); err != nil {
		d.client.log.Warn("directory invalidation publish failed",
			zap.String("kind", kind),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func decodeInvalidation(payload []byte) (invalidation, error) {
	var inv invalidation
	if err := json.Unmarshal(payload, &inv); err != nil {
		return invalidation{}, err
	}
	if inv.Key == "" {
		return invalidation{}, errors.New("invalidation without key")
	}
	switch inv.Kind {
	case domain.DirectoryAddress, domain.DirectoryDomain:
		return inv, nil
	}
	return invalidation{}, fmt.Errorf("unknown invalidation kind %q", inv.Kind)
}

func (d *DirectoryCache) get(ctx context.Context, key string, dest any) bool {
	data, err := d.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			d.client.log.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		d.client.log.Warn("directory cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (d *DirectoryCache) set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := d.client.rdb.Set(ctx, key, data, d.ttl).Err(); err != nil {
		d.client.log.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (d *DirectoryCache) del(ctx context.Context, key string) {
	if err := d.client.rdb.Del(ctx, key).Err(); err != nil {
		d.client.log.Warn("directory cache delete failed", zap.String("key", key), zap.Error(err))
	}
}
