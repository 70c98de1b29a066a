package redis

import (
	"context"
	"fmt"
)

// ThreadKeyClaimer 使用 SETNX 实现线程键的条件写入
type ThreadKeyClaimer struct {
	client *Client
}

// NewThreadKeyClaimer 创建线程键仲裁器
func NewThreadKeyClaimer(client *Client) *ThreadKeyClaimer {
	return &ThreadKeyClaimer{client: client}
}

func threadKey(key string) string {
	return fmt.Sprintf("thread:key:%s", key)
}

// ClaimThreadKey 首个写入者胜出，返回胜出的线程 ID
func (c *ThreadKeyClaimer) ClaimThreadKey(ctx context.Context, key, threadID string) (string, error) {
	k := threadKey(key)
	ok, err := c.client.rdb.SetNX(ctx, k, threadID, 0).Result()
	if err != nil {
		return "", fmt.Errorf("claim thread key: %w", err)
	}
	if ok {
		return threadID, nil
	}
	winner, err := c.client.rdb.Get(ctx, k).Result()
	if err != nil {
		return "", fmt.Errorf("read thread key: %w", err)
	}
	return winner, nil
}
