package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/pool"
)

func TestAsyncPublisher(t *testing.T) {
	t.Run("后台推送事件", func(t *testing.T) {
		workers := pool.NewWorkerPool(1, 8, nil)
		workers.Start(context.Background())

		rec := &eventRecorder{}
		pub := NewAsyncPublisher(rec, workers, nil)

		ev := domain.NewMessageCreated(&domain.Message{ID: "m1", UserID: "t1"})
		require.NoError(t, pub.Publish(context.Background(), ev))

		workers.Stop()
		got := rec.list()
		require.Len(t, got, 1)
		assert.Equal(t, "t1", got[0].TenantID)
	})

	t.Run("请求上下文取消不影响推送", func(t *testing.T) {
		workers := pool.NewWorkerPool(1, 8, nil)
		workers.Start(context.Background())

		rec := &eventRecorder{}
		pub := NewAsyncPublisher(rec, workers, nil)

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, pub.Publish(ctx, domain.NewMessageCreated(&domain.Message{ID: "m2", UserID: "t1"})))
		cancel()

		workers.Stop()
		assert.Len(t, rec.list(), 1)
	})

	t.Run("队列满时返回错误", func(t *testing.T) {
		workers := pool.NewWorkerPool(1, 1, nil)
		pub := NewAsyncPublisher(&eventRecorder{}, workers, nil)
		pub.timeout = time.Second

		ev := domain.NewMessageCreated(&domain.Message{ID: "m3", UserID: "t1"})
		require.NoError(t, pub.Publish(context.Background(), ev))
		assert.ErrorIs(t, pub.Publish(context.Background(), ev), ErrEventQueueFull)
	})
}
