package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/pool"
)

// EventPublisher 推送新邮件事件
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.MessageEvent) error
}

// publish 推送失败只记录日志，不影响已完成的持久化
func publish(ctx context.Context, pub EventPublisher, log *zap.Logger, m *domain.Message) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, domain.NewMessageCreated(m)); err != nil {
		log.Warn("publish message event failed",
			zap.String("message_id", m.ID),
			zap.String("tenant_id", m.UserID),
			zap.Error(err),
		)
	}
}

// ErrEventQueueFull 后台推送队列已满
var ErrEventQueueFull = errors.New("event queue full")

// AsyncPublisher 在协程池中推送事件，调用方不等待网络往返
type AsyncPublisher struct {
	next    EventPublisher
	workers *pool.WorkerPool
	timeout time.Duration
	log     *zap.Logger
}

// NewAsyncPublisher 包装 next，workers 需已启动
func NewAsyncPublisher(next EventPublisher, workers *pool.WorkerPool, log *zap.Logger) *AsyncPublisher {
	return &AsyncPublisher{
		next:    next,
		workers: workers,
		timeout: 5 * time.Second,
		log:     logger.OrNop(log),
	}
}

// Publish 入队即返回，队列满时返回 ErrEventQueueFull
func (p *AsyncPublisher) Publish(ctx context.Context, ev domain.MessageEvent) error {
	base := context.WithoutCancel(ctx)
	ok := p.workers.TrySubmit(func() {
		pctx, cancel := context.WithTimeout(base, p.timeout)
		defer cancel()
		if err := p.next.Publish(pctx, ev); err != nil {
			p.log.Warn("async event publish failed",
				zap.String("type", ev.Type),
				zap.String("tenant_id", ev.TenantID),
				zap.Error(err),
			)
		}
	})
	if !ok {
		return ErrEventQueueFull
	}
	return nil
}
