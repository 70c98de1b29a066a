package redis

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"freemail/backend/internal/domain"
)

// EventsChannel 实时事件的发布频道
const EventsChannel = "freemail:events"

// wireEvent 跨实例传输的事件，保留租户 ID
type wireEvent struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Data     *domain.Message `json:"data"`
}

// EventBus 通过 Redis Pub/Sub 在实例间转发实时事件
type EventBus struct {
	client *Client
}

// NewEventBus 创建事件总线
func NewEventBus(client *Client) *EventBus {
	return &EventBus{client: client}
}

// Publish 发布事件
func (b *EventBus) Publish(ctx context.Context, ev domain.MessageEvent) error {
	data, err := json.Marshal(wireEvent{Type: ev.Type, TenantID: ev.TenantID, Data: ev.Data})
	if err != nil {
		return err
	}
	return b.client.rdb.Publish(ctx, EventsChannel, data).Err()
}

// Subscribe 订阅事件并交给 handler，直到 ctx 取消
func (b *EventBus) Subscribe(ctx context.Context, handler func(domain.MessageEvent)) error {
	sub := b.client.rdb.Subscribe(ctx, EventsChannel)
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
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				b.client.log.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			handler(ev)
		}
	}
}

func decodeEvent(payload []byte) (domain.MessageEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.MessageEvent{}, err
	}
	return domain.MessageEvent{Type: w.Type, TenantID: w.TenantID, Data: w.Data}, nil
}
