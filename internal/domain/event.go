package domain

// EventMessageCreated 邮件持久化后推送的事件类型
const EventMessageCreated = "message.created"

// MessageEvent 推送给租户的实时事件
type MessageEvent struct {
	Type     string   `json:"type"`
	TenantID string   `json:"-"`
	Data     *Message `json:"data"`
}

// NewMessageCreated 构造新邮件事件
func NewMessageCreated(m *Message) MessageEvent {
	return MessageEvent{Type: EventMessageCreated, TenantID: m.UserID, Data: m}
}

// 目录缓存失效通知的条目类别
const (
	DirectoryAddress = "address"
	DirectoryDomain  = "domain"
)
