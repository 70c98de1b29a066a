package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Direction 邮件方向
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus 邮件状态
type MessageStatus string

const (
	StatusQueued   MessageStatus = "queued"
	StatusSent     MessageStatus = "sent"
	StatusFailed   MessageStatus = "failed"
	StatusReceived MessageStatus = "received"
)

// 文件夹
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderArchive = "archive"
	FolderTrash   = "trash"
	FolderSpam    = "spam"
)

// UnassignedInbox 列表查询中表示"未关联收件箱"的哨兵值
const UnassignedInbox = "unassigned"

// NoSubject 缺失主题时的占位
const NoSubject = "(no subject)"

// 列宽上限（按字符计），写入前截断
const (
	MaxSubjectLength  = 998
	MaxAddressLength  = 320
	MaxFilenameLength = 255
	MaxMimeTypeLength = 255
)

// ValidFolder 判断文件夹名是否合法
func ValidFolder(folder string) bool {
	switch folder {
	case FolderInbox, FolderSent, FolderArchive, FolderTrash, FolderSpam:
		return true
	}
	return false
}

// Message 一封入站或出站邮件。
type Message struct {
	ID          string        `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	UserID      string        `json:"user_id" gorm:"type:varchar(36);not null;index:idx_messages_scope,priority:1" db:"user_id"`
	InboxID     *string       `json:"inbox_id" gorm:"type:varchar(36);index:idx_messages_scope,priority:2" db:"inbox_id"`
	Direction   Direction     `json:"direction" gorm:"type:varchar(16);not null" db:"direction"`
	Subject     string        `json:"subject" gorm:"type:varchar(998)" db:"subject"`
	SubjectKey  string        `json:"-" gorm:"type:varchar(64);index:idx_messages_scope,priority:3" db:"subject_key"`
	FromAddress *string       `json:"from_address" gorm:"type:varchar(320)" db:"from_address"`
	Recipients  StringList    `json:"recipients" gorm:"type:text" db:"recipients"`
	ThreadID    string        `json:"thread_id" gorm:"type:varchar(64);index" db:"thread_id"`
	PreviewText string        `json:"preview_text" gorm:"type:varchar(512)" db:"preview_text"`
	BodyPlain   *string       `json:"body_plain" gorm:"type:text" db:"body_plain"`
	BodyHTML    *string       `json:"body_html" gorm:"type:text" db:"body_html"`
	Status      MessageStatus `json:"status" gorm:"type:varchar(16);not null" db:"status"`
	Folder      string        `json:"folder" gorm:"type:varchar(32);default:'inbox';index" db:"folder"`
	IsRead      bool          `json:"is_read" gorm:"default:false" db:"is_read"`
	IsStarred   bool          `json:"is_starred" gorm:"default:false" db:"is_starred"`
	CreatedAt   time.Time     `json:"created_at" gorm:"index" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`

	Attachments []*Attachment `json:"attachments,omitempty" gorm:"-" db:"-"`
}

func (Message) TableName() string { return "messages" }

// Clone 返回浅拷贝（切片与指针字段复制）
func (m *Message) Clone() *Message {
	cp := *m
	cp.Recipients = append(StringList(nil), m.Recipients...)
	cp.InboxID = cloneString(m.InboxID)
	cp.FromAddress = cloneString(m.FromAddress)
	cp.BodyPlain = cloneString(m.BodyPlain)
	cp.BodyHTML = cloneString(m.BodyHTML)
	cp.Attachments = nil
	return &cp
}

// InScope 判断邮件是否属于给定租户与收件箱范围（nil 收件箱表示未关联）。
func (m *Message) InScope(tenantID string, inboxID *string) bool {
	if m.UserID != tenantID {
		return false
	}
	if inboxID == nil {
		return m.InboxID == nil
	}
	return m.InboxID != nil && *m.InboxID == *inboxID
}

// MessageFilter 邮件列表过滤条件
type MessageFilter struct {
	InboxID    *string // 精确匹配的收件箱
	Unassigned bool    // 仅未关联收件箱的邮件
	Folder     *string
	Starred    *bool
	Limit      int
}

// MessagePatch 客户端可修改的字段白名单
type MessagePatch struct {
	IsRead    *bool   `json:"is_read"`
	Folder    *string `json:"folder"`
	IsStarred *bool   `json:"is_starred"`
}

// Empty 没有任何可接受的字段
func (p MessagePatch) Empty() bool {
	return p.IsRead == nil && p.Folder == nil && p.IsStarred == nil
}

// Apply 将补丁应用到邮件上
func (p MessagePatch) Apply(m *Message, now time.Time) {
	if p.Empty() {
		return
	}
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	if p.Folder != nil {
		m.Folder = *p.Folder
	}
	if p.IsStarred != nil {
		m.IsStarred = *p.IsStarred
	}
	m.UpdatedAt = now
}

// StringList 以 JSON 文本持久化的字符串列表
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported recipients type %T", src)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode recipients: %w", err)
	}
	*l = out
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr 返回字符串指针，空串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
