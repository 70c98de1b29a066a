package domain

import "time"

// Attachment 邮件附件，只在邮件创建时产生，之后不再修改。
type Attachment struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	MessageID string    `json:"message_id" gorm:"type:varchar(36);index;not null" db:"message_id"`
	Filename  string    `json:"filename" gorm:"type:varchar(255)" db:"filename"`
	MimeType  string    `json:"mimetype" gorm:"type:varchar(255)" db:"mimetype"`
	SizeBytes int64     `json:"size_bytes" db:"size_bytes"`
	URL       string    `json:"url" gorm:"type:varchar(2048)" db:"url"`
	Position  int       `json:"-" gorm:"default:0" db:"position"` // 同一时刻创建时的稳定顺序
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (Attachment) TableName() string { return "attachments" }

// ThreadKey 原子线程分配的条件插入记录，Key 唯一。
type ThreadKey struct {
	Key       string    `gorm:"column:thread_key;primaryKey;type:varchar(64)" db:"thread_key"`
	ThreadID  string    `gorm:"type:varchar(64);not null" db:"thread_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (ThreadKey) TableName() string { return "thread_keys" }
