package domain

import "time"

// Inbox 命名的邮件容器，与 EmailAddress 一一对应。
type Inbox struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	EmailID   string    `json:"email_id" gorm:"type:varchar(36);uniqueIndex;not null" db:"email_id"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);index;not null" db:"user_id"`
	Name      string    `json:"name" gorm:"type:varchar(255)" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (Inbox) TableName() string { return "inboxes" }

// InboxView 附带地址字符串的收件箱
type InboxView struct {
	*Inbox
	Email *string `json:"email"`
}
