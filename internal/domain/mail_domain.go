package domain

import "time"

// MailDomain 表示由某个租户认领的 DNS 域名，全局唯一，先到先得。
type MailDomain struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	Domain    string    `json:"domain" gorm:"uniqueIndex;type:varchar(253);not null" db:"domain"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);index;not null" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (MailDomain) TableName() string { return "domains" }
