package domain

import "time"

// EmailAddress 完整邮箱地址，与一个域名、一个收件箱绑定。
type EmailAddress struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	Email     string    `json:"email" gorm:"uniqueIndex;type:varchar(320);not null" db:"email"`
	DomainID  string    `json:"domain_id" gorm:"type:varchar(36);index;not null" db:"domain_id"`
	Domain    string    `json:"domain" gorm:"type:varchar(253);not null" db:"domain"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);index;not null" db:"user_id"`
	InboxID   string    `json:"inbox_id" gorm:"type:varchar(36);uniqueIndex;not null" db:"inbox_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (EmailAddress) TableName() string { return "email_addresses" }

// AddressBinding 地址目录的解析结果。
type AddressBinding struct {
	AddressID string `json:"address_id"`
	Email     string `json:"email"`
	TenantID  string `json:"tenant_id"`
	InboxID   string `json:"inbox_id"`
	Domain    string `json:"domain"`
}

// Binding 由地址记录生成目录绑定
func (a *EmailAddress) Binding() AddressBinding {
	return AddressBinding{
		AddressID: a.ID,
		Email:     a.Email,
		TenantID:  a.UserID,
		InboxID:   a.InboxID,
		Domain:    a.Domain,
	}
}

// DomainOwner 域名归属解析结果。
type DomainOwner struct {
	DomainID string `json:"domain_id"`
	Domain   string `json:"domain"`
	TenantID string `json:"tenant_id"`
}
