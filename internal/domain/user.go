package domain

import "time"

// UserRole 租户角色
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User 表示租户（拥有域名、地址、收件箱与邮件的顶层账户）。
type User struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	Email           string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null" db:"email"`
	DisplayName     string     `json:"display_name,omitempty" gorm:"type:varchar(100)" db:"display_name"`
	PasswordHash    string     `json:"-" gorm:"type:varchar(255)" db:"password_hash"` // 邀请制用户在设置密码前为空
	Role            UserRole   `json:"role" gorm:"type:varchar(20);default:'user';index" db:"role"`
	RecoveryEmail   *string    `json:"recovery_email,omitempty" gorm:"type:varchar(255)" db:"recovery_email"`
	PermanentDomain *string    `json:"permanent_domain,omitempty" gorm:"type:varchar(255)" db:"permanent_domain"`
	InviteToken     *string    `json:"-" gorm:"uniqueIndex;type:varchar(64)" db:"invite_token"`
	InviteExpiresAt *time.Time `json:"invite_expires_at,omitempty" db:"invite_expires_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

func (User) TableName() string { return "users" }

// IsAdmin 判断是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasPassword 是否已设置登录密码
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// InvitePending 邀请令牌存在且未过期
func (u *User) InvitePending(now time.Time) bool {
	if u.InviteToken == nil || u.InviteExpiresAt == nil {
		return false
	}
	return now.Before(*u.InviteExpiresAt)
}
