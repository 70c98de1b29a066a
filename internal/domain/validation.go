package domain

import (
	"net/mail"
	"regexp"
	"strings"

	"freemail/backend/internal/apperr"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = apperr.New(apperr.KindValidation, "invalid email format")
	ErrEmailTooLong     = apperr.New(apperr.KindValidation, "email address too long")
	ErrLocalPartTooLong = apperr.New(apperr.KindValidation, "local part too long (max 64 chars)")
	ErrInvalidDomain    = apperr.New(apperr.KindValidation, "invalid domain format")
	ErrDomainTooLong    = apperr.New(apperr.KindValidation, "domain too long (max 253 chars)")
	ErrPasswordTooShort = apperr.New(apperr.KindValidation, "password too short (min 8 chars)")
	ErrPasswordTooLong  = apperr.New(apperr.KindValidation, "password too long (max 72 bytes)")
)

// 验证常量
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253

	MinPasswordLength = 8
	MaxPasswordLength = 72
)

var (
	// 标签-点-顶级域
	domainRegex = regexp.MustCompile(`(?i)^([a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}$`)

	addressRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// NormalizeDomain 去空白并转小写
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ValidateDomain 验证域名格式
func ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return ErrInvalidDomain
		}
	}
	return nil
}

// NormalizeAddress 将各种头部写法归一化为小写裸地址。
//
// 支持 "Name <user@host>"、"<user@host>" 与 "user@host"。
func NormalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address)
	}
	if start := strings.LastIndex(raw, "<"); start >= 0 {
		if end := strings.Index(raw[start:], ">"); end > 0 {
			raw = raw[start+1 : start+end]
		}
	}
	raw = strings.Trim(raw, "<> \t\"'")
	return strings.ToLower(raw)
}

// ValidateAddress 验证完整邮箱地址
func ValidateAddress(address string) error {
	if len(address) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if !addressRegex.MatchString(address) {
		return ErrInvalidEmail
	}
	local, _, _ := SplitAddress(address)
	if len(local) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	return nil
}

// SplitAddress 拆分本地部分与域名
func SplitAddress(address string) (local, domain string, ok bool) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address[:at], address[at+1:], true
}

// DomainOf 返回地址的域名部分（小写）
func DomainOf(address string) string {
	_, d, ok := SplitAddress(address)
	if !ok {
		return ""
	}
	return strings.ToLower(d)
}

// ValidatePassword 验证密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
