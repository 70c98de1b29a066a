// Package thread 根据主题为新邮件分配会话 ID。
package thread

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	// 仅剥离一次，大小写不敏感
	markerPattern = regexp.MustCompile(`(?i)^(re|fwd|fw):\s*`)
	tagPattern    = regexp.MustCompile(`^\[.*?\]\s*`)
)

// Normalize 剥离一个开头的回复/转发标记和一个方括号标签，然后去除首尾空白。
//
// "Re: Re: Project" 只剥离一次，得到 "Re: Project"。
func Normalize(subject string) string {
	s := subject
	if loc := markerPattern.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	if loc := tagPattern.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	return strings.TrimSpace(s)
}

// Fold 主题的比较形式：小写、去首尾空白，开头标记后的空白折叠为一个空格。
func Fold(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	loc := markerPattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	marker := s[loc[2]:loc[3]]
	return marker + ": " + s[loc[1]:]
}

// SubjectKey 已折叠主题的定长哈希，作为可索引的存储列。
func SubjectKey(subject string) string {
	sum := sha256.Sum256([]byte(Fold(subject)))
	return hex.EncodeToString(sum[:])
}

// MatchKeys 返回与规范化主题同属一个会话的三种主题形式的键：
// 原样、"Re: <主题>"、"Fwd: <主题>"。
func MatchKeys(normalized string) []string {
	return []string{
		SubjectKey(normalized),
		SubjectKey("re: " + normalized),
		SubjectKey("fwd: " + normalized),
	}
}

// Matches 判断已有邮件的主题是否与规范化主题属于同一会话。
func Matches(subject, normalized string) bool {
	key := SubjectKey(subject)
	for _, k := range MatchKeys(normalized) {
		if k == key {
			return true
		}
	}
	return false
}

// ScopeKey 原子分配使用的唯一键：租户、收件箱与规范化主题的哈希。
func ScopeKey(tenantID string, inboxID *string, normalized string) string {
	inbox := ""
	if inboxID != nil {
		inbox = *inboxID
	}
	sum := sha256.Sum256([]byte(tenantID + "\x00" + inbox + "\x00" + strings.ToLower(normalized)))
	return hex.EncodeToString(sum[:16])
}
