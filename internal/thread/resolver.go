package thread

import (
	"context"
	"fmt"

	"freemail/backend/internal/domain"
)

// Finder 按主题键查找同一租户、同一收件箱内的历史邮件，按创建时间升序返回。
type Finder interface {
	FindThreadCandidates(ctx context.Context, tenantID string, inboxID *string, subjectKeys []string) ([]*domain.Message, error)
}

// KeyClaimer 条件插入线程键；键已存在时返回已登记的线程 ID。
type KeyClaimer interface {
	ClaimThreadKey(ctx context.Context, key, threadID string) (string, error)
}

// Request 一次线程解析请求
type Request struct {
	TenantID  string
	InboxID   *string
	Subject   string
	ThreadID  string // 调用方显式指定时原样使用
	MessageID string // 新邮件自身的 ID
}

// Resolver 线程解析器。
//
// 未配置 KeyClaimer 时，"查找-插入" 之间没有跨记录锁，两封同时到达的同主题新邮件
// 可能各自开启新会话；配置后由唯一键仲裁。
type Resolver struct {
	finder  Finder
	claimer KeyClaimer
}

// NewResolver 创建容忍并发竞争的解析器
func NewResolver(finder Finder) *Resolver {
	return &Resolver{finder: finder}
}

// NewAtomicResolver 创建基于条件插入的解析器
func NewAtomicResolver(finder Finder, claimer KeyClaimer) *Resolver {
	return &Resolver{finder: finder, claimer: claimer}
}

// Atomic 是否启用唯一键仲裁
func (r *Resolver) Atomic() bool {
	return r.claimer != nil
}

// Resolve 返回新邮件的线程 ID。
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	if req.ThreadID != "" {
		return req.ThreadID, nil
	}

	normalized := Normalize(req.Subject)
	if normalized == "" {
		return req.MessageID, nil
	}

	candidates, err := r.finder.FindThreadCandidates(ctx, req.TenantID, req.InboxID, MatchKeys(normalized))
	if err != nil {
		return "", fmt.Errorf("find thread candidates: %w", err)
	}

	threadID := pick(candidates, normalized)
	if threadID == "" {
		threadID = req.MessageID
	}

	if r.claimer == nil {
		return threadID, nil
	}

	winner, err := r.claimer.ClaimThreadKey(ctx, ScopeKey(req.TenantID, req.InboxID, normalized), threadID)
	if err != nil {
		return "", fmt.Errorf("claim thread key: %w", err)
	}
	return winner, nil
}

// pick 最早的、已有线程 ID 的匹配优先；否则取最早匹配的邮件 ID。
func pick(candidates []*domain.Message, normalized string) string {
	var first *domain.Message
	for _, m := range candidates {
		if !Matches(m.Subject, normalized) {
			continue
		}
		if m.ThreadID != "" {
			return m.ThreadID
		}
		if first == nil {
			first = m
		}
	}
	if first != nil {
		return first.ID
	}
	return ""
}
