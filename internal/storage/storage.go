package storage

import (
	"context"
	"errors"
	"time"

	"freemail/backend/internal/domain"
)

var (
	// ErrNotFound 记录不存在，或不属于调用方租户
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("duplicate record")
)

// UserRepository 定义租户数据存取操作。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByInviteToken(ctx context.Context, token string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	ListUsers(ctx context.Context) ([]*domain.User, error)
	// DeleteUserCascade 删除租户及其全部域名、地址、收件箱、邮件与附件
	DeleteUserCascade(ctx context.Context, id string) error
}

// DomainRepository 定义域名数据存取操作。
type DomainRepository interface {
	CreateDomain(ctx context.Context, d *domain.MailDomain) error
	GetDomain(ctx context.Context, tenantID, id string) (*domain.MailDomain, error)
	GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error)
	ListDomains(ctx context.Context, tenantID string) ([]*domain.MailDomain, error)
	DeleteDomain(ctx context.Context, tenantID, id string) error
	CountAddressesByDomain(ctx context.Context, domainID string) (int, error)
}

// AddressRepository 定义邮箱地址与收件箱的数据存取操作。
type AddressRepository interface {
	// CreateAddressWithInbox 在一个事务中同时写入互相引用的地址与收件箱
	CreateAddressWithInbox(ctx context.Context, addr *domain.EmailAddress, inbox *domain.Inbox) error
	GetAddress(ctx context.Context, tenantID, id string) (*domain.EmailAddress, error)
	GetAddressByEmail(ctx context.Context, email string) (*domain.EmailAddress, error)
	ListAddresses(ctx context.Context, tenantID string) ([]*domain.EmailAddress, error)
	CountAddresses(ctx context.Context, tenantID string) (int, error)
	// DeleteAddressWithInbox 同时删除地址与其收件箱
	DeleteAddressWithInbox(ctx context.Context, tenantID, id string) error

	GetInbox(ctx context.Context, tenantID, id string) (*domain.Inbox, error)
	ListInboxes(ctx context.Context, tenantID string) ([]*domain.Inbox, error)
	RenameInbox(ctx context.Context, tenantID, id, name string) (*domain.Inbox, error)
}

// MessageRepository 定义邮件与附件的数据存取操作。所有读写均按租户过滤。
type MessageRepository interface {
	// CreateMessage 在一个事务中写入邮件及其附件
	CreateMessage(ctx context.Context, msg *domain.Message, attachments []*domain.Attachment) error
	GetMessage(ctx context.Context, tenantID, id string) (*domain.Message, error)
	ListMessages(ctx context.Context, tenantID string, filter domain.MessageFilter) ([]*domain.Message, error)
	ListThread(ctx context.Context, tenantID, threadID string) ([]*domain.Message, error)
	UpdateMessage(ctx context.Context, tenantID, id string, patch domain.MessagePatch, now time.Time) (*domain.Message, error)
	FindThreadCandidates(ctx context.Context, tenantID string, inboxID *string, subjectKeys []string) ([]*domain.Message, error)

	AddAttachment(ctx context.Context, att *domain.Attachment) error
	ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error)
	ListAttachmentsForMessages(ctx context.Context, messageIDs []string) (map[string][]*domain.Attachment, error)
}

// ThreadKeyRepository 原子线程分配的条件插入。
type ThreadKeyRepository interface {
	ClaimThreadKey(ctx context.Context, key, threadID string) (string, error)
}

// Store 聚合所有存储接口。
type Store interface {
	UserRepository
	DomainRepository
	AddressRepository
	MessageRepository
	ThreadKeyRepository
	Health(ctx context.Context) error
	Close() error
}
