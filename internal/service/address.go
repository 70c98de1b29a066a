package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/storage"
)

// AddressService 邮箱地址与收件箱管理
type AddressService struct {
	store         storage.Store
	directory     *Directory
	cascadeTenant bool
	now           func() time.Time
	log           *zap.Logger
}

// NewAddressService 创建地址服务。cascadeTenant 为 true 时删除租户最后一个地址会连带删除租户。
func NewAddressService(store storage.Store, directory *Directory, cascadeTenant bool, log *zap.Logger) *AddressService {
	return &AddressService{
		store:         store,
		directory:     directory,
		cascadeTenant: cascadeTenant,
		now:           func() time.Time { return time.Now().UTC() },
		log:           logger.OrNop(log),
	}
}

// CreateAddressInput 创建地址的输入
type CreateAddressInput struct {
	TenantID  string
	Email     string
	Domain    string
	InboxName string
	// AnyDomain 允许使用任意已存在的域名（管理员为他人开通）
	AnyDomain bool
}

// Create 同时创建地址与收件箱
func (s *AddressService) Create(ctx context.Context, in CreateAddressInput) (*domain.EmailAddress, *domain.Inbox, error) {
	if strings.TrimSpace(in.Email) == "" {
		return nil, nil, apperr.Validation("email is required")
	}
	if strings.TrimSpace(in.Domain) == "" {
		return nil, nil, apperr.Validation("domain is required")
	}
	email := domain.NormalizeAddress(in.Email)
	if err := domain.ValidateAddress(email); err != nil {
		return nil, nil, err
	}
	name := domain.NormalizeDomain(in.Domain)
	if domain.DomainOf(email) != name {
		return nil, nil, ErrDomainMismatch
	}

	owner, found, err := s.directory.ResolveDomainOwner(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case !found && in.AnyDomain:
		return nil, nil, ErrDomainUnknown
	case !found, !in.AnyDomain && owner.TenantID != in.TenantID:
		return nil, nil, ErrDomainNotOwned
	}

	if in.AnyDomain {
		if _, err := s.store.GetUser(ctx, in.TenantID); err != nil {
			return nil, nil, storeError(err, ErrUserNotFound)
		}
	}

	inboxName := strings.TrimSpace(in.InboxName)
	if inboxName == "" {
		inboxName = email
	}
	now := s.now()
	addr := &domain.EmailAddress{
		ID:        uuid.NewString(),
		Email:     email,
		DomainID:  owner.DomainID,
		Domain:    owner.Domain,
		UserID:    in.TenantID,
		CreatedAt: now,
	}
	inbox := &domain.Inbox{
		ID:        uuid.NewString(),
		EmailID:   addr.ID,
		UserID:    in.TenantID,
		Name:      inboxName,
		CreatedAt: now,
	}
	addr.InboxID = inbox.ID

	if err := s.store.CreateAddressWithInbox(ctx, addr, inbox); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, nil, ErrAddressExists
		}
		return nil, nil, storeError(err, nil)
	}

	s.log.Info("email address created",
		zap.String("email", email),
		zap.String("tenant_id", in.TenantID),
		zap.String("inbox_id", inbox.ID),
	)
	return addr, inbox, nil
}

// List 列出租户的地址
func (s *AddressService) List(ctx context.Context, tenantID string) ([]*domain.EmailAddress, error) {
	list, err := s.store.ListAddresses(ctx, tenantID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return list, nil
}

// Get 获取租户的地址
func (s *AddressService) Get(ctx context.Context, tenantID, id string) (*domain.EmailAddress, error) {
	addr, err := s.store.GetAddress(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err, ErrAddressNotFound)
	}
	return addr, nil
}

// DeleteResult 删除结果
type DeleteResult struct {
	TenantDeleted bool `json:"tenant_deleted"`
}

// Delete 删除地址及其收件箱。cascade 为 true 或服务开启级联时，租户无剩余地址则一并删除。
func (s *AddressService) Delete(ctx context.Context, tenantID, id string, cascade bool) (DeleteResult, error) {
	addr, err := s.store.GetAddress(ctx, tenantID, id)
	if err != nil {
		return DeleteResult{}, storeError(err, ErrAddressNotFound)
	}
	if err := s.store.DeleteAddressWithInbox(ctx, tenantID, id); err != nil {
		return DeleteResult{}, storeError(err, ErrAddressNotFound)
	}
	s.directory.InvalidateAddress(ctx, addr.Email)
	s.log.Info("email address deleted", zap.String("email", addr.Email), zap.String("tenant_id", tenantID))

	if !cascade && !s.cascadeTenant {
		return DeleteResult{}, nil
	}
	remaining, err := s.store.CountAddresses(ctx, tenantID)
	if err != nil {
		return DeleteResult{}, storeError(err, nil)
	}
	if remaining > 0 {
		return DeleteResult{}, nil
	}

	domains, err := s.store.ListDomains(ctx, tenantID)
	if err != nil {
		return DeleteResult{}, storeError(err, nil)
	}
	if err := s.store.DeleteUserCascade(ctx, tenantID); err != nil {
		return DeleteResult{}, storeError(err, ErrUserNotFound)
	}
	for _, d := range domains {
		s.directory.InvalidateDomain(ctx, d.Domain)
	}
	s.log.Warn("tenant deleted with its last email address", zap.String("tenant_id", tenantID))
	return DeleteResult{TenantDeleted: true}, nil
}

// ListInboxes 列出收件箱并附带地址
func (s *AddressService) ListInboxes(ctx context.Context, tenantID string) ([]domain.InboxView, error) {
	inboxes, err := s.store.ListInboxes(ctx, tenantID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	addrs, err := s.store.ListAddresses(ctx, tenantID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	byID := make(map[string]string, len(addrs))
	for _, a := range addrs {
		byID[a.ID] = a.Email
	}

	views := make([]domain.InboxView, 0, len(inboxes))
	for _, in := range inboxes {
		v := domain.InboxView{Inbox: in}
		if email, ok := byID[in.EmailID]; ok {
			v.Email = &email
		}
		views = append(views, v)
	}
	return views, nil
}

// GetInbox 获取收件箱
func (s *AddressService) GetInbox(ctx context.Context, tenantID, id string) (domain.InboxView, error) {
	in, err := s.store.GetInbox(ctx, tenantID, id)
	if err != nil {
		return domain.InboxView{}, storeError(err, ErrInboxNotFound)
	}
	return s.inboxView(ctx, tenantID, in), nil
}

// RenameInbox 修改收件箱名称
func (s *AddressService) RenameInbox(ctx context.Context, tenantID, id, name string) (domain.InboxView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.InboxView{}, ErrInboxName
	}
	in, err := s.store.RenameInbox(ctx, tenantID, id, name)
	if err != nil {
		return domain.InboxView{}, storeError(err, ErrInboxNotFound)
	}
	return s.inboxView(ctx, tenantID, in), nil
}

func (s *AddressService) inboxView(ctx context.Context, tenantID string, in *domain.Inbox) domain.InboxView {
	v := domain.InboxView{Inbox: in}
	if addr, err := s.store.GetAddress(ctx, tenantID, in.EmailID); err == nil {
		v.Email = &addr.Email
	}
	return v
}
