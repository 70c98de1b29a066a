package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/storage"
)

// DomainService 域名认领与管理
type DomainService struct {
	store     storage.Store
	directory *Directory
	now       func() time.Time
	log       *zap.Logger
}

// NewDomainService 创建域名服务
func NewDomainService(store storage.Store, directory *Directory, log *zap.Logger) *DomainService {
	return &DomainService{
		store:     store,
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.OrNop(log),
	}
}

// Claim 为租户认领域名，先到先得
func (s *DomainService) Claim(ctx context.Context, tenantID, name string) (*domain.MailDomain, error) {
	name = domain.NormalizeDomain(name)
	if err := domain.ValidateDomain(name); err != nil {
		return nil, err
	}

	d := &domain.MailDomain{
		ID:        uuid.NewString(),
		Domain:    name,
		UserID:    tenantID,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateDomain(ctx, d); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrDomainExists
		}
		return nil, storeError(err, nil)
	}

	s.log.Info("domain claimed", zap.String("domain", name), zap.String("tenant_id", tenantID))
	return d, nil
}

// List 列出租户的域名，按创建时间倒序
func (s *DomainService) List(ctx context.Context, tenantID string) ([]*domain.MailDomain, error) {
	list, err := s.store.ListDomains(ctx, tenantID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return list, nil
}

// Get 获取租户拥有的域名
func (s *DomainService) Get(ctx context.Context, tenantID, id string) (*domain.MailDomain, error) {
	d, err := s.store.GetDomain(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err, ErrDomainNotFound)
	}
	return d, nil
}

// Delete 删除域名；域名下仍有地址时拒绝
func (s *DomainService) Delete(ctx context.Context, tenantID, id string) error {
	d, err := s.store.GetDomain(ctx, tenantID, id)
	if err != nil {
		return storeError(err, ErrDomainNotFound)
	}
	n, err := s.store.CountAddressesByDomain(ctx, d.ID)
	if err != nil {
		return storeError(err, nil)
	}
	if n > 0 {
		return ErrDomainInUse
	}
	if err := s.store.DeleteDomain(ctx, tenantID, id); err != nil {
		return storeError(err, ErrDomainNotFound)
	}
	s.directory.InvalidateDomain(ctx, d.Domain)

	s.log.Info("domain deleted", zap.String("domain", d.Domain), zap.String("tenant_id", tenantID))
	return nil
}
