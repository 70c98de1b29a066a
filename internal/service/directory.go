package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"freemail/backend/internal/cache"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/storage"
)

// DirectoryLookup 目录依赖的存储查询
type DirectoryLookup interface {
	GetAddressByEmail(ctx context.Context, email string) (*domain.EmailAddress, error)
	GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error)
}

// DirectoryCache 跨实例共享的目录缓存（redis），未命中与故障都返回 false。
// Invalidate* 需同时通知其他实例，由各实例调用 Directory.Evict 清除本地缓存。
type DirectoryCache interface {
	GetAddress(ctx context.Context, email string) (domain.AddressBinding, bool)
	SetAddress(ctx context.Context, email string, b domain.AddressBinding)
	InvalidateAddress(ctx context.Context, email string)
	GetDomain(ctx context.Context, name string) (domain.DomainOwner, bool)
	SetDomain(ctx context.Context, name string, o domain.DomainOwner)
	InvalidateDomain(ctx context.Context, name string)
}

// DirectoryOptions 目录缓存参数
type DirectoryOptions struct {
	LocalTTL  time.Duration
	LocalSize int
	Remote    DirectoryCache
}

// Directory 地址目录：地址 -> 租户/收件箱，域名 -> 租户。
//
// 只缓存命中结果；未命中总是回源，新建地址立即可见。
type Directory struct {
	lookup    DirectoryLookup
	addresses *cache.LocalCache[domain.AddressBinding]
	domains   *cache.LocalCache[domain.DomainOwner]
	remote    DirectoryCache
	group     singleflight.Group
	log       *zap.Logger
}

type addressResult struct {
	binding domain.AddressBinding
	found   bool
}

type domainResult struct {
	owner domain.DomainOwner
	found bool
}

// NewDirectory 创建地址目录
func NewDirectory(lookup DirectoryLookup, opts DirectoryOptions, log *zap.Logger) *Directory {
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = 30 * time.Second
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = 10000
	}
	return &Directory{
		lookup:    lookup,
		addresses: cache.NewLocalCache[domain.AddressBinding](opts.LocalSize, opts.LocalTTL),
		domains:   cache.NewLocalCache[domain.DomainOwner](opts.LocalSize, opts.LocalTTL),
		remote:    opts.Remote,
		log:       logger.OrNop(log),
	}
}

// Close 停止本地缓存的清理协程
func (d *Directory) Close() {
	d.addresses.Close()
	d.domains.Close()
}

// ResolveByAddress 按归一化地址查找绑定；不存在时 found=false 且 err=nil。
func (d *Directory) ResolveByAddress(ctx context.Context, address string) (domain.AddressBinding, bool, error) {
	email := domain.NormalizeAddress(address)
	if email == "" {
		return domain.AddressBinding{}, false, nil
	}
	if b, ok := d.addresses.Get(email); ok {
		return b, true, nil
	}

	v, err, _ := d.group.Do("address:"+email, func() (any, error) {
		if d.remote != nil {
			if b, ok := d.remote.GetAddress(ctx, email); ok {
				d.addresses.Set(email, b, 0)
				return addressResult{binding: b, found: true}, nil
			}
		}
		rec, err := d.lookup.GetAddressByEmail(ctx, email)
		if errors.Is(err, storage.ErrNotFound) {
			return addressResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		b := rec.Binding()
		d.addresses.Set(email, b, 0)
		if d.remote != nil {
			d.remote.SetAddress(ctx, email, b)
		}
		return addressResult{binding: b, found: true}, nil
	})
	if err != nil {
		return domain.AddressBinding{}, false, storeError(err, nil)
	}
	res := v.(addressResult)
	return res.binding, res.found, nil
}

// ResolveDomainOwner 按域名查找归属租户
func (d *Directory) ResolveDomainOwner(ctx context.Context, name string) (domain.DomainOwner, bool, error) {
	name = domain.NormalizeDomain(name)
	if name == "" {
		return domain.DomainOwner{}, false, nil
	}
	if o, ok := d.domains.Get(name); ok {
		return o, true, nil
	}

	v, err, _ := d.group.Do("domain:"+name, func() (any, error) {
		if d.remote != nil {
			if o, ok := d.remote.GetDomain(ctx, name); ok {
				d.domains.Set(name, o, 0)
				return domainResult{owner: o, found: true}, nil
			}
		}
		rec, err := d.lookup.GetDomainByName(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return domainResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		o := domain.DomainOwner{DomainID: rec.ID, Domain: rec.Domain, TenantID: rec.UserID}
		d.domains.Set(name, o, 0)
		if d.remote != nil {
			d.remote.SetDomain(ctx, name, o)
		}
		return domainResult{owner: o, found: true}, nil
	})
	if err != nil {
		return domain.DomainOwner{}, false, storeError(err, nil)
	}
	res := v.(domainResult)
	return res.owner, res.found, nil
}

// InvalidateAddress 地址删除后清除缓存
func (d *Directory) InvalidateAddress(ctx context.Context, address string) {
	email := domain.NormalizeAddress(address)
	d.addresses.Delete(email)
	if d.remote != nil {
		d.remote.InvalidateAddress(ctx, email)
	}
}

// InvalidateDomain 域名删除后清除缓存
func (d *Directory) InvalidateDomain(ctx context.Context, name string) {
	name = domain.NormalizeDomain(name)
	d.domains.Delete(name)
	if d.remote != nil {
		d.remote.InvalidateDomain(ctx, name)
	}
}

// Evict 只清除本地缓存，处理其他实例广播的失效通知
func (d *Directory) Evict(kind, key string) {
	switch kind {
	case domain.DirectoryAddress:
		d.addresses.Delete(domain.NormalizeAddress(key))
	case domain.DirectoryDomain:
		d.domains.Delete(domain.NormalizeDomain(key))
	}
}
