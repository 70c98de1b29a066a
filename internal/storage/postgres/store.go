package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/storage"
)

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 GORM 的关系型存储，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例并自动迁移
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.MailDomain{},
		&domain.EmailAddress{},
		&domain.Inbox{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.ThreadKey{},
	)
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ========== 租户 ==========

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	user.Email = strings.ToLower(user.Email)
	return mapError(s.db.WithContext(ctx).Create(user).Error)
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.firstUser(ctx, "id = ?", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.firstUser(ctx, "email = ?", strings.ToLower(email))
}

func (s *Store) GetUserByInviteToken(ctx context.Context, token string) (*domain.User, error) {
	return s.firstUser(ctx, "invite_token = ?", token)
}

func (s *Store) firstUser(ctx context.Context, cond string, arg any) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&user).Error; err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	res := s.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"display_name":      user.DisplayName,
		"password_hash":     user.PasswordHash,
		"role":              user.Role,
		"recovery_email":    user.RecoveryEmail,
		"permanent_domain":  user.PermanentDomain,
		"invite_token":      user.InviteToken,
		"invite_expires_at": user.InviteExpiresAt,
		"updated_at":        user.UpdatedAt,
		"last_login_at":     user.LastLoginAt,
	})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL 在值未变化时返回 0 行
		_, err := s.GetUser(ctx, user.ID)
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&users).Error
	return users, err
}

func (s *Store) DeleteUserCascade(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgIDs := tx.Model(&domain.Message{}).Select("id").Where("user_id = ?", id)
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		for _, model := range []any{&domain.Message{}, &domain.Inbox{}, &domain.EmailAddress{}, &domain.MailDomain{}} {
			if err := tx.Where("user_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return affected(tx.Where("id = ?", id).Delete(&domain.User{}))
	})
}

// ========== 域名 ==========

func (s *Store) CreateDomain(ctx context.Context, d *domain.MailDomain) error {
	d.Domain = strings.ToLower(d.Domain)
	return mapError(s.db.WithContext(ctx).Create(d).Error)
}

func (s *Store) GetDomain(ctx context.Context, tenantID, id string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, tenantID).First(&d).Error; err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := s.db.WithContext(ctx).Where("domain = ?", strings.ToLower(name)).First(&d).Error; err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) ListDomains(ctx context.Context, tenantID string) ([]*domain.MailDomain, error) {
	list := []*domain.MailDomain{}
	err := s.db.WithContext(ctx).Where("user_id = ?", tenantID).Order("created_at DESC, id DESC").Find(&list).Error
	return list, err
}

func (s *Store) DeleteDomain(ctx context.Context, tenantID, id string) error {
	return affected(s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, tenantID).Delete(&domain.MailDomain{}))
}

func (s *Store) CountAddressesByDomain(ctx context.Context, domainID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.EmailAddress{}).Where("domain_id = ?", domainID).Count(&n).Error
	return int(n), err
}

// ========== 地址与收件箱 ==========

func (s *Store) CreateAddressWithInbox(ctx context.Context, addr *domain.EmailAddress, inbox *domain.Inbox) error {
	addr.Email = strings.ToLower(addr.Email)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inbox).Error; err != nil {
			return mapError(err)
		}
		return mapError(tx.Create(addr).Error)
	})
}

func (s *Store) GetAddress(ctx context.Context, tenantID, id string) (*domain.EmailAddress, error) {
	var a domain.EmailAddress
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, tenantID).First(&a).Error; err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *Store) GetAddressByEmail(ctx context.Context, email string) (*domain.EmailAddress, error) {
	var a domain.EmailAddress
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&a).Error; err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *Store) ListAddresses(ctx context.Context, tenantID string) ([]*domain.EmailAddress, error) {
	list := []*domain.EmailAddress{}
	err := s.db.WithContext(ctx).Where("user_id = ?", tenantID).Order("created_at DESC, id DESC").Find(&list).Error
	return list, err
}

func (s *Store) CountAddresses(ctx context.Context, tenantID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.EmailAddress{}).Where("user_id = ?", tenantID).Count(&n).Error
	return int(n), err
}

func (s *Store) DeleteAddressWithInbox(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a domain.EmailAddress
		if err := tx.Where("id = ? AND user_id = ?", id, tenantID).First(&a).Error; err != nil {
			return mapError(err)
		}
		if err := tx.Delete(&domain.EmailAddress{}, "id = ?", a.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Inbox{}, "id = ?", a.InboxID).Error
	})
}

func (s *Store) GetInbox(ctx context.Context, tenantID, id string) (*domain.Inbox, error) {
	var in domain.Inbox
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, tenantID).First(&in).Error; err != nil {
		return nil, mapError(err)
	}
	return &in, nil
}

func (s *Store) ListInboxes(ctx context.Context, tenantID string) ([]*domain.Inbox, error) {
	list := []*domain.Inbox{}
	err := s.db.WithContext(ctx).Where("user_id = ?", tenantID).Order("created_at DESC, id DESC").Find(&list).Error
	return list, err
}

func (s *Store) RenameInbox(ctx context.Context, tenantID, id, name string) (*domain.Inbox, error) {
	res := s.db.WithContext(ctx).Model(&domain.Inbox{}).Where("id = ? AND user_id = ?", id, tenantID).Update("name", name)
	if res.Error != nil {
		return nil, mapError(res.Error)
	}
	return s.GetInbox(ctx, tenantID, id)
}

// ========== 邮件 ==========

func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message, attachments []*domain.Attachment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return mapError(err)
		}
		if len(attachments) == 0 {
			return nil
		}
		for _, a := range attachments {
			a.MessageID = msg.ID
		}
		return mapError(tx.Create(&attachments).Error)
	})
}

func (s *Store) GetMessage(ctx context.Context, tenantID, id string) (*domain.Message, error) {
	var m domain.Message
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, tenantID).First(&m).Error; err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, tenantID string, f domain.MessageFilter) ([]*domain.Message, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", tenantID)
	if f.Unassigned {
		query = query.Where("inbox_id IS NULL")
	}
	if f.InboxID != nil {
		query = query.Where("inbox_id = ?", *f.InboxID)
	}
	if f.Folder != nil {
		query = query.Where("folder = ?", *f.Folder)
	}
	if f.Starred != nil {
		query = query.Where("is_starred = ?", *f.Starred)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	list := []*domain.Message{}
	err := query.Order("created_at DESC, id DESC").Find(&list).Error
	return list, err
}

func (s *Store) ListThread(ctx context.Context, tenantID, threadID string) ([]*domain.Message, error) {
	list := []*domain.Message{}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", tenantID, threadID).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (s *Store) UpdateMessage(ctx context.Context, tenantID, id string, patch domain.MessagePatch, now time.Time) (*domain.Message, error) {
	var out domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", id, tenantID).First(&out).Error; err != nil {
			return mapError(err)
		}
		if patch.Empty() {
			return nil
		}
		patch.Apply(&out, now.UTC())
		return tx.Model(&domain.Message{}).Where("id = ?", id).Updates(map[string]any{
			"is_read":    out.IsRead,
			"folder":     out.Folder,
			"is_starred": out.IsStarred,
			"updated_at": out.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) FindThreadCandidates(ctx context.Context, tenantID string, inboxID *string, subjectKeys []string) ([]*domain.Message, error) {
	list := []*domain.Message{}
	if len(subjectKeys) == 0 {
		return list, nil
	}
	query := s.db.WithContext(ctx).Where("user_id = ? AND subject_key IN ?", tenantID, subjectKeys)
	if inboxID == nil {
		query = query.Where("inbox_id IS NULL")
	} else {
		query = query.Where("inbox_id = ?", *inboxID)
	}
	err := query.Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

// ========== 附件 ==========

func (s *Store) AddAttachment(ctx context.Context, att *domain.Attachment) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", att.MessageID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return mapError(s.db.WithContext(ctx).Create(att).Error)
}

func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	list := []*domain.Attachment{}
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC, position ASC").
		Find(&list).Error
	return list, err
}

func (s *Store) ListAttachmentsForMessages(ctx context.Context, messageIDs []string) (map[string][]*domain.Attachment, error) {
	grouped := make(map[string][]*domain.Attachment, len(messageIDs))
	if len(messageIDs) == 0 {
		return grouped, nil
	}
	var list []*domain.Attachment
	if err := s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC, position ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	for _, a := range list {
		grouped[a.MessageID] = append(grouped[a.MessageID], a)
	}
	return grouped, nil
}

// ========== 线程键 ==========

func (s *Store) ClaimThreadKey(ctx context.Context, key, threadID string) (string, error) {
	db := s.db.WithContext(ctx)
	candidate := domain.ThreadKey{Key: key, ThreadID: threadID, CreatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return "", err
	}
	var winner domain.ThreadKey
	if err := db.Where("thread_key = ?", key).First(&winner).Error; err != nil {
		return "", mapError(err)
	}
	return winner.ThreadID, nil
}

// mapError 将驱动错误转换为 storage 哨兵错误
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", storage.ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, pgErr.ConstraintName)
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, myErr.Message)
	}
	return err
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
