// Package sqlite 提供基于 SQLite 的单机存储实现。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/storage"
)

// Store SQLite 存储实现
type Store struct {
	db *sqlx.DB
}

// NewStore 打开（或创建）path 处的数据库，启用 WAL 与外键并执行迁移。
// path 为 ":memory:" 时使用单连接内存库。
func NewStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// SchemaVersion 当前结构版本
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return v, err
}

func (s *Store) runMigrations() error {
	current := 0

	var tableCount int
	err := s.db.Get(&tableCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Health 检查连接
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// ========== 租户 ==========

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role, recovery_email, permanent_domain,
			invite_token, invite_expires_at, created_at, updated_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.DisplayName, u.PasswordHash, string(u.Role), u.RecoveryEmail, u.PermanentDomain,
		u.InviteToken, utcPtr(u.InviteExpiresAt), u.CreatedAt.UTC(), u.UpdatedAt.UTC(), utcPtr(u.LastLoginAt))
	return mapError(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE id = ?", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE email = ?", strings.ToLower(email))
}

func (s *Store) GetUserByInviteToken(ctx context.Context, token string) (*domain.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE invite_token = ?", token)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	if err := s.db.GetContext(ctx, &u, query, arg); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, password_hash = ?, role = ?, recovery_email = ?, permanent_domain = ?,
			invite_token = ?, invite_expires_at = ?, updated_at = ?, last_login_at = ?
		WHERE id = ?`,
		u.DisplayName, u.PasswordHash, string(u.Role), u.RecoveryEmail, u.PermanentDomain,
		u.InviteToken, utcPtr(u.InviteExpiresAt), u.UpdatedAt.UTC(), utcPtr(u.LastLoginAt), u.ID)
	return affected(res, err)
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var out []*domain.User
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM users ORDER BY created_at DESC, rowid DESC"); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteUserCascade(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmts := []string{
			"DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE user_id = ?)",
			"DELETE FROM messages WHERE user_id = ?",
			"DELETE FROM inboxes WHERE user_id = ?",
			"DELETE FROM email_addresses WHERE user_id = ?",
			"DELETE FROM domains WHERE user_id = ?",
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
		return affected(res, err)
	})
}

// ========== 域名 ==========

func (s *Store) CreateDomain(ctx context.Context, d *domain.MailDomain) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO domains (id, domain, user_id, created_at) VALUES (?, ?, ?, ?)",
		d.ID, strings.ToLower(d.Domain), d.UserID, d.CreatedAt.UTC())
	return mapError(err)
}

func (s *Store) GetDomain(ctx context.Context, tenantID, id string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := s.db.GetContext(ctx, &d, "SELECT * FROM domains WHERE id = ? AND user_id = ?", id, tenantID); err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := s.db.GetContext(ctx, &d, "SELECT * FROM domains WHERE domain = ?", strings.ToLower(name)); err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) ListDomains(ctx context.Context, tenantID string) ([]*domain.MailDomain, error) {
	out := []*domain.MailDomain{}
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM domains WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", tenantID)
	return out, err
}

func (s *Store) DeleteDomain(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM domains WHERE id = ? AND user_id = ?", id, tenantID)
	return affected(res, err)
}

func (s *Store) CountAddressesByDomain(ctx context.Context, domainID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM email_addresses WHERE domain_id = ?", domainID)
	return n, err
}

// ========== 地址与收件箱 ==========

func (s *Store) CreateAddressWithInbox(ctx context.Context, addr *domain.EmailAddress, inbox *domain.Inbox) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO inboxes (id, email_id, user_id, name, created_at) VALUES (?, ?, ?, ?, ?)",
			inbox.ID, inbox.EmailID, inbox.UserID, inbox.Name, inbox.CreatedAt.UTC()); err != nil {
			return mapError(err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO email_addresses (id, email, domain_id, domain, user_id, inbox_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			addr.ID, strings.ToLower(addr.Email), addr.DomainID, addr.Domain, addr.UserID, addr.InboxID, addr.CreatedAt.UTC())
		return mapError(err)
	})
}

func (s *Store) GetAddress(ctx context.Context, tenantID, id string) (*domain.EmailAddress, error) {
	var a domain.EmailAddress
	if err := s.db.GetContext(ctx, &a, "SELECT * FROM email_addresses WHERE id = ? AND user_id = ?", id, tenantID); err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *Store) GetAddressByEmail(ctx context.Context, email string) (*domain.EmailAddress, error) {
	var a domain.EmailAddress
	if err := s.db.GetContext(ctx, &a, "SELECT * FROM email_addresses WHERE email = ?", strings.ToLower(email)); err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *Store) ListAddresses(ctx context.Context, tenantID string) ([]*domain.EmailAddress, error) {
	out := []*domain.EmailAddress{}
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM email_addresses WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", tenantID)
	return out, err
}

func (s *Store) CountAddresses(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM email_addresses WHERE user_id = ?", tenantID)
	return n, err
}

func (s *Store) DeleteAddressWithInbox(ctx context.Context, tenantID, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var inboxID string
		if err := tx.GetContext(ctx, &inboxID, "SELECT inbox_id FROM email_addresses WHERE id = ? AND user_id = ?", id, tenantID); err != nil {
			return mapError(err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM email_addresses WHERE id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM inboxes WHERE id = ?", inboxID)
		return err
	})
}

func (s *Store) GetInbox(ctx context.Context, tenantID, id string) (*domain.Inbox, error) {
	var in domain.Inbox
	if err := s.db.GetContext(ctx, &in, "SELECT * FROM inboxes WHERE id = ? AND user_id = ?", id, tenantID); err != nil {
		return nil, mapError(err)
	}
	return &in, nil
}

func (s *Store) ListInboxes(ctx context.Context, tenantID string) ([]*domain.Inbox, error) {
	out := []*domain.Inbox{}
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM inboxes WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", tenantID)
	return out, err
}

func (s *Store) RenameInbox(ctx context.Context, tenantID, id, name string) (*domain.Inbox, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE inboxes SET name = ? WHERE id = ? AND user_id = ?", name, id, tenantID)
	if err := affected(res, err); err != nil {
		return nil, err
	}
	return s.GetInbox(ctx, tenantID, id)
}

// ========== 邮件 ==========

const insertMessage = `
	INSERT INTO messages (id, user_id, inbox_id, direction, subject, subject_key, from_address, recipients,
		thread_id, preview_text, body_plain, body_html, status, folder, is_read, is_starred, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertAttachment = `
	INSERT INTO attachments (id, message_id, filename, mimetype, size_bytes, url, position, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) CreateMessage(ctx context.Context, m *domain.Message, attachments []*domain.Attachment) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, insertMessage,
			m.ID, m.UserID, m.InboxID, string(m.Direction), m.Subject, m.SubjectKey, m.FromAddress, m.Recipients,
			m.ThreadID, m.PreviewText, m.BodyPlain, m.BodyHTML, string(m.Status), m.Folder, m.IsRead, m.IsStarred,
			m.CreatedAt.UTC(), m.UpdatedAt.UTC())
		if err != nil {
			return mapError(err)
		}
		if len(attachments) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, insertAttachment)
		if err != nil {
			return fmt.Errorf("preparing attachment statement: %w", err)
		}
		defer stmt.Close()

		for _, a := range attachments {
			if _, err := stmt.ExecContext(ctx, a.ID, m.ID, a.Filename, a.MimeType, a.SizeBytes, a.URL, a.Position, a.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("inserting attachment %s: %w", a.ID, mapError(err))
			}
		}
		return nil
	})
}

func (s *Store) GetMessage(ctx context.Context, tenantID, id string) (*domain.Message, error) {
	var m domain.Message
	if err := s.db.GetContext(ctx, &m, "SELECT * FROM messages WHERE id = ? AND user_id = ?", id, tenantID); err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, tenantID string, f domain.MessageFilter) ([]*domain.Message, error) {
	conditions := []string{"user_id = ?"}
	args := []any{tenantID}

	if f.Unassigned {
		conditions = append(conditions, "inbox_id IS NULL")
	}
	if f.InboxID != nil {
		conditions = append(conditions, "inbox_id = ?")
		args = append(args, *f.InboxID)
	}
	if f.Folder != nil {
		conditions = append(conditions, "folder = ?")
		args = append(args, *f.Folder)
	}
	if f.Starred != nil {
		conditions = append(conditions, "is_starred = ?")
		args = append(args, *f.Starred)
	}

	query := "SELECT * FROM messages WHERE " + strings.Join(conditions, " AND ") + " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	out := []*domain.Message{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListThread(ctx context.Context, tenantID, threadID string) ([]*domain.Message, error) {
	out := []*domain.Message{}
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM messages WHERE user_id = ? AND thread_id = ? ORDER BY created_at ASC, rowid ASC", tenantID, threadID)
	return out, err
}

func (s *Store) UpdateMessage(ctx context.Context, tenantID, id string, patch domain.MessagePatch, now time.Time) (*domain.Message, error) {
	var out *domain.Message
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var m domain.Message
		if err := tx.GetContext(ctx, &m, "SELECT * FROM messages WHERE id = ? AND user_id = ?", id, tenantID); err != nil {
			return mapError(err)
		}
		patch.Apply(&m, now.UTC())
		if _, err := tx.ExecContext(ctx,
			"UPDATE messages SET is_read = ?, folder = ?, is_starred = ?, updated_at = ? WHERE id = ?",
			m.IsRead, m.Folder, m.IsStarred, m.UpdatedAt.UTC(), id); err != nil {
			return err
		}
		out = &m
		return nil
	})
	return out, err
}

func (s *Store) FindThreadCandidates(ctx context.Context, tenantID string, inboxID *string, subjectKeys []string) ([]*domain.Message, error) {
	out := []*domain.Message{}
	if len(subjectKeys) == 0 {
		return out, nil
	}

	scope := "inbox_id IS NULL"
	args := []any{tenantID}
	if inboxID != nil {
		scope = "inbox_id = ?"
		args = append(args, *inboxID)
	}
	query, inArgs, err := sqlx.In(
		"SELECT * FROM messages WHERE user_id = ? AND "+scope+" AND subject_key IN (?) ORDER BY created_at ASC, rowid ASC",
		append(args, subjectKeys)...)
	if err != nil {
		return nil, err
	}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), inArgs...); err != nil {
		return nil, err
	}
	return out, nil
}

// ========== 附件 ==========

func (s *Store) AddAttachment(ctx context.Context, a *domain.Attachment) error {
	var exists int
	if err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM messages WHERE id = ?", a.MessageID); err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, insertAttachment,
		a.ID, a.MessageID, a.Filename, a.MimeType, a.SizeBytes, a.URL, a.Position, a.CreatedAt.UTC())
	return mapError(err)
}

func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	out := []*domain.Attachment{}
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM attachments WHERE message_id = ? ORDER BY created_at ASC, position ASC, rowid ASC", messageID)
	return out, err
}

func (s *Store) ListAttachmentsForMessages(ctx context.Context, messageIDs []string) (map[string][]*domain.Attachment, error) {
	grouped := make(map[string][]*domain.Attachment, len(messageIDs))
	if len(messageIDs) == 0 {
		return grouped, nil
	}
	query, args, err := sqlx.In(
		"SELECT * FROM attachments WHERE message_id IN (?) ORDER BY created_at ASC, position ASC, rowid ASC", messageIDs)
	if err != nil {
		return nil, err
	}
	var list []*domain.Attachment
	if err := s.db.SelectContext(ctx, &list, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, a := range list {
		grouped[a.MessageID] = append(grouped[a.MessageID], a)
	}
	return grouped, nil
}

// ========== 线程键 ==========

func (s *Store) ClaimThreadKey(ctx context.Context, key, threadID string) (string, error) {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO thread_keys (thread_key, thread_id, created_at) VALUES (?, ?, ?)",
		key, threadID, time.Now().UTC()); err != nil {
		return "", err
	}
	var winner string
	err := s.db.GetContext(ctx, &winner, "SELECT thread_id FROM thread_keys WHERE thread_key = ?", key)
	return winner, err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// mapError 将驱动错误转换为 storage 哨兵错误
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, se.Error())
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(se.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %s", storage.ErrDuplicate, se.Error())
			}
		}
	}
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ storage.Store = (*Store)(nil)
