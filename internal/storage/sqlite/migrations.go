package sqlite

// migration 一次带版本号的结构变更
type migration struct {
	version int
	sql     string
}

// migrations 按版本顺序执行，版本号从 1 连续递增。
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	display_name      TEXT NOT NULL DEFAULT '',
	password_hash     TEXT NOT NULL DEFAULT '',
	role              TEXT NOT NULL DEFAULT 'user',
	recovery_email    TEXT,
	permanent_domain  TEXT,
	invite_token      TEXT UNIQUE,
	invite_expires_at DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	last_login_at     DATETIME
);

CREATE TABLE IF NOT EXISTS domains (
	id         TEXT PRIMARY KEY,
	domain     TEXT NOT NULL UNIQUE,
	user_id    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS email_addresses (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	domain_id  TEXT NOT NULL,
	domain     TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	inbox_id   TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS inboxes (
	id         TEXT PRIMARY KEY,
	email_id   TEXT NOT NULL UNIQUE,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	inbox_id     TEXT,
	direction    TEXT NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	subject_key  TEXT NOT NULL DEFAULT '',
	from_address TEXT,
	recipients   TEXT NOT NULL DEFAULT '[]',
	thread_id    TEXT NOT NULL,
	preview_text TEXT NOT NULL DEFAULT '',
	body_plain   TEXT,
	body_html    TEXT,
	status       TEXT NOT NULL,
	folder       TEXT NOT NULL DEFAULT 'inbox',
	is_read      INTEGER NOT NULL DEFAULT 0,
	is_starred   INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename   TEXT NOT NULL DEFAULT '',
	mimetype   TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	url        TEXT NOT NULL,
	position   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_domains_user ON domains(user_id);
CREATE INDEX IF NOT EXISTS idx_addresses_user ON email_addresses(user_id);
CREATE INDEX IF NOT EXISTS idx_addresses_domain ON email_addresses(domain_id);
CREATE INDEX IF NOT EXISTS idx_inboxes_user ON inboxes(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_scope ON messages(user_id, inbox_id, subject_key);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(user_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS thread_keys (
	thread_key TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
