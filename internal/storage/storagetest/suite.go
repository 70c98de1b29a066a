// Package storagetest 为各存储实现提供统一的行为测试。
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/storage"
	"freemail/backend/internal/thread"
)

// Factory 为每个子测试创建一个空存储
type Factory func(t *testing.T) storage.Store

// Run 执行全部存储行为测试
func Run(t *testing.T, newStore Factory) {
	t.Run("租户与域名", func(t *testing.T) { testUsersAndDomains(t, newStore(t)) })
	t.Run("地址与收件箱成对创建删除", func(t *testing.T) { testAddresses(t, newStore(t)) })
	t.Run("邮件排序与过滤", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("跨租户隔离", func(t *testing.T) { testIsolation(t, newStore(t)) })
	t.Run("附件按创建顺序返回", func(t *testing.T) { testAttachments(t, newStore(t)) })
	t.Run("线程候选与线程键", func(t *testing.T) { testThreading(t, newStore(t)) })
	t.Run("级联删除租户", func(t *testing.T) { testCascade(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewUser 构造测试租户
func NewUser(email string) *domain.User {
	return &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      domain.RoleUser,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

// NewMessage 构造测试邮件
func NewMessage(tenantID string, inboxID *string, subject string, at time.Time) *domain.Message {
	id := uuid.NewString()
	return &domain.Message{
		ID:          id,
		UserID:      tenantID,
		InboxID:     inboxID,
		Direction:   domain.DirectionInbound,
		Subject:     subject,
		SubjectKey:  thread.SubjectKey(subject),
		Recipients:  domain.StringList{"alice@tenant1.example"},
		ThreadID:    id,
		PreviewText: "hello",
		Status:      domain.StatusReceived,
		Folder:      domain.FolderInbox,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func provision(t *testing.T, s storage.Store, tenantID, email string) (*domain.EmailAddress, *domain.Inbox) {
	t.Helper()
	ctx := context.Background()

	name := domain.DomainOf(email)
	d, err := s.GetDomainByName(ctx, name)
	if err != nil {
		d = &domain.MailDomain{ID: uuid.NewString(), Domain: name, UserID: tenantID, CreatedAt: base}
		require.NoError(t, s.CreateDomain(ctx, d))
	}

	addrID, inboxID := uuid.NewString(), uuid.NewString()
	addr := &domain.EmailAddress{ID: addrID, Email: email, DomainID: d.ID, Domain: name, UserID: tenantID, InboxID: inboxID, CreatedAt: base}
	inbox := &domain.Inbox{ID: inboxID, EmailID: addrID, UserID: tenantID, Name: email, CreatedAt: base}
	require.NoError(t, s.CreateAddressWithInbox(ctx, addr, inbox))
	return addr, inbox
}

func testUsersAndDomains(t *testing.T, s storage.Store) {
	ctx := context.Background()

	u := NewUser("Owner@Example.com")
	u.Email = "owner@example.com"
	token := "invite-token"
	expires := base.Add(time.Hour)
	u.InviteToken, u.InviteExpiresAt = &token, &expires
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, NewUser("owner@example.com")), storage.ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, "OWNER@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.GetUserByInviteToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got.InviteToken, got.InviteExpiresAt = nil, nil
	got.PasswordHash = "hash"
	require.NoError(t, s.UpdateUser(ctx, got))
	_, err = s.GetUserByInviteToken(ctx, token)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	d := &domain.MailDomain{ID: uuid.NewString(), Domain: "tenant1.example", UserID: u.ID, CreatedAt: base}
	require.NoError(t, s.CreateDomain(ctx, d))
	dup := &domain.MailDomain{ID: uuid.NewString(), Domain: "tenant1.example", UserID: "someone-else", CreatedAt: base}
	assert.ErrorIs(t, s.CreateDomain(ctx, dup), storage.ErrDuplicate)

	byName, err := s.GetDomainByName(ctx, "TENANT1.example")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.UserID)

	_, err = s.GetDomain(ctx, "someone-else", d.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.ListDomains(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, s.DeleteDomain(ctx, "someone-else", d.ID), storage.ErrNotFound)
	require.NoError(t, s.DeleteDomain(ctx, u.ID, d.ID))
	_, err = s.GetDomainByName(ctx, "tenant1.example")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testAddresses(t *testing.T, s storage.Store) {
	ctx := context.Background()

	addr, inbox := provision(t, s, "t1", "alice@tenant1.example")
	assert.Equal(t, inbox.ID, addr.InboxID)

	got, err := s.GetAddressByEmail(ctx, "ALICE@tenant1.example")
	require.NoError(t, err)
	assert.Equal(t, addr.ID, got.ID)
	assert.Equal(t, inbox.ID, got.InboxID)

	gotInbox, err := s.GetInbox(ctx, "t1", inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, addr.ID, gotInbox.EmailID)

	dupAddr := &domain.EmailAddress{ID: uuid.NewString(), Email: addr.Email, DomainID: addr.DomainID, Domain: addr.Domain, UserID: "t1", InboxID: uuid.NewString(), CreatedAt: base}
	dupInbox := &domain.Inbox{ID: dupAddr.InboxID, EmailID: dupAddr.ID, UserID: "t1", CreatedAt: base}
	assert.ErrorIs(t, s.CreateAddressWithInbox(ctx, dupAddr, dupInbox), storage.ErrDuplicate)
	_, err = s.GetInbox(ctx, "t1", dupInbox.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "失败的成对创建不应留下收件箱")

	n, err := s.CountAddressesByDomain(ctx, addr.DomainID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	renamed, err := s.RenameInbox(ctx, "t1", inbox.ID, "Alice main")
	require.NoError(t, err)
	assert.Equal(t, "Alice main", renamed.Name)
	_, err = s.RenameInbox(ctx, "t2", inbox.ID, "stolen")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.DeleteAddressWithInbox(ctx, "t2", addr.ID), storage.ErrNotFound)
	require.NoError(t, s.DeleteAddressWithInbox(ctx, "t1", addr.ID))

	_, err = s.GetInbox(ctx, "t1", inbox.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetAddressByEmail(ctx, addr.Email)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	count, err := s.CountAddresses(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testMessages(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, inbox := provision(t, s, "t1", "alice@tenant1.example")

	first := NewMessage("t1", &inbox.ID, "first", base)
	second := NewMessage("t1", &inbox.ID, "second", base.Add(time.Minute))
	loose := NewMessage("t1", nil, "unrouted", base.Add(2*time.Minute))
	second.IsStarred = true
	for _, m := range []*domain.Message{first, second, loose} {
		require.NoError(t, s.CreateMessage(ctx, m, nil))
	}

	all, err := s.ListMessages(ctx, "t1", domain.MessageFilter{Limit: 25})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{loose.ID, second.ID, first.ID}, ids(all))

	limited, err := s.ListMessages(ctx, "t1", domain.MessageFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{loose.ID}, ids(limited))

	byInbox, err := s.ListMessages(ctx, "t1", domain.MessageFilter{InboxID: &inbox.ID, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, ids(byInbox))

	unassigned, err := s.ListMessages(ctx, "t1", domain.MessageFilter{Unassigned: true, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, []string{loose.ID}, ids(unassigned))

	starred := true
	onlyStarred, err := s.ListMessages(ctx, "t1", domain.MessageFilter{Starred: &starred, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(onlyStarred))

	read := true
	archive := domain.FolderArchive
	now := base.Add(time.Hour)
	updated, err := s.UpdateMessage(ctx, "t1", first.ID, domain.MessagePatch{IsRead: &read, Folder: &archive}, now)
	require.NoError(t, err)
	assert.True(t, updated.IsRead)
	assert.Equal(t, domain.FolderArchive, updated.Folder)
	assert.True(t, updated.UpdatedAt.Equal(now))

	got, err := s.GetMessage(ctx, "t1", first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.Equal(t, first.Subject, got.Subject, "补丁不应修改其它字段")
	assert.Equal(t, domain.StringList{"alice@tenant1.example"}, got.Recipients)

	folder, err := s.ListMessages(ctx, "t1", domain.MessageFilter{Folder: &archive, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids(folder))
}

func testIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, inbox1 := provision(t, s, "t1", "alice@tenant1.example")
	_, inbox2 := provision(t, s, "t2", "bob@tenant2.example")

	mine := NewMessage("t1", &inbox1.ID, "mine", base)
	theirs := NewMessage("t2", &inbox2.ID, "theirs", base)
	require.NoError(t, s.CreateMessage(ctx, mine, nil))
	require.NoError(t, s.CreateMessage(ctx, theirs, nil))

	list, err := s.ListMessages(ctx, "t1", domain.MessageFilter{InboxID: &inbox2.ID, Limit: 25})
	require.NoError(t, err)
	assert.Empty(t, list, "他人收件箱 ID 不应泄露邮件")

	_, err = s.GetMessage(ctx, "t1", theirs.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	read := true
	_, err = s.UpdateMessage(ctx, "t1", theirs.ID, domain.MessagePatch{IsRead: &read}, base)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.UpdateMessage(ctx, "t1", "does-not-exist", domain.MessagePatch{IsRead: &read}, base)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	thread, err := s.ListThread(ctx, "t1", theirs.ThreadID)
	require.NoError(t, err)
	assert.Empty(t, thread)

	untouched, err := s.GetMessage(ctx, "t2", theirs.ID)
	require.NoError(t, err)
	assert.False(t, untouched.IsRead)
}

func testAttachments(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := NewMessage("t1", nil, "files", base)
	atts := []*domain.Attachment{
		{ID: uuid.NewString(), MessageID: m.ID, Filename: "a.pdf", MimeType: "application/pdf", SizeBytes: 10, URL: "https://files.example/a.pdf", Position: 0, CreatedAt: base},
		{ID: uuid.NewString(), MessageID: m.ID, Filename: "b.png", MimeType: "image/png", SizeBytes: 20, URL: "https://files.example/b.png", Position: 1, CreatedAt: base},
	}
	require.NoError(t, s.CreateMessage(ctx, m, atts))

	later := &domain.Attachment{ID: uuid.NewString(), MessageID: m.ID, Filename: "c.txt", MimeType: "text/plain", SizeBytes: 3, URL: "https://files.example/c.txt", CreatedAt: base.Add(time.Second)}
	require.NoError(t, s.AddAttachment(ctx, later))

	list, err := s.ListAttachments(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a.pdf", list[0].Filename)
	assert.Equal(t, "b.png", list[1].Filename)
	assert.Equal(t, "c.txt", list[2].Filename)
	assert.Equal(t, int64(20), list[1].SizeBytes)

	grouped, err := s.ListAttachmentsForMessages(ctx, []string{m.ID, "other"})
	require.NoError(t, err)
	assert.Len(t, grouped[m.ID], 3)
	assert.Empty(t, grouped["other"])
}

func testThreading(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, inbox := provision(t, s, "t1", "alice@tenant1.example")

	root := NewMessage("t1", &inbox.ID, "Quarterly Update", base)
	reply := NewMessage("t1", &inbox.ID, "RE:  quarterly update", base.Add(time.Minute))
	reply.ThreadID = root.ID
	elsewhere := NewMessage("t1", nil, "Quarterly Update", base)
	other := NewMessage("t2", &inbox.ID, "Quarterly Update", base)
	for _, m := range []*domain.Message{reply, root, elsewhere, other} {
		require.NoError(t, s.CreateMessage(ctx, m, nil))
	}

	found, err := s.FindThreadCandidates(ctx, "t1", &inbox.ID, thread.MatchKeys("Quarterly Update"))
	require.NoError(t, err)
	assert.Equal(t, []string{root.ID, reply.ID}, ids(found))

	found, err = s.FindThreadCandidates(ctx, "t1", nil, thread.MatchKeys("Quarterly Update"))
	require.NoError(t, err)
	assert.Equal(t, []string{elsewhere.ID}, ids(found))

	list, err := s.ListThread(ctx, "t1", root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{root.ID, reply.ID}, ids(list))

	winner, err := s.ClaimThreadKey(ctx, "k1", "thread-a")
	require.NoError(t, err)
	assert.Equal(t, "thread-a", winner)
	winner, err = s.ClaimThreadKey(ctx, "k1", "thread-b")
	require.NoError(t, err)
	assert.Equal(t, "thread-a", winner)
}

func testCascade(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser("owner@tenant1.example")
	require.NoError(t, s.CreateUser(ctx, u))
	addr, inbox := provision(t, s, u.ID, "alice@tenant1.example")
	m := NewMessage(u.ID, &inbox.ID, "bye", base)
	require.NoError(t, s.CreateMessage(ctx, m, []*domain.Attachment{
		{ID: uuid.NewString(), MessageID: m.ID, Filename: "x", URL: "https://files.example/x", CreatedAt: base},
	}))

	require.NoError(t, s.DeleteUserCascade(ctx, u.ID))

	_, err := s.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetAddressByEmail(ctx, addr.Email)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetDomainByName(ctx, addr.Domain)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetMessage(ctx, u.ID, m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	atts, err := s.ListAttachments(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)

	assert.ErrorIs(t, s.DeleteUserCascade(ctx, u.ID), storage.ErrNotFound)
}

func ids(list []*domain.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}
