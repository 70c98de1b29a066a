package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/storage"
)

// Store 使用内存保存全部数据，用于开发环境与测试。
type Store struct {
	mu sync.RWMutex

	users    map[string]*domain.User // userID -> user
	byEmail  map[string]string       // email -> userID
	byInvite map[string]string       // invite token -> userID

	domains      map[string]*domain.MailDomain // domainID -> domain
	byDomainName map[string]string             // domain -> domainID

	addresses map[string]*domain.EmailAddress // addressID -> address
	byAddress map[string]string               // email -> addressID
	inboxes   map[string]*domain.Inbox        // inboxID -> inbox

	messages    map[string]*domain.Message      // messageID -> message
	order       map[string]uint64               // messageID -> 插入序号
	attachments map[string][]*domain.Attachment // messageID -> attachments

	threadKeys map[string]string // key -> threadID

	seq uint64
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:        make(map[string]*domain.User),
		byEmail:      make(map[string]string),
		byInvite:     make(map[string]string),
		domains:      make(map[string]*domain.MailDomain),
		byDomainName: make(map[string]string),
		addresses:    make(map[string]*domain.EmailAddress),
		byAddress:    make(map[string]string),
		inboxes:      make(map[string]*domain.Inbox),
		messages:     make(map[string]*domain.Message),
		order:        make(map[string]uint64),
		attachments:  make(map[string][]*domain.Attachment),
		threadKeys:   make(map[string]string),
	}
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }

// ========== 租户 ==========

func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.byEmail[email]; exists {
		return storage.ErrDuplicate
	}
	cp := *user
	s.users[user.ID] = &cp
	s.byEmail[email] = user.ID
	if user.InviteToken != nil {
		s.byInvite[*user.InviteToken] = user.ID
	}
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUserByInviteToken(ctx context.Context, token string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byInvite[token]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) UpdateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[user.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if old.InviteToken != nil {
		delete(s.byInvite, *old.InviteToken)
	}
	if user.InviteToken != nil {
		s.byInvite[*user.InviteToken] = user.ID
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *Store) ListUsers(context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteUserCascade(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}

	for msgID, m := range s.messages {
		if m.UserID == id {
			s.deleteMessageLocked(msgID)
		}
	}
	for addrID, a := range s.addresses {
		if a.UserID == id {
			delete(s.byAddress, a.Email)
			delete(s.addresses, addrID)
		}
	}
	for inboxID, in := range s.inboxes {
		if in.UserID == id {
			delete(s.inboxes, inboxID)
		}
	}
	for domainID, d := range s.domains {
		if d.UserID == id {
			delete(s.byDomainName, d.Domain)
			delete(s.domains, domainID)
		}
	}
	if user.InviteToken != nil {
		delete(s.byInvite, *user.InviteToken)
	}
	delete(s.byEmail, strings.ToLower(user.Email))
	delete(s.users, id)
	return nil
}

// ========== 域名 ==========

func (s *Store) CreateDomain(_ context.Context, d *domain.MailDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDomainName[d.Domain]; exists {
		return storage.ErrDuplicate
	}
	cp := *d
	s.domains[d.ID] = &cp
	s.byDomainName[d.Domain] = d.ID
	return nil
}

func (s *Store) GetDomain(_ context.Context, tenantID, id string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok || d.UserID != tenantID {
		return nil, storage.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) GetDomainByName(_ context.Context, name string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDomainName[strings.ToLower(name)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.domains[id]
	return &cp, nil
}

func (s *Store) ListDomains(_ context.Context, tenantID string) ([]*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.MailDomain, 0)
	for _, d := range s.domains {
		if d.UserID == tenantID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteDomain(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok || d.UserID != tenantID {
		return storage.ErrNotFound
	}
	delete(s.byDomainName, d.Domain)
	delete(s.domains, id)
	return nil
}

func (s *Store) CountAddressesByDomain(_ context.Context, domainID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.addresses {
		if a.DomainID == domainID {
			n++
		}
	}
	return n, nil
}

// ========== 地址与收件箱 ==========

func (s *Store) CreateAddressWithInbox(_ context.Context, addr *domain.EmailAddress, inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAddress[addr.Email]; exists {
		return storage.ErrDuplicate
	}
	a := *addr
	in := *inbox
	s.addresses[a.ID] = &a
	s.byAddress[a.Email] = a.ID
	s.inboxes[in.ID] = &in
	return nil
}

func (s *Store) GetAddress(_ context.Context, tenantID, id string) (*domain.EmailAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.addresses[id]
	if !ok || a.UserID != tenantID {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAddressByEmail(_ context.Context, email string) (*domain.EmailAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.addresses[id]
	return &cp, nil
}

func (s *Store) ListAddresses(_ context.Context, tenantID string) ([]*domain.EmailAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.EmailAddress, 0)
	for _, a := range s.addresses {
		if a.UserID == tenantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountAddresses(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.addresses {
		if a.UserID == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteAddressWithInbox(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[id]
	if !ok || a.UserID != tenantID {
		return storage.ErrNotFound
	}
	delete(s.inboxes, a.InboxID)
	delete(s.byAddress, a.Email)
	delete(s.addresses, id)
	return nil
}

func (s *Store) GetInbox(_ context.Context, tenantID, id string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.inboxes[id]
	if !ok || in.UserID != tenantID {
		return nil, storage.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *Store) ListInboxes(_ context.Context, tenantID string) ([]*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Inbox, 0)
	for _, in := range s.inboxes {
		if in.UserID == tenantID {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RenameInbox(_ context.Context, tenantID, id, name string) (*domain.Inbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.inboxes[id]
	if !ok || in.UserID != tenantID {
		return nil, storage.ErrNotFound
	}
	in.Name = name
	cp := *in
	return &cp, nil
}

// ========== 邮件 ==========

func (s *Store) CreateMessage(_ context.Context, msg *domain.Message, attachments []*domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return storage.ErrDuplicate
	}
	s.seq++
	s.messages[msg.ID] = msg.Clone()
	s.order[msg.ID] = s.seq
	for _, att := range attachments {
		cp := *att
		s.attachments[msg.ID] = append(s.attachments[msg.ID], &cp)
	}
	return nil
}

func (s *Store) GetMessage(_ context.Context, tenantID, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok || m.UserID != tenantID {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) ListMessages(_ context.Context, tenantID string, filter domain.MessageFilter) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if m.UserID != tenantID || !matchFilter(m, filter) {
			continue
		}
		out = append(out, m)
	}
	s.sortLocked(out, false)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return cloneMessages(out), nil
}

func (s *Store) ListThread(_ context.Context, tenantID, threadID string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if m.UserID == tenantID && m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	s.sortLocked(out, true)
	return cloneMessages(out), nil
}

func (s *Store) UpdateMessage(_ context.Context, tenantID, id string, patch domain.MessagePatch, now time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.UserID != tenantID {
		return nil, storage.ErrNotFound
	}
	patch.Apply(m, now)
	return m.Clone(), nil
}

func (s *Store) FindThreadCandidates(_ context.Context, tenantID string, inboxID *string, subjectKeys []string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make(map[string]struct{}, len(subjectKeys))
	for _, k := range subjectKeys {
		keys[k] = struct{}{}
	}

	out := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if !m.InScope(tenantID, inboxID) {
			continue
		}
		if _, ok := keys[m.SubjectKey]; ok {
			out = append(out, m)
		}
	}
	s.sortLocked(out, true)
	return cloneMessages(out), nil
}

// ========== 附件 ==========

func (s *Store) AddAttachment(_ context.Context, att *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[att.MessageID]; !ok {
		return storage.ErrNotFound
	}
	cp := *att
	s.attachments[att.MessageID] = append(s.attachments[att.MessageID], &cp)
	return nil
}

func (s *Store) ListAttachments(_ context.Context, messageID string) ([]*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedAttachmentsLocked(messageID), nil
}

func (s *Store) ListAttachmentsForMessages(_ context.Context, messageIDs []string) (map[string][]*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]*domain.Attachment, len(messageIDs))
	for _, id := range messageIDs {
		out[id] = s.sortedAttachmentsLocked(id)
	}
	return out, nil
}

// ========== 线程键 ==========

func (s *Store) ClaimThreadKey(_ context.Context, key, threadID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.threadKeys[key]; ok {
		return existing, nil
	}
	s.threadKeys[key] = threadID
	return threadID, nil
}

// MessageCount 当前邮件总数
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) deleteMessageLocked(id string) {
	delete(s.messages, id)
	delete(s.order, id)
	delete(s.attachments, id)
}

// sortLocked 按创建时间排序，时间相同则按插入顺序。
func (s *Store) sortLocked(list []*domain.Message, ascending bool) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if ascending {
			return s.order[a.ID] < s.order[b.ID]
		}
		return s.order[a.ID] > s.order[b.ID]
	})
}

func (s *Store) sortedAttachmentsLocked(messageID string) []*domain.Attachment {
	list := s.attachments[messageID]
	out := make([]*domain.Attachment, 0, len(list))
	for _, a := range list {
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func matchFilter(m *domain.Message, f domain.MessageFilter) bool {
	if f.Unassigned && m.InboxID != nil {
		return false
	}
	if f.InboxID != nil && (m.InboxID == nil || *m.InboxID != *f.InboxID) {
		return false
	}
	if f.Folder != nil && m.Folder != *f.Folder {
		return false
	}
	if f.Starred != nil && m.IsStarred != *f.Starred {
		return false
	}
	return true
}

func cloneMessages(list []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

var _ storage.Store = (*Store)(nil)
