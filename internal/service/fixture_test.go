package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/blob"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/relay"
	"freemail/backend/internal/storage/memory"
	"freemail/backend/internal/thread"
)

// fakeBlobs 内存对象存储；文件名出现在 failUploads 中时上传失败
type fakeBlobs struct {
	mu          sync.Mutex
	files       map[string][]byte
	failUploads map[string]bool
	uploads     int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: make(map[string][]byte), failUploads: make(map[string]bool)}
}

func (b *fakeBlobs) Upload(_ context.Context, filename string, content []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	if b.failUploads[filename] {
		return "", errors.New("catbox unavailable")
	}
	url := fmt.Sprintf("https://files.catbox.moe/%d-%s", len(b.files), filename)
	b.files[url] = append([]byte(nil), content...)
	return url, nil
}

func (b *fakeBlobs) Fetch(_ context.Context, url string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !strings.HasPrefix(url, "https://files.catbox.moe/") {
		return nil, fmt.Errorf("%w: %q", blob.ErrForeignURL, url)
	}
	content, ok := b.files[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: 404", url)
	}
	return content, nil
}

func (b *fakeBlobs) put(name string, content []byte) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	url := "https://files.catbox.moe/pre-" + name
	b.files[url] = content
	return url
}

// MockRelay 模拟外发中继
type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Send(ctx context.Context, msg *relay.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockRelay) Name() string { return "mock" }

// eventRecorder 记录推送的事件
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.MessageEvent
}

func (r *eventRecorder) Publish(_ context.Context, ev domain.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) list() []domain.MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MessageEvent(nil), r.events...)
}

// countingMetrics 统计管道指标
type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[key]++
}

func (m *countingMetrics) InboundDelivery(outcome string)     { m.inc("inbound:" + outcome) }
func (m *countingMetrics) AttachmentUpload(outcome string)    { m.inc("upload:" + outcome) }
func (m *countingMetrics) OutboundSend(relay, outcome string) { m.inc("outbound:" + relay + ":" + outcome) }

func (m *countingMetrics) get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// steppingClock 每次调用前进一秒
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	store     *memory.Store
	directory *Directory
	domains   *DomainService
	addresses *AddressService
	messages  *MessageService
	inbound   *InboundService
	outbound  *OutboundService
	blobs     *fakeBlobs
	relay     *MockRelay
	events    *eventRecorder
	metrics   *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	dir := NewDirectory(store, DirectoryOptions{}, nil)
	t.Cleanup(dir.Close)

	clock := steppingClock()
	f := &fixture{
		store:     store,
		directory: dir,
		blobs:     newFakeBlobs(),
		relay:     &MockRelay{},
		events:    &eventRecorder{},
		metrics:   &countingMetrics{},
	}
	f.domains = NewDomainService(store, dir, nil)
	f.domains.now = clock
	f.addresses = NewAddressService(store, dir, false, nil)
	f.addresses.now = clock
	f.messages = NewMessageService(store, thread.NewResolver(store), 25, 100, nil)
	f.messages.now = clock
	f.inbound = NewInboundService(dir, f.messages, f.blobs, f.events, f.metrics, nil)
	f.outbound = NewOutboundService(dir, f.messages, f.blobs, f.relay, f.events, f.metrics, nil)
	return f
}

// tenant 创建租户、认领域名并开通一个地址，返回地址与收件箱
func (f *fixture) tenant(t *testing.T, id, email string) (*domain.EmailAddress, *domain.Inbox) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.GetUser(ctx, id); err != nil {
		require.NoError(t, f.store.CreateUser(ctx, &domain.User{
			ID:        id,
			Email:     "owner-" + strings.ToLower(id) + "@login.example",
			Role:      domain.RoleUser,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}))
	}
	name := domain.DomainOf(email)
	if _, found, _ := f.directory.ResolveDomainOwner(ctx, name); !found {
		_, err := f.domains.Claim(ctx, id, name)
		require.NoError(t, err)
	}
	addr, inbox, err := f.addresses.Create(ctx, CreateAddressInput{TenantID: id, Email: email, Domain: name})
	require.NoError(t, err)
	return addr, inbox
}

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}
