package httptransport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/auth"
	"freemail/backend/internal/auth/jwt"
	"freemail/backend/internal/blob"
	"freemail/backend/internal/config"
	"freemail/backend/internal/relay"
	"freemail/backend/internal/security"
	"freemail/backend/internal/service"
	"freemail/backend/internal/storage/memory"
	"freemail/backend/internal/thread"
)

const (
	testSecret     = "webhook-shared-secret"
	testCookie     = "freemail_session"
	adminEmail     = "admin@login.example"
	adminPassword  = "admin-password-1"
	maxUploadBytes = 1024
)

// memBlobs 内存对象存储
type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (b *memBlobs) Upload(_ context.Context, filename string, content []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	url := fmt.Sprintf("https://files.catbox.moe/%d-%s", len(b.files), filename)
	b.files[url] = append([]byte(nil), content...)
	return url, nil
}

func (b *memBlobs) Fetch(_ context.Context, url string) ([]byte, error) {
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

// switchRelay 可切换成功或失败的中继
type switchRelay struct {
	mu   sync.Mutex
	fail bool
	sent []*relay.Message
}

func (r *switchRelay) Send(_ context.Context, msg *relay.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("smtp 421 service unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *switchRelay) Name() string { return "test" }

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	relay  *switchRelay
	auth   *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
		JWT:     config.JWTConfig{CookieName: testCookie},
		Webhook: config.WebhookConfig{Secret: testSecret, RatePerSecond: 1000, Burst: 1000},
	}

	store := memory.NewStore()
	dir := service.NewDirectory(store, service.DirectoryOptions{}, nil)
	t.Cleanup(dir.Close)

	blobs := &memBlobs{files: make(map[string][]byte)}
	rl := &switchRelay{}
	messages := service.NewMessageService(store, thread.NewResolver(store), 25, 100, nil)
	tokens := jwt.NewManager(strings.Repeat("k", 32), "freemail-test", 15*time.Minute, time.Hour)
	authSvc := auth.NewService(store, tokens, 72*time.Hour, nil)

	_, _, err := authSvc.EnsureAdmin(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)

	router := NewRouter(RouterDependencies{
		Config:          cfg,
		AuthService:     authSvc,
		DomainService:   service.NewDomainService(store, dir, nil),
		AddressService:  service.NewAddressService(store, dir, false, nil),
		MessageService:  messages,
		InboundService:  service.NewInboundService(dir, messages, blobs, nil, nil, nil),
		OutboundService: service.NewOutboundService(dir, messages, blobs, rl, nil, nil, nil),
		UploadService:   service.NewUploadService(blobs, security.NewUploadPolicy(maxUploadBytes), messages, nil),
	})
	return &testServer{router: router, store: store, relay: rl, auth: authSvc}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session struct {
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
	}
	data(t, w, &session)
	return session.Tokens.AccessToken
}

// tenant 通过邀请流程创建租户并返回访问令牌
func (s *testServer) tenant(t *testing.T, email string) string {
	t.Helper()
	admin := s.login(t, adminEmail, adminPassword)
	w := s.do(t, http.MethodPost, "/v1/admin/users", admin, gin.H{"email": email})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var inv struct {
		Token string `json:"invite_token"`
	}
	data(t, w, &inv)

	w = s.do(t, http.MethodPost, "/v1/auth/invite/accept", "", gin.H{"token": inv.Token, "password": "tenant-password"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return s.login(t, email, "tenant-password")
}

// provision 认领域名并开通地址，返回收件箱 ID
func (s *testServer) provision(t *testing.T, token, address string) string {
	t.Helper()
	name := address[strings.IndexByte(address, '@')+1:]
	w := s.do(t, http.MethodPost, "/v1/domains", token, gin.H{"domain": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/v1/emails", token, gin.H{"email": address, "domain": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Inbox struct {
			ID string `json:"id"`
		} `json:"inbox"`
	}
	data(t, w, &created)
	return created.Inbox.ID
}

func (s *testServer) deliver(t *testing.T, raw string) *httptest.ResponseRecorder {
	t.Helper()
	payload := gin.H{"rawEmail": base64.StdEncoding.EncodeToString([]byte(strings.ReplaceAll(raw, "\n", "\r\n")))}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhook/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WebhookSecretHeader, testSecret)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func msgOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Msg
}

const welcomeEmail = `From: Bob <bob@sender.example>
To: alice@tenant1.example
Subject: Welcome
Message-ID: <welcome@sender.example>
Content-Type: text/plain; charset=utf-8

Hello Alice, welcome aboard.
`

func TestRouterInfrastructure(t *testing.T) {
	s := newTestServer(t)

	t.Run("健康检查", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("指标暴露 HTTP 请求", func(t *testing.T) {
		s.do(t, http.MethodGet, "/health", "", nil)
		w := s.do(t, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `freemail_http_requests_total{endpoint="/health",method="GET",status_code="200"}`)
	})

	t.Run("未登录访问受保护资源", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/v1/messages", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)

	t.Run("密码错误", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": adminEmail, "password": "wrong-password"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, MsgInvalidCredentials, msgOf(t, w))
	})

	t.Run("登录写入 Cookie 并可凭 Cookie 访问", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": adminEmail, "password": adminPassword})
		require.Equal(t, http.StatusOK, w.Code)

		var session *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == testCookie {
				session = c
			}
		}
		require.NotNil(t, session)
		assert.True(t, session.HttpOnly)

		req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
		req.AddCookie(session)
		me := httptest.NewRecorder()
		s.router.ServeHTTP(me, req)
		require.Equal(t, http.StatusOK, me.Code)
		var user struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		data(t, me, &user)
		assert.Equal(t, adminEmail, user.Email)
		assert.Equal(t, "admin", user.Role)
		assert.NotContains(t, me.Body.String(), "password")
	})

	t.Run("退出清除 Cookie", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/auth/logout", "", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Set-Cookie"), testCookie+"=;")
	})

	t.Run("邀请令牌只能使用一次", func(t *testing.T) {
		admin := s.login(t, adminEmail, adminPassword)
		w := s.do(t, http.MethodPost, "/v1/admin/users", admin, gin.H{"email": "carol@login.example"})
		require.Equal(t, http.StatusCreated, w.Code)
		var inv struct {
			Token string `json:"invite_token"`
		}
		data(t, w, &inv)

		body := gin.H{"token": inv.Token, "password": "carol-password"}
		assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/auth/invite/accept", "", body).Code)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/auth/invite/accept", "", body).Code)
	})

	t.Run("重复邀请同一邮箱", func(t *testing.T) {
		admin := s.login(t, adminEmail, adminPassword)
		w := s.do(t, http.MethodPost, "/v1/admin/users", admin, gin.H{"email": "carol@login.example"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("普通租户无法访问管理接口", func(t *testing.T) {
		token := s.tenant(t, "dave@login.example")
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/v1/admin/users", token, nil).Code)
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/v1/emails/admin", token, gin.H{
			"userId": "someone", "email": "x@y.example", "domain": "y.example",
		}).Code)
	})
}

func TestDomainAndEmailRoutes(t *testing.T) {
	s := newTestServer(t)
	alice := s.tenant(t, "alice@login.example")
	bob := s.tenant(t, "bob@login.example")

	inboxID := s.provision(t, alice, "alice@tenant1.example")

	t.Run("域名全局唯一", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/domains", bob, gin.H{"domain": "Tenant1.Example"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("非法域名", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/domains", bob, gin.H{"domain": "not a domain"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("不能在他人域名下开通地址", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/emails", bob, gin.H{"email": "mallory@tenant1.example", "domain": "tenant1.example"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("收件箱附带地址", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/v1/inboxes", alice, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var inboxes []struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		}
		data(t, w, &inboxes)
		require.Len(t, inboxes, 1)
		assert.Equal(t, inboxID, inboxes[0].ID)
		assert.Equal(t, "alice@tenant1.example", inboxes[0].Email)
	})

	t.Run("重命名收件箱", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, "/v1/inboxes/"+inboxID, alice, gin.H{"name": "Work"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"name":"Work"`)

		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/v1/inboxes/"+inboxID, bob, gin.H{"name": "Mine"}).Code)
	})

	t.Run("域名下仍有地址时拒绝删除", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/v1/domains", alice, nil)
		var domains []struct {
			ID string `json:"id"`
		}
		data(t, w, &domains)
		require.Len(t, domains, 1)
		assert.Equal(t, http.StatusConflict, s.do(t, http.MethodDelete, "/v1/domains/"+domains[0].ID, alice, nil).Code)
	})

	t.Run("删除地址同时删除收件箱", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/v1/emails", alice, nil)
		var emails []struct {
			ID string `json:"id"`
		}
		data(t, w, &emails)
		require.Len(t, emails, 1)

		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/emails/"+emails[0].ID, bob, nil).Code)

		w = s.do(t, http.MethodDelete, "/v1/emails/"+emails[0].ID, alice, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"tenant_deleted":false`)
		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/inboxes/"+inboxID, alice, nil).Code)
	})
}

func TestWebhookRoute(t *testing.T) {
	s := newTestServer(t)
	alice := s.tenant(t, "alice@login.example")
	inboxID := s.provision(t, alice, "alice@tenant1.example")

	t.Run("密钥不匹配", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhook/inbound", strings.NewReader(welcomeEmail))
		req.Header.Set(WebhookSecretHeader, "wrong")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("空请求体", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhook/inbound", strings.NewReader(`{"rawEmail":""}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(WebhookSecretHeader, testSecret)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("无法路由的邮件静默丢弃", func(t *testing.T) {
		w := s.deliver(t, strings.Replace(welcomeEmail, "alice@tenant1.example", "nobody@unknown.example", 1))
		assert.Equal(t, http.StatusNoContent, w.Code)

		list := s.do(t, http.MethodGet, "/v1/messages", alice, nil)
		var msgs []json.RawMessage
		data(t, list, &msgs)
		assert.Empty(t, msgs)
	})

	t.Run("投递并开启新线程", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, s.deliver(t, welcomeEmail).Code)

		w := s.do(t, http.MethodGet, "/v1/messages/inbox/"+inboxID, alice, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var msgs []struct {
			ID        string `json:"id"`
			ThreadID  string `json:"thread_id"`
			Direction string `json:"direction"`
			Status    string `json:"status"`
			Subject   string `json:"subject"`
		}
		data(t, w, &msgs)
		require.Len(t, msgs, 1)
		assert.Equal(t, msgs[0].ID, msgs[0].ThreadID)
		assert.Equal(t, "inbound", msgs[0].Direction)
		assert.Equal(t, "received", msgs[0].Status)

		t.Run("回复归入同一线程", func(t *testing.T) {
			reply := strings.Replace(welcomeEmail, "Subject: Welcome", "Subject: Re: Welcome", 1)
			require.Equal(t, http.StatusNoContent, s.deliver(t, reply).Code)

			w := s.do(t, http.MethodGet, "/v1/messages/thread/"+msgs[0].ThreadID, alice, nil)
			require.Equal(t, http.StatusOK, w.Code)
			var thread []struct {
				Subject     string            `json:"subject"`
				Attachments []json.RawMessage `json:"attachments"`
			}
			data(t, w, &thread)
			require.Len(t, thread, 2)
			assert.Equal(t, "Welcome", thread[0].Subject)
			assert.Equal(t, "Re: Welcome", thread[1].Subject)
			assert.NotNil(t, thread[0].Attachments)
		})

		t.Run("单封邮件附件始终为数组", func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/v1/messages/"+msgs[0].ID, alice, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"attachments":[]`)
		})

		t.Run("其他租户不可见", func(t *testing.T) {
			bob := s.tenant(t, "bob@login.example")
			assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/messages/"+msgs[0].ID, bob, nil).Code)
		})

		t.Run("修改已读与文件夹", func(t *testing.T) {
			w := s.do(t, http.MethodPatch, "/v1/messages/"+msgs[0].ID, alice, gin.H{"is_read": true, "folder": "archive", "subject": "ignored"})
			require.Equal(t, http.StatusOK, w.Code)
			var m struct {
				IsRead  bool   `json:"is_read"`
				Folder  string `json:"folder"`
				Subject string `json:"subject"`
			}
			data(t, w, &m)
			assert.True(t, m.IsRead)
			assert.Equal(t, "archive", m.Folder)
			assert.Equal(t, "Welcome", m.Subject)

			assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, "/v1/messages/"+msgs[0].ID, alice, gin.H{"folder": "nowhere"}).Code)
		})

		t.Run("按文件夹过滤", func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/v1/messages?folder=archive", alice, nil)
			var list []json.RawMessage
			data(t, w, &list)
			assert.Len(t, list, 1)

			assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/messages?isStarred=maybe", alice, nil).Code)
		})
	})
}

func TestSendRoute(t *testing.T) {
	s := newTestServer(t)
	alice := s.tenant(t, "alice@login.example")
	s.provision(t, alice, "alice@tenant1.example")

	t.Run("缺少收件人", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/messages", alice, gin.H{"from": "alice@tenant1.example", "subject": "Hi"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("发送成功保存已发送副本", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/messages", alice, gin.H{
			"from":    "alice@tenant1.example",
			"to":      []string{"bob@remote.example"},
			"subject": "Quarterly report",
			"text":    "See attached.",
		})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		var m struct {
			Direction   string            `json:"direction"`
			Status      string            `json:"status"`
			Folder      string            `json:"folder"`
			InboxID     *string           `json:"inbox_id"`
			Attachments []json.RawMessage `json:"attachments"`
		}
		data(t, w, &m)
		assert.Equal(t, "outbound", m.Direction)
		assert.Equal(t, "sent", m.Status)
		assert.Equal(t, "sent", m.Folder)
		assert.NotNil(t, m.InboxID)
		assert.NotNil(t, m.Attachments)
		require.Len(t, s.relay.sent, 1)
	})

	t.Run("附件地址不是上传所得", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/messages", alice, gin.H{
			"from":        "alice@tenant1.example",
			"to":          []string{"bob@remote.example"},
			"subject":     "Metadata",
			"attachments": []gin.H{{"filename": "creds.txt", "url": "http://169.254.169.254/latest/meta-data"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "附件地址不是本站上传的文件", msgOf(t, w))
		s.relay.mu.Lock()
		assert.Len(t, s.relay.sent, 1)
		s.relay.mu.Unlock()
	})

	t.Run("中继失败不保存", func(t *testing.T) {
		s.relay.mu.Lock()
		s.relay.fail = true
		s.relay.mu.Unlock()

		w := s.do(t, http.MethodPost, "/v1/messages", alice, gin.H{
			"from":    "alice@tenant1.example",
			"to":      []string{"bob@remote.example"},
			"subject": "Will fail",
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, MsgInternal, msgOf(t, w))

		list := s.do(t, http.MethodGet, "/v1/messages?folder=sent", alice, nil)
		var msgs []json.RawMessage
		data(t, list, &msgs)
		assert.Len(t, msgs, 1)
	})
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadRoutes(t *testing.T) {
	s := newTestServer(t)
	alice := s.tenant(t, "alice@login.example")
	s.provision(t, alice, "alice@tenant1.example")

	upload := func(path string, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, filename, content, fields)
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Authorization", "Bearer "+alice)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	t.Run("上传文件", func(t *testing.T) {
		w := upload("/v1/uploads/catbox", "../notes.txt", []byte("meeting notes"), nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var res service.UploadResult
		data(t, w, &res)
		assert.NotContains(t, res.Filename, "/")
		assert.Equal(t, int64(len("meeting notes")), res.SizeBytes)
		assert.True(t, strings.HasPrefix(res.URL, "https://files.catbox.moe/"))
	})

	t.Run("超过大小限制", func(t *testing.T) {
		w := upload("/v1/uploads/catbox", "big.bin", bytes.Repeat([]byte("a"), maxUploadBytes+1), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("缺少文件字段", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/uploads/catbox", strings.NewReader(""))
		req.Header.Set("Authorization", "Bearer "+alice)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("挂载到邮件", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/messages", alice, gin.H{
			"from": "alice@tenant1.example", "to": []string{"bob@remote.example"}, "subject": "Draft",
		})
		require.Equal(t, http.StatusAccepted, w.Code)
		var m struct {
			ID string `json:"id"`
		}
		data(t, w, &m)

		w = upload("/v1/attachments", "report.txt", []byte("q3 numbers"), map[string]string{"messageId": m.ID})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = s.do(t, http.MethodGet, "/v1/messages/"+m.ID, alice, nil)
		assert.Contains(t, w.Body.String(), `"filename":"report.txt"`)

		w = upload("/v1/attachments", "report.txt", []byte("q3 numbers"), map[string]string{"messageId": "missing"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestFilesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024-03-01"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2024-03-01", "ab12_note.html"), []byte("<b>hi</b>"), 0o644))

	router := NewRouter(RouterDependencies{
		Config: &config.Config{
			CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
			Blob: config.BlobConfig{Provider: "filesystem", Path: root},
		},
	})

	t.Run("以附件形式返回本地文件", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/2024-03-01/ab12_note.html", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "<b>hi</b>", w.Body.String())
		assert.Equal(t, "attachment", w.Header().Get("Content-Disposition"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})

	t.Run("不存在的文件", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/2024-03-01/missing.txt", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
