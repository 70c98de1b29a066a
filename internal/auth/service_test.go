package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/auth/jwt"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/storage/memory"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	tokens := jwt.NewManager(strings.Repeat("k", 32), "freemail", 15*time.Minute, 7*24*time.Hour)
	return NewService(store, tokens, 72*time.Hour, nil), store
}

func TestServiceInvite(t *testing.T) {
	ctx := context.Background()

	t.Run("邀请后设置密码并登录", func(t *testing.T) {
		s, _ := newTestService()
		inv, err := s.Invite(ctx, InviteInput{Email: " New.User@Login.Example ", RecoveryEmail: "backup@personal.example"})
		require.NoError(t, err)
		assert.Equal(t, "new.user@login.example", inv.User.Email)
		assert.Equal(t, domain.RoleUser, inv.User.Role)
		assert.Len(t, inv.Token, 48)
		assert.WithinDuration(t, time.Now().Add(72*time.Hour), inv.ExpiresAt, time.Minute)
		require.NotNil(t, inv.User.RecoveryEmail)

		_, err = s.Login(ctx, "new.user@login.example", "whatever1")
		assert.ErrorIs(t, err, ErrInvalidCredentials, "invite-only account has no password yet")

		sess, err := s.AcceptInvite(ctx, inv.Token, "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, inv.User.ID, sess.User.ID)
		assert.NotEmpty(t, sess.Tokens.AccessToken)

		_, err = s.AcceptInvite(ctx, inv.Token, "another-pass")
		assert.ErrorIs(t, err, ErrInviteInvalid, "token is single-use")

		sess, err = s.Login(ctx, "NEW.USER@login.example", "correct-horse")
		require.NoError(t, err)
		assert.NotNil(t, sess.User.LastLoginAt)
	})

	t.Run("邀请过期", func(t *testing.T) {
		s, _ := newTestService()
		inv, err := s.Invite(ctx, InviteInput{Email: "late@login.example"})
		require.NoError(t, err)

		s.now = func() time.Time { return time.Now().UTC().Add(73 * time.Hour) }
		_, err = s.AcceptInvite(ctx, inv.Token, "correct-horse")
		assert.ErrorIs(t, err, ErrInviteInvalid)
	})

	t.Run("参数校验", func(t *testing.T) {
		s, _ := newTestService()
		_, err := s.Invite(ctx, InviteInput{Email: "not-an-email"})
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		_, err = s.Invite(ctx, InviteInput{Email: "x@login.example", Role: "root"})
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		inv, err := s.Invite(ctx, InviteInput{Email: "x@login.example"})
		require.NoError(t, err)
		_, err = s.AcceptInvite(ctx, inv.Token, "short")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		_, err = s.AcceptInvite(ctx, "unknown-token", "long-enough")
		assert.ErrorIs(t, err, ErrInviteInvalid)
	})

	t.Run("登录邮箱唯一", func(t *testing.T) {
		s, _ := newTestService()
		_, err := s.Invite(ctx, InviteInput{Email: "dup@login.example"})
		require.NoError(t, err)
		_, err = s.Invite(ctx, InviteInput{Email: "DUP@login.example"})
		assert.ErrorIs(t, err, ErrEmailExists)
	})
}

func TestServiceSession(t *testing.T) {
	ctx := context.Background()

	t.Run("错误的密码", func(t *testing.T) {
		s, _ := newTestService()
		_, _, err := s.EnsureAdmin(ctx, "admin@login.example", "admin-password")
		require.NoError(t, err)

		_, err = s.Login(ctx, "admin@login.example", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = s.Login(ctx, "ghost@login.example", "admin-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = s.Login(ctx, "", "")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("访问令牌与刷新", func(t *testing.T) {
		s, _ := newTestService()
		admin, _, err := s.EnsureAdmin(ctx, "admin@login.example", "admin-password")
		require.NoError(t, err)
		sess, err := s.Login(ctx, "admin@login.example", "admin-password")
		require.NoError(t, err)

		claims, err := s.Authenticate(sess.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, admin.ID, claims.UserID)
		assert.Equal(t, string(domain.RoleAdmin), claims.Role)

		_, err = s.Authenticate(sess.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidToken)

		refreshed, err := s.Refresh(ctx, sess.Tokens.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, admin.ID, refreshed.User.ID)
		_, err = s.Refresh(ctx, sess.Tokens.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("已删除用户的刷新令牌失效", func(t *testing.T) {
		s, store := newTestService()
		admin, _, err := s.EnsureAdmin(ctx, "admin@login.example", "admin-password")
		require.NoError(t, err)
		sess, err := s.Login(ctx, "admin@login.example", "admin-password")
		require.NoError(t, err)

		require.NoError(t, store.DeleteUserCascade(ctx, admin.ID))
		_, err = s.Refresh(ctx, sess.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
		_, err = s.Me(ctx, admin.ID)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestServiceEnsureAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("首次创建", func(t *testing.T) {
		s, _ := newTestService()
		u, created, err := s.EnsureAdmin(ctx, "Admin@Login.example", "admin-password")
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, u.IsAdmin())
		assert.Equal(t, "admin@login.example", u.Email)
	})

	t.Run("重复执行幂等", func(t *testing.T) {
		s, _ := newTestService()
		first, _, err := s.EnsureAdmin(ctx, "admin@login.example", "admin-password")
		require.NoError(t, err)
		second, created, err := s.EnsureAdmin(ctx, "admin@login.example", "admin-password")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("提升已有用户并同步密码", func(t *testing.T) {
		s, _ := newTestService()
		inv, err := s.Invite(ctx, InviteInput{Email: "boss@login.example"})
		require.NoError(t, err)

		u, created, err := s.EnsureAdmin(ctx, "boss@login.example", "new-admin-pass")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, inv.User.ID, u.ID)
		assert.True(t, u.IsAdmin())

		_, err = s.AcceptInvite(ctx, inv.Token, "hijack-pass")
		assert.ErrorIs(t, err, ErrInviteInvalid)
		_, err = s.Login(ctx, "boss@login.example", "new-admin-pass")
		assert.NoError(t, err)
	})

	t.Run("配置非法", func(t *testing.T) {
		s, _ := newTestService()
		_, _, err := s.EnsureAdmin(ctx, "admin@login.example", "short")
		assert.Error(t, err)
	})
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword("correct-horse", hash))
	assert.False(t, CheckPassword("wrong", hash))
	assert.False(t, CheckPassword("anything", ""))
}

func TestServiceListUsers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService()
	_, err := s.Invite(ctx, InviteInput{Email: "a@login.example"})
	require.NoError(t, err)
	_, _, err = s.EnsureAdmin(ctx, "admin@login.example", "admin-password")
	require.NoError(t, err)

	list, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
