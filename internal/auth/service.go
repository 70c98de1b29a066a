package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/auth/jwt"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/storage"
)

var (
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = apperr.Auth("invalid email or password")
	// ErrInvalidToken 会话令牌无效或已过期
	ErrInvalidToken = apperr.Auth("invalid or expired token")
	// ErrEmailExists 登录邮箱已存在
	ErrEmailExists = apperr.Conflict("email already registered")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = apperr.NotFound("user not found")
	// ErrInviteInvalid 邀请令牌无效、已使用或已过期
	ErrInviteInvalid = apperr.Validation("invite token is invalid or expired")
)

// Session 登录成功后的用户与令牌
type Session struct {
	User   *domain.User   `json:"user"`
	Tokens *jwt.TokenPair `json:"tokens"`
}

// InviteInput 管理员创建租户的输入
type InviteInput struct {
	Email           string
	Role            domain.UserRole
	DisplayName     string
	RecoveryEmail   string
	PermanentDomain string
}

// Invitation 新建的邀请制租户与一次性令牌
type Invitation struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"invite_token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Service 认证服务：密码登录、邀请、会话令牌与管理员引导
type Service struct {
	users     storage.UserRepository
	tokens    *jwt.Manager
	inviteTTL time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewService 创建认证服务
func NewService(users storage.UserRepository, tokens *jwt.Manager, inviteTTL time.Duration, log *zap.Logger) *Service {
	if inviteTTL <= 0 {
		inviteTTL = 72 * time.Hour
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		inviteTTL: inviteTTL,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.OrNop(log),
	}
}

// Tokens 返回令牌管理器
func (s *Service) Tokens() *jwt.Manager {
	return s.tokens
}

// Login 邮箱密码登录
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, apperr.Downstream("persistence failure", err)
	}
	// 邀请尚未接受的账户没有密码
	if !user.HasPassword() || !CheckPassword(password, user.PasswordHash) {
		s.log.Info("login rejected", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		s.log.Warn("update last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return s.issue(user)
}

// Refresh 使用刷新令牌换取新的令牌对
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.Me(ctx, claims.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return s.issue(user)
}

// Authenticate 校验访问令牌，返回声明
func (s *Service) Authenticate(accessToken string) (*jwt.Claims, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Me 返回当前用户
func (s *Service) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperr.Downstream("persistence failure", err)
	}
	return user, nil
}

// ListUsers 列出全部租户（管理员）
func (s *Service) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Downstream("persistence failure", err)
	}
	return users, nil
}

// Invite 创建邀请制租户，返回一次性邀请令牌
func (s *Service) Invite(ctx context.Context, in InviteInput) (*Invitation, error) {
	email := domain.NormalizeAddress(in.Email)
	if err := domain.ValidateAddress(email); err != nil {
		return nil, err
	}
	role := in.Role
	switch role {
	case "":
		role = domain.RoleUser
	case domain.RoleUser, domain.RoleAdmin:
	default:
		return nil, apperr.Validationf("unknown role %q", role)
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, apperr.Downstream("invite token generation failed", err)
	}

	now := s.now()
	expires := now.Add(s.inviteTTL)
	user := &domain.User{
		ID:              uuid.NewString(),
		Email:           email,
		DisplayName:     strings.TrimSpace(in.DisplayName),
		Role:            role,
		RecoveryEmail:   optional(domain.NormalizeAddress(in.RecoveryEmail)),
		PermanentDomain: optional(domain.NormalizeDomain(in.PermanentDomain)),
		InviteToken:     &token,
		InviteExpiresAt: &expires,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, apperr.Downstream("persistence failure", err)
	}

	s.log.Info("tenant invited", zap.String("user_id", user.ID), zap.String("email", email), zap.String("role", string(role)))
	return &Invitation{User: user, Token: token, ExpiresAt: expires}, nil
}

// AcceptInvite 设置密码并使邀请令牌失效
func (s *Service) AcceptInvite(ctx context.Context, token, password string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInviteInvalid
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByInviteToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInviteInvalid
		}
		return nil, apperr.Downstream("persistence failure", err)
	}
	now := s.now()
	if !user.InvitePending(now) {
		return nil, ErrInviteInvalid
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, apperr.Downstream("password hashing failed", err)
	}
	user.PasswordHash = hash
	user.InviteToken = nil
	user.InviteExpiresAt = nil
	user.UpdatedAt = now
	user.LastLoginAt = &now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Downstream("persistence failure", err)
	}

	s.log.Info("invite accepted", zap.String("user_id", user.ID))
	return s.issue(user)
}

// EnsureAdmin 确保配置的管理员存在、角色为 admin 且密码与配置一致
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*domain.User, bool, error) {
	email = domain.NormalizeAddress(email)
	if err := domain.ValidateAddress(email); err != nil {
		return nil, false, err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, false, err
	}

	now := s.now()
	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		hash, err := HashPassword(password)
		if err != nil {
			return nil, false, fmt.Errorf("hash admin password: %w", err)
		}
		user = &domain.User{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: hash,
			Role:         domain.RoleAdmin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("create admin: %w", err)
		}
		s.log.Info("admin account created", zap.String("user_id", user.ID), zap.String("email", email))
		return user, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("lookup admin: %w", err)
	}

	changed := false
	if !user.IsAdmin() {
		user.Role = domain.RoleAdmin
		changed = true
	}
	if !CheckPassword(password, user.PasswordHash) {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, false, fmt.Errorf("hash admin password: %w", err)
		}
		user.PasswordHash = hash
		user.InviteToken = nil
		user.InviteExpiresAt = nil
		changed = true
	}
	if changed {
		user.UpdatedAt = now
		if err := s.users.UpdateUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("update admin: %w", err)
		}
		s.log.Info("admin account updated", zap.String("user_id", user.ID))
	}
	return user, false, nil
}

func (s *Service) issue(user *domain.User) (*Session, error) {
	pair, err := s.tokens.GenerateTokenPair(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, apperr.Downstream("token signing failed", err)
	}
	return &Session{User: user, Tokens: pair}, nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
