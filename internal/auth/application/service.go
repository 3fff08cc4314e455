// Package application 提供注册、登录与 JWT 签发
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wyfcoding/tradingpipeline/internal/auth/domain"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/internal/vault"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailTaken 邮箱已被注册
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials 登录凭证错误
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthService 认证应用服务。
// 注册时将交易所 API 密钥加密落库；明文密钥不出本函数作用域。
type AuthService struct {
	users       domain.UserRepository
	credentials orderdomain.CredentialRepository
	vault       *vault.Vault
	jwtSecret   string
	tokenTTL    time.Duration
}

// NewAuthService 构造函数
func NewAuthService(users domain.UserRepository, credentials orderdomain.CredentialRepository, v *vault.Vault, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		users:       users,
		credentials: credentials,
		vault:       v,
		jwtSecret:   jwtSecret,
		tokenTTL:    tokenTTL,
	}
}

// Register 注册用户并存储加密后的交易所凭证，返回用户 ID
func (s *AuthService) Register(ctx context.Context, email, password, apiKey, secretKey string) (string, error) {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		UserID:       uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.users.Save(ctx, user); err != nil {
		return "", err
	}

	encryptedAPIKey, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt api key: %w", err)
	}
	encryptedSecretKey, err := s.vault.Encrypt(secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret key: %w", err)
	}

	if err := s.credentials.Save(ctx, &orderdomain.Credential{
		UserID:             user.UserID,
		EncryptedAPIKey:    encryptedAPIKey,
		EncryptedSecretKey: encryptedSecretKey,
	}); err != nil {
		return "", err
	}

	logger.Info(ctx, "User registered", "user_id", user.UserID)
	return user.UserID, nil
}

// Login 校验密码并签发 JWT
func (s *AuthService) Login(ctx context.Context, email, password string) (token string, user *domain.User, err error) {
	user, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err = s.IssueToken(user.UserID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken 为指定用户签发 JWT
func (s *AuthService) IssueToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(s.tokenTTL).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
