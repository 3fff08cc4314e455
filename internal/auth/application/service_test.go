package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/tradingpipeline/internal/auth/domain"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/internal/vault"
	"github.com/wyfcoding/tradingpipeline/pkg/middleware"
)

type memUserRepo struct {
	users map[string]*domain.User
}

func (r *memUserRepo) Save(_ context.Context, user *domain.User) error {
	r.users[user.Email] = user
	return nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.users[email], nil
}

type memCredentialRepo struct {
	creds map[string]*orderdomain.Credential
}

func (r *memCredentialRepo) Save(_ context.Context, cred *orderdomain.Credential) error {
	r.creds[cred.UserID] = cred
	return nil
}

func (r *memCredentialRepo) Get(_ context.Context, userID string) (*orderdomain.Credential, error) {
	return r.creds[userID], nil
}

const testSecret = "auth-test-secret"

func newTestService() (*AuthService, *memUserRepo, *memCredentialRepo, *vault.Vault) {
	users := &memUserRepo{users: make(map[string]*domain.User)}
	creds := &memCredentialRepo{creds: make(map[string]*orderdomain.Credential)}
	v := vault.New("auth-test-encryption-key")
	svc := NewAuthService(users, creds, v, testSecret, time.Hour)
	return svc, users, creds, v
}

func TestRegisterStoresEncryptedCredentials(t *testing.T) {
	svc, users, creds, v := newTestService()
	ctx := context.Background()

	userID, err := svc.Register(ctx, "trader@example.com", "password123", "binance-api-key", "binance-secret-key")
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	user := users.users["trader@example.com"]
	require.NotNil(t, user)
	// 密码只存哈希
	assert.NotEqual(t, "password123", user.PasswordHash)

	cred := creds.creds[userID]
	require.NotNil(t, cred)
	// 密钥只以密文落库
	assert.NotEqual(t, "binance-api-key", cred.EncryptedAPIKey)
	assert.NotEqual(t, "binance-secret-key", cred.EncryptedSecretKey)

	apiKey, err := v.Decrypt(cred.EncryptedAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "binance-api-key", apiKey)
	secretKey, err := v.Decrypt(cred.EncryptedSecretKey)
	require.NoError(t, err)
	assert.Equal(t, "binance-secret-key", secretKey)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "trader@example.com", "password123", "k", "s")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "trader@example.com", "password456", "k", "s")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	userID, err := svc.Register(ctx, "trader@example.com", "password123", "k", "s")
	require.NoError(t, err)

	token, user, err := svc.Login(ctx, "trader@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, userID, user.UserID)

	// WebSocket 握手与 HTTP 中间件用同一函数验证
	parsedID, err := middleware.ParseUserToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, userID, parsedID)

	_, err = middleware.ParseUserToken(token, "wrong-secret")
	assert.Error(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "trader@example.com", "password123", "k", "s")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "trader@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
