package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// credentialRepositoryImpl 是 domain.CredentialRepository 接口的 GORM 实现。
type credentialRepositoryImpl struct {
	db *gorm.DB
}

// NewCredentialRepository 创建凭证仓储实例
func NewCredentialRepository(db *gorm.DB) domain.CredentialRepository {
	return &credentialRepositoryImpl{db: db}
}

// Save 实现 domain.CredentialRepository.Save
func (r *credentialRepositoryImpl) Save(ctx context.Context, cred *domain.Credential) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_api_key", "encrypted_secret_key"}),
	}).Create(cred).Error
	if err != nil {
		// 注意：凭证内容绝不出现在日志里
		logger.Error(ctx, "credential_repository.save failed", "user_id", cred.UserID, "error", err)
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Get 实现 domain.CredentialRepository.Get
func (r *credentialRepositoryImpl) Get(ctx context.Context, userID string) (*domain.Credential, error) {
	var cred domain.Credential
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "credential_repository.get failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}
