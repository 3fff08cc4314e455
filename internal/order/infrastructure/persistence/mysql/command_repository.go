// Package mysql 提供订单管道仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"gorm.io/gorm"
)

// commandRepositoryImpl 是 domain.CommandRepository 接口的 GORM 实现。
type commandRepositoryImpl struct {
	db *gorm.DB
}

// NewCommandRepository 创建订单命令仓储实例
func NewCommandRepository(db *gorm.DB) domain.CommandRepository {
	return &commandRepositoryImpl{db: db}
}

// Create 实现 domain.CommandRepository.Create
func (r *commandRepositoryImpl) Create(ctx context.Context, cmd *domain.OrderCommand) error {
	if err := r.db.WithContext(ctx).Create(cmd).Error; err != nil {
		logger.Error(ctx, "command_repository.create failed", "order_id", cmd.OrderID, "error", err)
		return fmt.Errorf("failed to create order command: %w", err)
	}
	return nil
}

// Get 实现 domain.CommandRepository.Get
func (r *commandRepositoryImpl) Get(ctx context.Context, orderID string) (*domain.OrderCommand, error) {
	var cmd domain.OrderCommand
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&cmd).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "command_repository.get failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get order command: %w", err)
	}
	return &cmd, nil
}

// UpdateStatus 实现 domain.CommandRepository.UpdateStatus
func (r *commandRepositoryImpl) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	err := r.db.WithContext(ctx).
		Model(&domain.OrderCommand{}).
		Where("order_id = ?", orderID).
		Update("status", string(status)).Error
	if err != nil {
		logger.Error(ctx, "command_repository.update_status failed", "order_id", orderID, "status", status, "error", err)
		return fmt.Errorf("failed to update command status: %w", err)
	}
	return nil
}
