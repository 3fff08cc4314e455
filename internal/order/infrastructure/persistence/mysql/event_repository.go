package mysql

import (
	"context"
	"fmt"

	"github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"gorm.io/gorm"
)

// eventRepositoryImpl 是 domain.EventRepository 接口的 GORM 实现。
type eventRepositoryImpl struct {
	db *gorm.DB
}

// NewEventRepository 创建订单事件仓储实例
func NewEventRepository(db *gorm.DB) domain.EventRepository {
	return &eventRepositoryImpl{db: db}
}

// Create 实现 domain.EventRepository.Create
func (r *eventRepositoryImpl) Create(ctx context.Context, event *domain.OrderEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		logger.Error(ctx, "event_repository.create failed", "order_id", event.OrderID, "error", err)
		return fmt.Errorf("failed to create order event: %w", err)
	}
	return nil
}

// ListByUser 实现 domain.EventRepository.ListByUser
func (r *eventRepositoryImpl) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.OrderEvent, error) {
	var events []*domain.OrderEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		logger.Error(ctx, "event_repository.list_by_user failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list order events: %w", err)
	}
	return events, nil
}

// ListFillsByUser 实现 domain.EventRepository.ListFillsByUser
func (r *eventRepositoryImpl) ListFillsByUser(ctx context.Context, userID string) ([]*domain.OrderEvent, error) {
	var events []*domain.OrderEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{
			string(domain.OrderStatusFilled),
			string(domain.OrderStatusPartiallyFilled),
		}).
		Order("occurred_at asc").
		Find(&events).Error
	if err != nil {
		logger.Error(ctx, "event_repository.list_fills_by_user failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	return events, nil
}
