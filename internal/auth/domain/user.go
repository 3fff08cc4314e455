// Package domain 包含认证服务的领域模型
package domain

import (
	"context"

	"gorm.io/gorm"
)

// User 用户实体
type User struct {
	gorm.Model `json:"-"`
	// 用户 ID，注册时生成
	UserID string `gorm:"column:user_id;type:varchar(36);uniqueIndex;not null" json:"id"`
	// 邮箱
	Email string `gorm:"column:email;type:varchar(100);uniqueIndex;not null" json:"email"`
	// bcrypt 密码哈希
	PasswordHash string `gorm:"column:password_hash;type:varchar(100);not null" json:"-"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// UserRepository 用户仓储接口
type UserRepository interface {
	// 保存用户
	Save(ctx context.Context, user *User) error
	// 按邮箱查询，不存在时返回 (nil, nil)
	GetByEmail(ctx context.Context, email string) (*User, error)
}
