package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 只保存排行榜展示需要的资料，登录凭据不在本服务内。
type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Name  string `gorm:"size:128;not null" json:"name"`
	Email string `gorm:"size:255;uniqueIndex" json:"email"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
