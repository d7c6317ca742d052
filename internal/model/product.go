package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product 商品：名称、描述、标价。秒杀价在 Sale 上单独设置。
type Product struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string `gorm:"size:128;not null" json:"name"`
	Description string `gorm:"size:512" json:"description"`
	Price       int64  `gorm:"not null;default:0" json:"price"` // 单位：分
}

func (Product) TableName() string { return "products" }

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
