package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Inventory 仓库库存：创建秒杀活动时从这里划拨 allocated_units。
type Inventory struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductID string `gorm:"size:36;not null;uniqueIndex" json:"product_id"`
	Quantity  int64  `gorm:"not null;default:0" json:"quantity"`
}

func (Inventory) TableName() string { return "inventories" }

func (i *Inventory) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
