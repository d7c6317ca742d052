package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SaleStatus 只能沿 scheduled → active → ended 单向推进。
type SaleStatus string

const (
	SaleScheduled SaleStatus = "scheduled"
	SaleActive    SaleStatus = "active"
	SaleEnded     SaleStatus = "ended"
)

var saleStatusRank = map[SaleStatus]int{
	SaleScheduled: 0,
	SaleActive:    1,
	SaleEnded:     2,
}

// CanTransition 判断状态推进是否合法（不允许回退，允许原地不动）。
func CanTransition(from, to SaleStatus) bool {
	f, ok1 := saleStatusRank[from]
	t, ok2 := saleStatusRank[to]
	return ok1 && ok2 && t >= f
}

// EndReason 记录活动结束的原因。
type EndReason string

const (
	EndByOperator EndReason = "operator"
	EndByStockout EndReason = "stockout"
)

// Sale 秒杀活动：固定划拨数量、剩余数量、秒杀价、时间窗与每人限购。
type Sale struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductID      string     `gorm:"size:36;not null;index" json:"product_id"`
	AllocatedUnits int64      `gorm:"not null" json:"allocated_units"`
	RemainingUnits int64      `gorm:"not null" json:"remaining_units"`
	PricePerUnit   int64      `gorm:"not null;default:0" json:"price_per_unit"` // 单位：分
	Status         SaleStatus `gorm:"size:16;not null;default:scheduled;index" json:"status"`
	StartTime      time.Time  `gorm:"not null" json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	PurchaseLimit  int64      `gorm:"not null;default:0" json:"purchase_limit"` // 0 表示不限购
	EndReason      EndReason  `gorm:"size:16" json:"end_reason,omitempty"`
}

func (Sale) TableName() string { return "sales" }

func (s *Sale) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Started 判断当前时间是否已到开始时间。
func (s *Sale) Started(now time.Time) bool { return !now.Before(s.StartTime) }

// Expired 判断设置了结束时间的活动是否已过期。
func (s *Sale) Expired(now time.Time) bool { return s.EndTime != nil && now.After(*s.EndTime) }
