package model

import "time"

// OrderStatus 订单状态。秒杀链路只会落 completed，另外两个留给支付等外部流程。
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// Order 秒杀订单。自增 ID 即写入顺序，排行榜用它打破同一时间戳的并列；
// 对外暴露的是 OrderNo。订单只随库存扣减一起写入，从不删除。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderNo    string      `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	SaleID     string      `gorm:"size:36;not null;index:idx_orders_sale_user" json:"sale_id"`
	ProductID  string      `gorm:"size:36;not null;index" json:"product_id"`
	UserID     string      `gorm:"size:64;not null;index:idx_orders_sale_user" json:"user_id"`
	Quantity   int64       `gorm:"not null" json:"quantity"`
	AmountPaid int64       `gorm:"not null" json:"amount_paid"` // 总金额，单位分
	Status     OrderStatus `gorm:"size:16;not null;default:pending" json:"status"`
}

func (Order) TableName() string { return "orders" }
