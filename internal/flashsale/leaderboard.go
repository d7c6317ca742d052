package flashsale

import (
	"context"
	"time"

	"flashsale/internal/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// LeaderUser 排行榜里展示的用户信息；用户记录缺失时 name/email 为空。
type LeaderUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Entry 排行榜的一行，Rank 从 1 开始。
type Entry struct {
	Rank      int        `json:"rank"`
	User      LeaderUser `json:"user"`
	Quantity  int64      `json:"quantity"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Leaderboard 按下单先后给活动的成交订单排名，每次调用重新计算。
type Leaderboard struct {
	db *gorm.DB
}

func NewLeaderboard(db *gorm.DB) *Leaderboard { return &Leaderboard{db: db} }

// ForSale 同一时间戳的订单按写入顺序（自增 ID）排先后。
func (b *Leaderboard) ForSale(ctx context.Context, saleID string) ([]Entry, error) {
	var rows []struct {
		UserID    string
		Name      string
		Email     string
		Quantity  int64
		CreatedAt time.Time
	}
	err := b.db.WithContext(ctx).
		Table("orders").
		Select("orders.user_id, COALESCE(users.name, '') AS name, COALESCE(users.email, '') AS email, orders.quantity, orders.created_at").
		Joins("LEFT JOIN users ON users.id = orders.user_id").
		Where("orders.sale_id = ? AND orders.status = ?", saleID, model.OrderCompleted).
		Order("orders.created_at ASC").
		Order("orders.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query leaderboard")
	}

	out := make([]Entry, 0, len(rows))
	for i, r := range rows {
		out = append(out, Entry{
			Rank:      i + 1,
			User:      LeaderUser{ID: r.UserID, Name: r.Name, Email: r.Email},
			Quantity:  r.Quantity,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
