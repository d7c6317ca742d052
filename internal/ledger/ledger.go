// Package ledger 是库存与订单的权威记录：扣减剩余量和写入订单在同一事务里完成。
package ledger

import (
	"context"
	"strings"
	"time"

	"flashsale/internal/apperr"
	"flashsale/internal/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// CommitRequest 是一次已在缓存中预留成功的购买。
type CommitRequest struct {
	SaleID        string
	UserID        string
	ReservationID string
	Quantity      int64
}

// Receipt 提交成功后的订单与账本剩余量。
type Receipt struct {
	Order     model.Order
	Remaining int64
}

type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB 暴露底层连接，供只读查询复用。
func (l *Ledger) DB() *gorm.DB { return l.db }

// Commit 条件扣减剩余量并写入 completed 订单，任一步失败整体回滚。
// 事务内只用 tx，不要碰 l.db：SQLite 单连接时会自己等自己。
func (l *Ledger) Commit(ctx context.Context, req CommitRequest) (*Receipt, error) {
	if req.Quantity <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "购买数量必须大于 0")
	}

	var receipt Receipt
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sale model.Sale
		if err := tx.Where("id = ?", req.SaleID).Take(&sale).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.NotFound, "活动不存在")
			}
			return errors.Wrap(err, "load sale")
		}

		res := tx.Model(&model.Sale{}).
			Where("id = ? AND status = ? AND remaining_units >= ?", req.SaleID, model.SaleActive, req.Quantity).
			Updates(map[string]any{
				"remaining_units": gorm.Expr("remaining_units - ?", req.Quantity),
				"updated_at":      l.now(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "decrement remaining units")
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.DurableConflict, "库存已变化，请重试")
		}

		if sale.PurchaseLimit > 0 {
			bought, err := sumCompleted(tx, req.SaleID, req.UserID)
			if err != nil {
				return err
			}
			if bought+req.Quantity > sale.PurchaseLimit {
				return apperr.Newf(apperr.PurchaseLimitExceeded, "每人限购 %d 件", sale.PurchaseLimit)
			}
		}

		order := model.Order{
			OrderNo:    orderNo(req.ReservationID),
			SaleID:     req.SaleID,
			ProductID:  sale.ProductID,
			UserID:     req.UserID,
			Quantity:   req.Quantity,
			AmountPaid: req.Quantity * sale.PricePerUnit,
			Status:     model.OrderCompleted,
		}
		if err := tx.Create(&order).Error; err != nil {
			return errors.Wrap(err, "create order")
		}

		var remaining int64
		if err := tx.Model(&model.Sale{}).Select("remaining_units").
			Where("id = ?", req.SaleID).Scan(&remaining).Error; err != nil {
			return errors.Wrap(err, "read remaining units")
		}

		receipt = Receipt{Order: order, Remaining: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UserTotals 汇总每个用户在该活动已完成的购买件数，用于重建限购计数。
func (l *Ledger) UserTotals(ctx context.Context, saleID string) (map[string]int64, error) {
	var rows []struct {
		UserID string
		Total  int64
	}
	err := l.db.WithContext(ctx).Model(&model.Order{}).
		Select("user_id, SUM(quantity) AS total").
		Where("sale_id = ? AND status = ?", saleID, model.OrderCompleted).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "sum user totals")
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.UserID] = r.Total
	}
	return out, nil
}

func sumCompleted(tx *gorm.DB, saleID, userID string) (int64, error) {
	var bought int64
	err := tx.Model(&model.Order{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("sale_id = ? AND user_id = ? AND status = ?", saleID, userID, model.OrderCompleted).
		Scan(&bought).Error
	if err != nil {
		return 0, errors.Wrap(err, "sum user purchases")
	}
	return bought, nil
}

// orderNo 由预留 ID 派生；同一预留重复提交会撞唯一索引而不是生成第二张订单。
func orderNo(reservationID string) string {
	if reservationID == "" {
		reservationID = uuid.NewString()
	}
	return "FS" + strings.ToUpper(strings.ReplaceAll(reservationID, "-", ""))
}
