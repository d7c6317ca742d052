package flashsale

import (
	"context"
	"time"

	"flashsale/internal/apperr"
	"flashsale/internal/model"
	"flashsale/pkg/redis"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// UserTotaler 提供账本中每个用户的已购件数。
type UserTotaler interface {
	UserTotals(ctx context.Context, saleID string) (map[string]int64, error)
}

// Lifecycle 管理活动的创建、开始、结束与缓存对账。
// 状态只能 scheduled → active → ended 单向推进。
type Lifecycle struct {
	db             *gorm.DB
	cache          *redis.StatusCache
	totals         UserTotaler
	notifier       Notifier
	holdStaleAfter time.Duration
	now            func() time.Time
}

// LifecycleOption 可选配置。
type LifecycleOption func(*Lifecycle)

func WithLifecycleNotifier(n Notifier) LifecycleOption {
	return func(l *Lifecycle) { l.notifier = n }
}

func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// WithHoldStaleAfter 超过该时长仍未结算的 hold 视为崩溃遗留。
func WithHoldStaleAfter(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) { l.holdStaleAfter = d }
}

func NewLifecycle(db *gorm.DB, cache *redis.StatusCache, totals UserTotaler, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		db:             db,
		cache:          cache,
		totals:         totals,
		notifier:       NopNotifier{},
		holdStaleAfter: 2 * time.Minute,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateSaleInput 创建活动的参数。StartTime 为零值时取当前时间。
type CreateSaleInput struct {
	ProductID      string     `json:"product_id"`
	AllocatedUnits int64      `json:"allocated_units"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	PricePerUnit   int64      `json:"price_per_unit"`
	PurchaseLimit  int64      `json:"purchase_limit"`
}

func (in CreateSaleInput) validate() error {
	if in.ProductID == "" {
		return apperr.New(apperr.InvalidArgument, "product_id 不能为空")
	}
	if in.AllocatedUnits <= 0 {
		return apperr.New(apperr.InvalidArgument, "allocated_units 必须大于 0")
	}
	if in.PricePerUnit < 0 {
		return apperr.New(apperr.InvalidArgument, "price_per_unit 不能为负")
	}
	if in.PurchaseLimit < 0 {
		return apperr.New(apperr.InvalidArgument, "purchase_limit 不能为负")
	}
	if in.EndTime != nil && !in.EndTime.After(in.StartTime) {
		return apperr.New(apperr.InvalidArgument, "end_time 必须晚于 start_time")
	}
	return nil
}

// CreateSale 从仓库库存中划拨数量并创建 scheduled 状态的活动，全部在一个事务里完成。
func (l *Lifecycle) CreateSale(ctx context.Context, in CreateSaleInput) (*model.Sale, error) {
	if in.StartTime.IsZero() {
		in.StartTime = l.now()
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	sale := &model.Sale{
		ProductID:      in.ProductID,
		AllocatedUnits: in.AllocatedUnits,
		RemainingUnits: in.AllocatedUnits,
		PricePerUnit:   in.PricePerUnit,
		Status:         model.SaleScheduled,
		StartTime:      in.StartTime.UTC(),
		EndTime:        utcPtr(in.EndTime),
		PurchaseLimit:  in.PurchaseLimit,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product model.Product
		if err := tx.Where("id = ?", in.ProductID).Take(&product).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.NotFound, "商品不存在")
			}
			return errors.Wrap(err, "load product")
		}
		var inv model.Inventory
		if err := tx.Where("product_id = ?", in.ProductID).Take(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.NotFound, "商品库存不存在")
			}
			return errors.Wrap(err, "load inventory")
		}

		res := tx.Model(&model.Inventory{}).
			Where("product_id = ? AND quantity >= ?", in.ProductID, in.AllocatedUnits).
			Update("quantity", gorm.Expr("quantity - ?", in.AllocatedUnits))
		if res.Error != nil {
			return errors.Wrap(res.Error, "allocate warehouse stock")
		}
		if res.RowsAffected == 0 {
			return apperr.Newf(apperr.InsufficientWarehouseStock, "仓库库存不足（剩余 %d）", inv.Quantity)
		}

		if err := tx.Create(sale).Error; err != nil {
			return errors.Wrap(err, "create sale")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("sale_id", sale.ID).
		Str("product_id", sale.ProductID).
		Int64("allocated", sale.AllocatedUnits).
		Msg("flash sale created")
	return sale, nil
}

// StartSale 激活活动并用账本数据初始化缓存。
// 已激活的活动只更新时间窗并补齐缺失的缓存键，不会重置正在扣减的计数器。
func (l *Lifecycle) StartSale(ctx context.Context, saleID string, start, end *time.Time) (*model.Sale, error) {
	sale, err := loadSale(ctx, l.db, saleID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(sale.Status, model.SaleActive) {
		return nil, apperr.New(apperr.InvalidTransition, "活动已结束，不能重新开始")
	}
	wasActive := sale.Status == model.SaleActive

	if start != nil {
		sale.StartTime = start.UTC()
	}
	if end != nil {
		sale.EndTime = utcPtr(end)
	}
	if sale.EndTime != nil && !sale.EndTime.After(sale.StartTime) {
		return nil, apperr.New(apperr.InvalidArgument, "end_time 必须晚于 start_time")
	}

	// 首次开始时先写缓存再改账本状态：账本仍是 scheduled 时购买在落到缓存之前就被拒绝，
	// 所以覆盖式的 Seed 不会抹掉任何预留
	if !wasActive {
		var buyers map[string]int64
		if buyers, err = l.totals.UserTotals(ctx, saleID); err == nil {
			err = l.cache.Seed(ctx, saleID, sale.RemainingUnits, string(model.SaleActive), buyers)
		}
		if err != nil {
			// 缓存可由对账或下一次读取补齐
			zerolog.Ctx(ctx).Error().Err(err).Str("sale_id", saleID).Msg("seed status cache failed")
		}
	}

	// 条件更新防止与并发的 EndSale 交错导致状态回退
	res := l.db.WithContext(ctx).Model(&model.Sale{}).
		Where("id = ? AND status IN ?", saleID, []model.SaleStatus{model.SaleScheduled, model.SaleActive}).
		Updates(map[string]any{
			"status":     model.SaleActive,
			"start_time": sale.StartTime,
			"end_time":   sale.EndTime,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "activate sale")
	}
	if res.RowsAffected == 0 {
		// 期间被结束：把刚写入的缓存状态改回 ended
		if merr := l.cache.MarkEnded(ctx, saleID, false); merr != nil {
			zerolog.Ctx(ctx).Error().Err(merr).Str("sale_id", saleID).Msg("mark sale ended in cache failed")
		}
		return nil, apperr.New(apperr.InvalidTransition, "活动已结束，不能重新开始")
	}
	if sale, err = loadSale(ctx, l.db, saleID); err != nil {
		return nil, err
	}

	if wasActive {
		if err := l.cache.Warm(ctx, saleID, sale.RemainingUnits, string(model.SaleActive)); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("sale_id", saleID).Msg("warm status cache failed")
		}
	}

	l.notifier.Publish(ctx, newEvent(EventSaleStarted, shortView(sale), l.now()))
	zerolog.Ctx(ctx).Info().Str("sale_id", saleID).Int64("remaining", sale.RemainingUnits).Msg("flash sale started")
	return sale, nil
}

// EndSale 结束活动。已结束时原样返回；售罄结束会把账本和缓存的剩余量都置 0。
func (l *Lifecycle) EndSale(ctx context.Context, saleID string, reason model.EndReason) (*model.Sale, error) {
	sale, err := loadSale(ctx, l.db, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == model.SaleEnded {
		return sale, nil
	}
	if reason == "" {
		reason = model.EndByOperator
	}

	now := l.now().UTC()
	updates := map[string]any{
		"status":     model.SaleEnded,
		"end_time":   now,
		"end_reason": reason,
		"updated_at": time.Now().UTC(),
	}
	stockout := reason == model.EndByStockout
	if stockout {
		updates["remaining_units"] = 0
	}
	res := l.db.WithContext(ctx).Model(&model.Sale{}).
		Where("id = ? AND status <> ?", saleID, model.SaleEnded).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "end sale")
	}
	if sale, err = loadSale(ctx, l.db, saleID); err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		// 并发的另一次 EndSale 已经完成
		return sale, nil
	}

	if err := l.cache.MarkEnded(ctx, saleID, stockout); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("sale_id", saleID).Msg("mark sale ended in cache failed")
	}

	l.notifier.Publish(ctx, newEvent(EventSaleEnded, shortView(sale), l.now()))
	zerolog.Ctx(ctx).Info().Str("sale_id", saleID).Str("reason", string(reason)).Msg("flash sale ended")
	return sale, nil
}

// Reconcile 在没有进行中的预留时，用账本重建缓存的库存、状态和限购计数。
// 返回 false 表示检测到并发操作，本轮跳过。
func (l *Lifecycle) Reconcile(ctx context.Context, saleID string) (bool, error) {
	seq, err := l.cache.Seq(ctx, saleID)
	if err != nil {
		reconcileTotal.WithLabelValues("error").Inc()
		return false, errors.Wrap(err, "read cache seq")
	}
	// 先读 seq 再读账本：期间若有新的预留或结算，seq 会变化，脚本会放弃
	sale, err := loadSale(ctx, l.db, saleID)
	if err != nil {
		if !apperr.IsKind(err, apperr.NotFound) {
			reconcileTotal.WithLabelValues("error").Inc()
		}
		return false, err
	}
	buyers, err := l.totals.UserTotals(ctx, saleID)
	if err != nil {
		reconcileTotal.WithLabelValues("error").Inc()
		return false, err
	}

	applied, err := l.cache.Reconcile(ctx, redis.ReconcileArgs{
		SaleID:    saleID,
		ExpectSeq: seq,
		Inventory: sale.RemainingUnits,
		Status:    string(sale.Status),
		Buyers:    buyers,
		Cutoff:    l.now().Add(-l.holdStaleAfter),
	})
	if err != nil {
		reconcileTotal.WithLabelValues("error").Inc()
		return false, errors.Wrap(err, "reconcile cache")
	}
	if applied {
		reconcileTotal.WithLabelValues("applied").Inc()
		zerolog.Ctx(ctx).Debug().Str("sale_id", saleID).Int64("remaining", sale.RemainingUnits).Msg("status cache reconciled")
	} else {
		reconcileTotal.WithLabelValues("skipped").Inc()
	}
	return applied, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
