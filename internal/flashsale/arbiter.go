package flashsale

import (
	"context"
	"time"

	"flashsale/internal/apperr"
	"flashsale/internal/ledger"
	"flashsale/internal/model"
	"flashsale/pkg/redis"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("flashsale")

// compensateTimeout 回补使用独立的超时，不受请求取消影响。
const compensateTimeout = 3 * time.Second

// PurchaseRequest 一次购买请求。
type PurchaseRequest struct {
	SaleID   string `json:"sale_id"`
	UserID   string `json:"user_id"`
	Quantity int64  `json:"quantity"`
}

// Committer 把一次预留写入账本。
type Committer interface {
	Commit(ctx context.Context, req ledger.CommitRequest) (*ledger.Receipt, error)
}

// SaleEnder 售罄时结束活动。
type SaleEnder interface {
	EndSale(ctx context.Context, saleID string, reason model.EndReason) (*model.Sale, error)
}

// Arbiter 裁决并发购买：先在缓存里原子预留，再落库；落库失败则回补缓存。
type Arbiter struct {
	db       *gorm.DB
	cache    *redis.StatusCache
	ledger   Committer
	ender    SaleEnder
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
}

// ArbiterOption 可选配置。
type ArbiterOption func(*Arbiter)

// WithTimeout 限制单次购买（预留 + 落库）的总耗时。
func WithTimeout(d time.Duration) ArbiterOption {
	return func(a *Arbiter) { a.timeout = d }
}

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) ArbiterOption {
	return func(a *Arbiter) { a.now = now }
}

// WithNotifier 设置事件发布者。
func WithNotifier(n Notifier) ArbiterOption {
	return func(a *Arbiter) { a.notifier = n }
}

func NewArbiter(db *gorm.DB, cache *redis.StatusCache, l Committer, ender SaleEnder, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		db:       db,
		cache:    cache,
		ledger:   l,
		ender:    ender,
		notifier: NopNotifier{},
		timeout:  3 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Purchase 成功时返回已落库的 completed 订单；失败时缓存与账本均不留痕迹。
func (a *Arbiter) Purchase(ctx context.Context, req PurchaseRequest) (*model.Order, error) {
	start := time.Now()
	order, err := a.purchase(ctx, req)
	observePurchase(err, time.Since(start))
	return order, err
}

func (a *Arbiter) purchase(ctx context.Context, req PurchaseRequest) (*model.Order, error) {
	if req.SaleID == "" || req.UserID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "sale_id 和 user_id 不能为空")
	}
	if req.Quantity <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "购买数量必须大于 0")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sale, err := loadSale(ctx, a.db, req.SaleID)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if !sale.Started(now) {
		return nil, apperr.New(apperr.NotStarted, "秒杀尚未开始")
	}
	if sale.Status != model.SaleActive || sale.Expired(now) {
		return nil, apperr.New(apperr.SoldOut, "已售罄或活动已结束")
	}
	// 账本剩余量不小于缓存剩余量，超出它的数量必然不足；
	// 同时挡住 Lua 数字精度之外的超大数量
	if req.Quantity > sale.RemainingUnits {
		return nil, apperr.New(apperr.InsufficientInventory, "库存不足")
	}

	rid := uuid.NewString()
	log := zerolog.Ctx(ctx).With().
		Str("sale_id", sale.ID).
		Str("user_id", req.UserID).
		Str("reservation_id", rid).
		Int64("quantity", req.Quantity).
		Logger()

	if err := a.reserve(ctx, sale, req, rid, now); err != nil {
		if apperr.KindOf(err) == apperr.CommitFailed {
			// 预留结果未知（超时、连接断开），回补脚本只在 hold 存在时生效
			a.compensate(ctx, sale.ID, rid, &log)
		}
		return nil, err
	}

	receipt, err := a.commit(ctx, sale.ID, req, rid)
	if err != nil {
		log.Warn().Err(err).Msg("commit failed, releasing reservation")
		a.compensate(ctx, sale.ID, rid, &log)
		switch apperr.KindOf(err) {
		case apperr.DurableConflict, apperr.PurchaseLimitExceeded, apperr.NotFound:
			return nil, err
		}
		return nil, apperr.Wrap(apperr.CommitFailed, "下单失败，请重试", err)
	}

	a.afterCommit(ctx, sale, rid, receipt, &log)
	return &receipt.Order, nil
}

// reserve 执行预留脚本；缓存冷启动时从账本回填后再试一次。
func (a *Arbiter) reserve(ctx context.Context, sale *model.Sale, req PurchaseRequest, rid string, now time.Time) error {
	ctx, span := tracer.Start(ctx, "arbiter.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("sale.id", sale.ID),
		attribute.Int64("quantity", req.Quantity),
	)

	args := redis.ReserveArgs{
		SaleID:        sale.ID,
		UserID:        req.UserID,
		ReservationID: rid,
		Quantity:      req.Quantity,
		Limit:         sale.PurchaseLimit,
		Now:           now,
	}
	out, err := a.cache.Reserve(ctx, args)
	if err == nil && out.Code == redis.ReserveCold {
		if err = a.cache.Warm(ctx, sale.ID, sale.RemainingUnits, string(sale.Status)); err == nil {
			out, err = a.cache.Reserve(ctx, args)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return apperr.Wrap(apperr.CommitFailed, "下单失败，请重试", err)
	}
	span.SetAttributes(attribute.String("reserve.result", out.Code.String()))

	switch out.Code {
	case redis.Reserved:
		return nil
	case redis.ReserveInsufficient:
		return apperr.New(apperr.InsufficientInventory, "库存不足")
	case redis.ReserveInactive:
		return apperr.New(apperr.SoldOut, "已售罄或活动已结束")
	case redis.ReserveLimitExceeded:
		return apperr.Newf(apperr.PurchaseLimitExceeded, "每人限购 %d 件", sale.PurchaseLimit)
	default:
		return apperr.Newf(apperr.Internal, "库存缓存不可用（%s）", out.Code)
	}
}

func (a *Arbiter) commit(ctx context.Context, saleID string, req PurchaseRequest, rid string) (*ledger.Receipt, error) {
	ctx, span := tracer.Start(ctx, "arbiter.commit")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", saleID))

	receipt, err := a.ledger.Commit(ctx, ledger.CommitRequest{
		SaleID:        saleID,
		UserID:        req.UserID,
		ReservationID: rid,
		Quantity:      req.Quantity,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("remaining", receipt.Remaining))
	return receipt, nil
}

// compensate 回补缓存。请求可能已被取消，所以用脱离取消的上下文。
func (a *Arbiter) compensate(ctx context.Context, saleID, rid string, log *zerolog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	cctx, span := tracer.Start(cctx, "arbiter.compensate")
	defer span.End()

	released, err := a.cache.Release(cctx, saleID, rid)
	switch {
	case err != nil:
		compensationTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		// 回补失败由对账修复
		log.Error().Err(err).Msg("release reservation failed")
	case released:
		compensationTotal.WithLabelValues("released").Inc()
	default:
		compensationTotal.WithLabelValues("noop").Inc()
	}
}

// afterCommit 结算 hold、广播库存，售罄时结束活动。这些步骤失败都不影响已成功的订单。
func (a *Arbiter) afterCommit(ctx context.Context, sale *model.Sale, rid string, receipt *ledger.Receipt, log *zerolog.Logger) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	if err := a.cache.Settle(bg, sale.ID, rid); err != nil {
		log.Warn().Err(err).Msg("settle reservation failed")
	}

	a.notifier.Publish(bg, newEvent(EventInventoryUpdate, StatusView{
		ID:               sale.ID,
		Sale:             sale.ID,
		CurrentInventory: receipt.Remaining,
		Status:           model.SaleActive,
	}, a.now()))

	if receipt.Remaining == 0 && a.ender != nil {
		if _, err := a.ender.EndSale(bg, sale.ID, model.EndByStockout); err != nil {
			log.Error().Err(err).Msg("end sale on stockout failed")
		}
	}
}
