package flashsale

import (
	"context"
	"time"

	"flashsale/internal/apperr"
	"flashsale/internal/model"
	"flashsale/pkg/redis"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// StatusView 活动状态视图。缓存命中时只有 id、currentInventory、status；
// 回源数据库时附带总量和时间窗。Sale 只在 inventoryUpdate 事件里填写。
type StatusView struct {
	ID               string           `json:"id"`
	Sale             string           `json:"sale,omitempty"`
	CurrentInventory int64            `json:"currentInventory"`
	Status           model.SaleStatus `json:"status"`
	TotalInventory   *int64           `json:"totalInventory,omitempty"`
	StartTime        *time.Time       `json:"startTime,omitempty"`
	EndTime          *time.Time       `json:"endTime,omitempty"`
}

const loadTimeout = 3 * time.Second

// StatusReader 缓存优先读取活动状态，缓存缺失时回源并回填。
type StatusReader struct {
	db    *gorm.DB
	cache *redis.StatusCache
	group singleflight.Group
}

func NewStatusReader(db *gorm.DB, cache *redis.StatusCache) *StatusReader {
	return &StatusReader{db: db, cache: cache}
}

// Get 读取活动状态。同一活动的并发回源合并成一次数据库查询。
func (r *StatusReader) Get(ctx context.Context, saleID string) (*StatusView, error) {
	snap, err := r.cache.Snapshot(ctx, saleID)
	if err != nil {
		// 缓存不可用时直接回源，状态读取不应因此失败
		zerolog.Ctx(ctx).Warn().Err(err).Str("sale_id", saleID).Msg("status cache read failed")
	} else if snap.Complete() {
		return &StatusView{
			ID:               saleID,
			CurrentInventory: snap.Inventory,
			Status:           model.SaleStatus(snap.Status),
		}, nil
	}

	v, err, _ := r.group.Do(saleID, func() (any, error) {
		// 合并后的回源为所有等待者服务，不能随第一个请求一起被取消
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		sale, err := loadSale(lctx, r.db, saleID)
		if err != nil {
			return nil, err
		}
		if werr := r.cache.Warm(lctx, saleID, sale.RemainingUnits, string(sale.Status)); werr != nil {
			zerolog.Ctx(ctx).Warn().Err(werr).Str("sale_id", saleID).Msg("status cache warm failed")
		}
		return fullView(sale), nil
	})
	if err != nil {
		return nil, err
	}
	view := *v.(*StatusView)
	return &view, nil
}

func shortView(s *model.Sale) StatusView {
	return StatusView{ID: s.ID, CurrentInventory: s.RemainingUnits, Status: s.Status}
}

func fullView(s *model.Sale) *StatusView {
	v := shortView(s)
	total := s.AllocatedUnits
	start := s.StartTime
	v.TotalInventory = &total
	v.StartTime = &start
	v.EndTime = s.EndTime
	return &v
}

// loadSale 按 ID 读取活动，不存在时返回 NotFound。
func loadSale(ctx context.Context, db *gorm.DB, saleID string) (*model.Sale, error) {
	var sale model.Sale
	if err := db.WithContext(ctx).Where("id = ?", saleID).Take(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "活动不存在")
		}
		return nil, errors.Wrap(err, "load sale")
	}
	return &sale, nil
}
