package flashsale

import (
	"context"
	"time"

	"flashsale/internal/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Reconciler 周期性地对所有进行中的活动做缓存对账，
// 修复进程在预留与落库之间崩溃留下的偏差。
type Reconciler struct {
	db        *gorm.DB
	lifecycle *Lifecycle
	interval  time.Duration
}

func NewReconciler(db *gorm.DB, lifecycle *Lifecycle, interval time.Duration) *Reconciler {
	return &Reconciler{db: db, lifecycle: lifecycle, interval: interval}
}

// Run 阻塞直到 ctx 取消。
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce 对账一轮，返回成功对齐的活动数。单个活动失败不影响其他活动。
func (r *Reconciler) RunOnce(ctx context.Context) int {
	log := zerolog.Ctx(ctx)

	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Sale{}).
		Where("status = ?", model.SaleActive).
		Pluck("id", &ids).Error; err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("list active sales failed")
		}
		return 0
	}

	applied := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return applied
		}
		ok, err := r.lifecycle.Reconcile(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("sale_id", id).Msg("reconcile sale failed")
			continue
		}
		if ok {
			applied++
		}
	}
	return applied
}
