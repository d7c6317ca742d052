package flashsale_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"flashsale/internal/flashsale"
	"flashsale/internal/ledger"
	"flashsale/internal/model"
	"flashsale/internal/testutil"
	"flashsale/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"
)

type recorder struct {
	mu     sync.Mutex
	events []flashsale.Event
}

func (r *recorder) Publish(_ context.Context, ev flashsale.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(typ flashsale.EventType) []flashsale.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []flashsale.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type env struct {
	db     *gorm.DB
	mr     *miniredis.Miniredis
	cache  *redis.StatusCache
	ledger *ledger.Ledger
	life   *flashsale.Lifecycle
	events *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	e := &env{
		db:     db,
		mr:     mr,
		cache:  redis.NewStatusCache(rdb, time.Hour),
		ledger: ledger.New(db),
		events: &recorder{},
	}
	e.life = flashsale.NewLifecycle(db, e.cache, e.ledger, flashsale.WithLifecycleNotifier(e.events))
	return e
}

func (e *env) arbiter(l flashsale.Committer, opts ...flashsale.ArbiterOption) *flashsale.Arbiter {
	if l == nil {
		l = e.ledger
	}
	opts = append([]flashsale.ArbiterOption{
		flashsale.WithNotifier(e.events),
		flashsale.WithTimeout(10 * time.Second),
	}, opts...)
	return flashsale.NewArbiter(e.db, e.cache, l, e.life, opts...)
}

// createSale 建商品、仓库库存和活动（scheduled），单价 99900。
func (e *env) createSale(t *testing.T, units, limit int64) *model.Sale {
	t.Helper()
	return e.createSalePriced(t, units, limit, 99900)
}

func (e *env) createSalePriced(t *testing.T, units, limit, price int64) *model.Sale {
	t.Helper()
	p := &model.Product{Name: "Flash Phone", Price: 399900}
	if err := e.db.Create(p).Error; err != nil {
		t.Fatal(err)
	}
	if err := e.db.Create(&model.Inventory{ProductID: p.ID, Quantity: units * 2}).Error; err != nil {
		t.Fatal(err)
	}
	sale, err := e.life.CreateSale(context.Background(), flashsale.CreateSaleInput{
		ProductID:      p.ID,
		AllocatedUnits: units,
		StartTime:      time.Now().Add(-time.Minute),
		PricePerUnit:   price,
		PurchaseLimit:  limit,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sale
}

// activeSale 创建并立即开始一个活动。
func (e *env) activeSale(t *testing.T, units, limit int64) *model.Sale {
	t.Helper()
	return e.activeSalePriced(t, units, limit, 99900)
}

func (e *env) activeSalePriced(t *testing.T, units, limit, price int64) *model.Sale {
	t.Helper()
	sale := e.createSalePriced(t, units, limit, price)
	started, err := e.life.StartSale(context.Background(), sale.ID, nil, nil)
	if err != nil {
		t.Fatalf("start sale: %v", err)
	}
	return started
}

func (e *env) durable(t *testing.T, saleID string) *model.Sale {
	t.Helper()
	var s model.Sale
	if err := e.db.Where("id = ?", saleID).Take(&s).Error; err != nil {
		t.Fatal(err)
	}
	return &s
}

func (e *env) cached(t *testing.T, saleID string) redis.Snapshot {
	t.Helper()
	snap, err := e.cache.Snapshot(context.Background(), saleID)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func (e *env) orderCount(t *testing.T, saleID string) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&model.Order{}).Where("sale_id = ?", saleID).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}
