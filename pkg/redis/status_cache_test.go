package redis_test

import (
	"context"
	"testing"
	"time"

	"flashsale/internal/testutil"
	"flashsale/pkg/redis"
)

func newCache(t *testing.T) *redis.StatusCache {
	t.Helper()
	_, rdb := testutil.NewRedis(t)
	return redis.NewStatusCache(rdb, time.Hour)
}

func reserve(t *testing.T, c *redis.StatusCache, user, rid string, qty, limit int64) redis.ReserveOutcome {
	t.Helper()
	out, err := c.Reserve(context.Background(), redis.ReserveArgs{
		SaleID: "s1", UserID: user, ReservationID: rid, Quantity: qty, Limit: limit, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return out
}

func mustSnapshot(t *testing.T, c *redis.StatusCache) redis.Snapshot {
	t.Helper()
	snap, err := c.Snapshot(context.Background(), "s1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func TestReserveColdThenWarm(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	if out := reserve(t, c, "u1", "r1", 1, 0); out.Code != redis.ReserveCold {
		t.Fatalf("want cold, got %s", out.Code)
	}
	if err := c.Warm(ctx, "s1", 5, "active"); err != nil {
		t.Fatal(err)
	}
	// 第二次 Warm 不得覆盖
	if err := c.Warm(ctx, "s1", 99, "ended"); err != nil {
		t.Fatal(err)
	}
	out := reserve(t, c, "u1", "r1", 2, 0)
	if out.Code != redis.Reserved || out.Remaining != 3 {
		t.Fatalf("want reserved with 3 left, got %+v", out)
	}
	snap := mustSnapshot(t, c)
	if !snap.Complete() || snap.Inventory != 3 || snap.Status != "active" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestReserveRejectionsLeaveCounterUntouched(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	if err := c.Seed(ctx, "s1", 3, "active", map[string]int64{"u1": 2}); err != nil {
		t.Fatal(err)
	}

	if out := reserve(t, c, "u2", "r1", 4, 0); out.Code != redis.ReserveInsufficient {
		t.Fatalf("want insufficient, got %s", out.Code)
	}
	if out := reserve(t, c, "u1", "r2", 1, 2); out.Code != redis.ReserveLimitExceeded {
		t.Fatalf("want limit exceeded, got %s", out.Code)
	}
	if snap := mustSnapshot(t, c); snap.Inventory != 3 {
		t.Fatalf("rejections must not change inventory, got %d", snap.Inventory)
	}
	if n, _ := c.Holds(ctx, "s1"); n != 0 {
		t.Fatalf("rejections must not leave holds, got %d", n)
	}

	if err := c.MarkEnded(ctx, "s1", false); err != nil {
		t.Fatal(err)
	}
	if out := reserve(t, c, "u2", "r3", 1, 0); out.Code != redis.ReserveInactive {
		t.Fatalf("want inactive, got %s", out.Code)
	}
}

func TestReserveExactlyDrainsToZero(t *testing.T) {
	c := newCache(t)
	if err := c.Seed(context.Background(), "s1", 2, "active", nil); err != nil {
		t.Fatal(err)
	}
	if out := reserve(t, c, "u1", "r1", 2, 0); out.Code != redis.Reserved || out.Remaining != 0 {
		t.Fatalf("want reserved with 0 left, got %+v", out)
	}
	if out := reserve(t, c, "u2", "r2", 1, 0); out.Code != redis.ReserveInsufficient {
		t.Fatalf("want insufficient, got %s", out.Code)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	if err := c.Seed(ctx, "s1", 5, "active", nil); err != nil {
		t.Fatal(err)
	}
	reserve(t, c, "u1", "r1", 2, 2)

	ok, err := c.Release(ctx, "s1", "r1")
	if err != nil || !ok {
		t.Fatalf("first release: ok=%v err=%v", ok, err)
	}
	ok, err = c.Release(ctx, "s1", "r1")
	if err != nil || ok {
		t.Fatalf("second release must be a no-op: ok=%v err=%v", ok, err)
	}
	if snap := mustSnapshot(t, c); snap.Inventory != 5 {
		t.Fatalf("want 5 after release, got %d", snap.Inventory)
	}
	// 回补后限购计数也应恢复
	if out := reserve(t, c, "u1", "r2", 2, 2); out.Code != redis.Reserved {
		t.Fatalf("limit should be restored after release, got %s", out.Code)
	}
}

func TestReleaseUnknownReservation(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	if err := c.Seed(ctx, "s1", 5, "active", nil); err != nil {
		t.Fatal(err)
	}
	ok, err := c.Release(ctx, "s1", "never-reserved")
	if err != nil || ok {
		t.Fatalf("want no-op, got ok=%v err=%v", ok, err)
	}
	if snap := mustSnapshot(t, c); snap.Inventory != 5 {
		t.Fatalf("inventory must not move, got %d", snap.Inventory)
	}
}

func TestSettleThenReleaseDoesNothing(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	if err := c.Seed(ctx, "s1", 5, "active", nil); err != nil {
		t.Fatal(err)
	}
	reserve(t, c, "u1", "r1", 1, 0)
	if err := c.Settle(ctx, "s1", "r1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Release(ctx, "s1", "r1"); ok {
		t.Fatal("settled reservation must not be released")
	}
	if snap := mustSnapshot(t, c); snap.Inventory != 4 {
		t.Fatalf("want 4, got %d", snap.Inventory)
	}
}

func TestReconcileGuards(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	if err := c.Seed(ctx, "s1", 5, "active", nil); err != nil {
		t.Fatal(err)
	}
	reserve(t, c, "u1", "r1", 1, 0)

	seq, err := c.Seq(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	args := redis.ReconcileArgs{
		SaleID:    "s1",
		ExpectSeq: seq,
		Inventory: 5,
		Status:    "active",
		Cutoff:    time.Now().Add(-time.Minute),
	}

	// 存在新鲜 hold：放弃
	ok, err := c.Reconcile(ctx, args)
	if err != nil || ok {
		t.Fatalf("fresh hold must block reconcile: ok=%v err=%v", ok, err)
	}

	// seq 已变化：放弃
	stale := args
	stale.ExpectSeq = seq - 1
	stale.Cutoff = time.Now().Add(time.Minute)
	if ok, _ := c.Reconcile(ctx, stale); ok {
		t.Fatal("seq mismatch must block reconcile")
	}

	// hold 已过期（进程崩溃遗留）：按账本重建
	args.Cutoff = time.Now().Add(time.Minute)
	args.Buyers = map[string]int64{"u9": 3}
	ok, err = c.Reconcile(ctx, args)
	if err != nil || !ok {
		t.Fatalf("want reconcile to apply: ok=%v err=%v", ok, err)
	}
	if snap := mustSnapshot(t, c); snap.Inventory != 5 {
		t.Fatalf("want ledger value 5, got %d", snap.Inventory)
	}
	if n, _ := c.Holds(ctx, "s1"); n != 0 {
		t.Fatalf("want holds cleared, got %d", n)
	}
	if out := reserve(t, c, "u9", "r2", 1, 3); out.Code != redis.ReserveLimitExceeded {
		t.Fatalf("buyers should be rebuilt from ledger, got %s", out.Code)
	}
}
