package flashsale_test

import (
	"context"
	"testing"

	"flashsale/internal/flashsale"
	"flashsale/internal/model"
)

func TestLeaderboardRanksByPurchaseOrder(t *testing.T) {
	e := newEnv(t)
	sale := e.activeSale(t, 10, 0)
	ctx := context.Background()
	for _, u := range []model.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
	} {
		u := u
		if err := e.db.Create(&u).Error; err != nil {
			t.Fatal(err)
		}
	}

	arb := e.arbiter(nil)
	buys := []struct {
		user string
		qty  int64
	}{{"bob", 1}, {"alice", 2}, {"stranger", 1}, {"bob", 3}}
	for _, b := range buys {
		if _, err := arb.Purchase(ctx, flashsale.PurchaseRequest{SaleID: sale.ID, UserID: b.user, Quantity: b.qty}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := flashsale.NewLeaderboard(e.db).ForSale(ctx, sale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(buys) {
		t.Fatalf("want %d entries, got %d", len(buys), len(entries))
	}
	for i, b := range buys {
		got := entries[i]
		if got.Rank != i+1 || got.User.ID != b.user || got.Quantity != b.qty {
			t.Fatalf("entry %d: want rank %d %s x%d, got %+v", i, i+1, b.user, b.qty, got)
		}
		if i > 0 && got.CreatedAt.Before(entries[i-1].CreatedAt) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
	if entries[1].User.Name != "Alice" || entries[1].User.Email != "alice@example.com" {
		t.Fatalf("user fields not joined: %+v", entries[1].User)
	}
	if entries[2].User.Name != "" {
		t.Fatalf("unknown user should have empty name, got %+v", entries[2].User)
	}
}

func TestLeaderboardEmpty(t *testing.T) {
	e := newEnv(t)
	entries, err := flashsale.NewLeaderboard(e.db).ForSale(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("want empty, got %d", len(entries))
	}
}
