package catalog_test

import (
	"context"
	"testing"

	"flashsale/internal/apperr"
	"flashsale/internal/catalog"
	"flashsale/internal/testutil"
)

func TestSetInventoryUpserts(t *testing.T) {
	c := catalog.New(testutil.NewDB(t))
	ctx := context.Background()

	p, err := c.CreateProduct(ctx, catalog.ProductInput{Name: "Keyboard", Price: 4999})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.SetInventory(ctx, catalog.InventoryInput{ProductID: p.ID, Quantity: 10}); err != nil {
		t.Fatal(err)
	}
	inv, err := c.SetInventory(ctx, catalog.InventoryInput{ProductID: p.ID, Quantity: 25})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Quantity != 25 {
		t.Fatalf("want 25, got %d", inv.Quantity)
	}
}

func TestSetInventoryUnknownProduct(t *testing.T) {
	c := catalog.New(testutil.NewDB(t))
	_, err := c.SetInventory(context.Background(), catalog.InventoryInput{ProductID: "missing", Quantity: 1})
	if !apperr.IsKind(err, apperr.NotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestCreateUser(t *testing.T) {
	c := catalog.New(testutil.NewDB(t))
	ctx := context.Background()

	u, err := c.CreateUser(ctx, catalog.UserInput{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if u.ID == "" {
		t.Fatal("want generated id")
	}
	if _, err := c.CreateUser(ctx, catalog.UserInput{Name: "Ada 2", Email: "ada@example.com"}); !apperr.IsKind(err, apperr.InvalidArgument) {
		t.Fatalf("duplicate email: want InvalidArgument, got %v", err)
	}
	if _, err := c.CreateUser(ctx, catalog.UserInput{Name: "", Email: "x@example.com"}); !apperr.IsKind(err, apperr.InvalidArgument) {
		t.Fatalf("empty name: want InvalidArgument, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	c := catalog.New(testutil.NewDB(t))
	if _, err := c.CreateProduct(context.Background(), catalog.ProductInput{Name: "  "}); !apperr.IsKind(err, apperr.InvalidArgument) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestListProducts(t *testing.T) {
	c := catalog.New(testutil.NewDB(t))
	ctx := context.Background()
	for _, name := range []string{"A", "B"} {
		if _, err := c.CreateProduct(ctx, catalog.ProductInput{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	list, err := c.ListProducts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 products, got %d", len(list))
	}
}
