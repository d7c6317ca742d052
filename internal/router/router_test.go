package router_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flashsale/internal/catalog"
	"flashsale/internal/config"
	"flashsale/internal/flashsale"
	"flashsale/internal/ledger"
	"flashsale/internal/router"
	"flashsale/internal/testutil"
	"flashsale/pkg/redis"

	"github.com/gin-gonic/gin"
)

const adminToken = "test-admin"

type envelope struct {
	Code   int             `json:"code"`
	Kind   string          `json:"kind"`
	Msg    string          `json:"msg"`
	Detail string          `json:"detail"`
	Data   json.RawMessage `json:"data"`
}

type server struct {
	t      *testing.T
	engine *gin.Engine
}

func newServer(t *testing.T, env string) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)

	cfg := config.Default()
	cfg.AppEnv = env
	cfg.AdminToken = adminToken

	cache := redis.NewStatusCache(rdb, time.Hour)
	l := ledger.New(db)
	life := flashsale.NewLifecycle(db, cache, l)
	r := gin.New()
	router.Setup(r, router.Deps{
		DB:          db,
		Redis:       rdb,
		Arbiter:     flashsale.NewArbiter(db, cache, l, life),
		Lifecycle:   life,
		Status:      flashsale.NewStatusReader(db, cache),
		Leaderboard: flashsale.NewLeaderboard(db),
		Catalog:     catalog.New(db),
		Config:      cfg,
	})
	return &server{t: t, engine: r}
}

func (s *server) do(method, path string, body any, admin bool) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: bad body %q", method, path, w.Body.String())
	}
	return w.Code, env
}

func (s *server) mustOK(method, path string, body any, out any) {
	s.t.Helper()
	code, env := s.do(method, path, body, true)
	if code != http.StatusOK || env.Code != 0 {
		s.t.Fatalf("%s %s: want 200, got %d %+v", method, path, code, env)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			s.t.Fatal(err)
		}
	}
}

// startedSale 走完整的管理流程：商品 → 库存 → 活动 → 开始。
func (s *server) startedSale(units int64) string {
	s.t.Helper()
	var product struct{ ID string }
	s.mustOK(http.MethodPost, "/api/products", gin.H{"name": "Lamp", "price": 1000}, &product)
	s.mustOK(http.MethodPost, "/api/products/inventory", gin.H{"product_id": product.ID, "quantity": 100}, nil)
	var sale struct {
		ID     string
		Status string
	}
	s.mustOK(http.MethodPost, "/api/flash-sales", gin.H{
		"product_id":      product.ID,
		"allocated_units": units,
		"price_per_unit":  500,
		"start_time":      time.Now().Add(-time.Minute).Format(time.RFC3339),
	}, &sale)
	if sale.Status != "scheduled" {
		s.t.Fatalf("want scheduled, got %q", sale.Status)
	}
	s.mustOK(http.MethodPost, "/api/flash-sales/"+sale.ID+"/start", nil, nil)
	return sale.ID
}

func TestPurchaseFlow(t *testing.T) {
	s := newServer(t, "development")
	saleID := s.startedSale(2)

	var order struct {
		OrderNo    string `json:"order_no"`
		Quantity   int64  `json:"quantity"`
		AmountPaid int64  `json:"amount_paid"`
		Status     string `json:"status"`
	}
	s.mustOK(http.MethodPost, "/api/purchase", gin.H{"sale_id": saleID, "user_id": "u1", "quantity": 2}, &order)
	if order.AmountPaid != 1000 || order.Status != "completed" || order.OrderNo == "" {
		t.Fatalf("unexpected order %+v", order)
	}

	code, env := s.do(http.MethodPost, "/api/purchase", gin.H{"sale_id": saleID, "user_id": "u2", "quantity": 1}, false)
	if code != http.StatusForbidden || env.Kind != "SoldOut" {
		t.Fatalf("want 403 SoldOut after stockout, got %d %+v", code, env)
	}

	var status struct {
		CurrentInventory int64  `json:"currentInventory"`
		Status           string `json:"status"`
	}
	s.mustOK(http.MethodGet, "/api/flash-sales/"+saleID, nil, &status)
	if status.CurrentInventory != 0 || status.Status != "ended" {
		t.Fatalf("unexpected status %+v", status)
	}

	var board []struct {
		Rank     int   `json:"rank"`
		Quantity int64 `json:"quantity"`
	}
	s.mustOK(http.MethodGet, "/api/flash-sales/"+saleID+"/leaderboard", nil, &board)
	if len(board) != 1 || board[0].Rank != 1 || board[0].Quantity != 2 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}
}

func TestRootPathsMatchAPIPaths(t *testing.T) {
	s := newServer(t, "development")
	saleID := s.startedSale(3)

	var order struct {
		Quantity int64  `json:"quantity"`
		Status   string `json:"status"`
	}
	s.mustOK(http.MethodPost, "/purchase", gin.H{"sale_id": saleID, "user_id": "u1", "quantity": 1}, &order)
	if order.Quantity != 1 || order.Status != "completed" {
		t.Fatalf("unexpected order %+v", order)
	}

	var status struct {
		CurrentInventory int64 `json:"currentInventory"`
	}
	s.mustOK(http.MethodGet, "/flash-sales/"+saleID, nil, &status)
	if status.CurrentInventory != 2 {
		t.Fatalf("want 2 left, got %d", status.CurrentInventory)
	}

	code, env := s.do(http.MethodPost, "/flash-sales/"+saleID+"/end", nil, false)
	if code != http.StatusUnauthorized || env.Kind != "Unauthorized" {
		t.Fatalf("root admin routes need the token too, got %d %+v", code, env)
	}
	s.mustOK(http.MethodPost, "/flash-sales/"+saleID+"/end", nil, nil)
}

func TestErrorEnvelope(t *testing.T) {
	s := newServer(t, "development")
	saleID := s.startedSale(5)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		admin  bool
		status int
		kind   string
	}{
		{"bad quantity", http.MethodPost, "/api/purchase", gin.H{"sale_id": saleID, "user_id": "u1", "quantity": 0}, false, http.StatusBadRequest, "InvalidArgument"},
		{"malformed body", http.MethodPost, "/api/purchase", "not-an-object", false, http.StatusBadRequest, "InvalidArgument"},
		{"unknown sale", http.MethodGet, "/api/flash-sales/nope", nil, false, http.StatusNotFound, "NotFound"},
		{"unknown sale purchase", http.MethodPost, "/api/purchase", gin.H{"sale_id": "nope", "user_id": "u1", "quantity": 1}, false, http.StatusNotFound, "NotFound"},
		{"over allocate", http.MethodPost, "/api/purchase", gin.H{"sale_id": saleID, "user_id": "u1", "quantity": 6}, false, http.StatusForbidden, "InsufficientInventory"},
		{"admin without token", http.MethodPost, "/api/flash-sales/" + saleID + "/end", nil, false, http.StatusUnauthorized, "Unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := s.do(tc.method, tc.path, tc.body, tc.admin)
			if code != tc.status || env.Kind != tc.kind || env.Code != tc.status {
				t.Fatalf("want %d %s, got %d %+v", tc.status, tc.kind, code, env)
			}
			if env.Msg == "" {
				t.Fatal("msg must be set")
			}
		})
	}
}

func TestLifecycleRoutes(t *testing.T) {
	s := newServer(t, "development")
	saleID := s.startedSale(3)

	var applied struct{ Reconciled bool }
	s.mustOK(http.MethodPost, "/api/flash-sales/"+saleID+"/reconcile", nil, &applied)
	if !applied.Reconciled {
		t.Fatal("idle sale should reconcile")
	}

	var ended struct {
		Status    string `json:"status"`
		EndReason string `json:"end_reason"`
	}
	s.mustOK(http.MethodPost, "/api/flash-sales/"+saleID+"/end", nil, &ended)
	if ended.Status != "ended" || ended.EndReason != "operator" {
		t.Fatalf("unexpected sale %+v", ended)
	}

	code, env := s.do(http.MethodPost, "/api/flash-sales/"+saleID+"/start", nil, true)
	if code != http.StatusConflict || env.Kind != "InvalidTransition" {
		t.Fatalf("want 409 InvalidTransition, got %d %+v", code, env)
	}
}

func TestCreateSaleInsufficientWarehouseStock(t *testing.T) {
	s := newServer(t, "development")
	var product struct{ ID string }
	s.mustOK(http.MethodPost, "/api/products", gin.H{"name": "Mug"}, &product)
	s.mustOK(http.MethodPost, "/api/products/inventory", gin.H{"product_id": product.ID, "quantity": 1}, nil)

	code, env := s.do(http.MethodPost, "/api/flash-sales", gin.H{"product_id": product.ID, "allocated_units": 2}, true)
	if code != http.StatusForbidden || env.Kind != "InsufficientWarehouseStock" {
		t.Fatalf("want 403 InsufficientWarehouseStock, got %d %+v", code, env)
	}
}

func TestDetailHiddenInProduction(t *testing.T) {
	dev := newServer(t, "development")
	_, env := dev.do(http.MethodPost, "/api/purchase", "garbage", false)
	if env.Detail == "" {
		t.Fatal("development responses should include detail")
	}

	prod := newServer(t, "production")
	_, env = prod.do(http.MethodPost, "/api/purchase", "garbage", false)
	if env.Detail != "" {
		t.Fatalf("production must not leak detail, got %q", env.Detail)
	}
}

func TestHealthAndPing(t *testing.T) {
	s := newServer(t, "development")
	for _, path := range []string{"/ping", "/healthz"} {
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", path, w.Code)
		}
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("go_goroutines")) {
		t.Fatalf("metrics endpoint not serving, got %d", w.Code)
	}
}
