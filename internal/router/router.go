package router

import (
	"context"
	"net/http"
	"time"

	"flashsale/internal/apperr"
	"flashsale/internal/catalog"
	"flashsale/internal/config"
	"flashsale/internal/flashsale"
	"flashsale/internal/middleware"
	"flashsale/internal/model"
	"flashsale/internal/realtime"
	"flashsale/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Deps 是路由需要的全部组件。
type Deps struct {
	DB          *gorm.DB
	Redis       *rd.Client
	Arbiter     *flashsale.Arbiter
	Lifecycle   *flashsale.Lifecycle
	Status      *flashsale.StatusReader
	Leaderboard *flashsale.Leaderboard
	Catalog     *catalog.Catalog
	Hub         *realtime.Hub
	Config      config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/healthz", healthz(d.DB, d.Redis))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.Hub != nil {
		r.GET("/ws", gin.WrapF(d.Hub.ServeWS))
	}

	h := &handlers{Deps: d, production: d.Config.IsProduction()}
	// 业务接口同时挂在 /api 下和根路径下，两套路径行为一致
	h.mount(r.Group("/api"))
	h.mount(r.Group(""))
}

func (h *handlers) mount(g *gin.RouterGroup) {
	admin := g.Group("", middleware.AdminToken(h.Config.AdminToken))

	// Catalog
	g.GET("/products", h.listProducts)
	admin.POST("/products", h.createProduct)
	admin.POST("/products/inventory", h.setInventory)
	admin.POST("/users", h.createUser)

	// Flash sales
	admin.POST("/flash-sales", h.createSale)
	admin.POST("/flash-sales/:id/start", h.startSale)
	admin.POST("/flash-sales/:id/end", h.endSale)
	admin.POST("/flash-sales/:id/reconcile", h.reconcile)
	g.GET("/flash-sales/:id", h.saleStatus)
	g.GET("/flash-sales/:id/leaderboard", h.leaderboard)
	g.POST("/purchase", middleware.RedisRateLimit(h.Redis, h.Config.BuyRateLimit, h.Config.BuyRateWindow), h.purchase)
}

type handlers struct {
	Deps
	production bool
}

// ok 统一成功响应：{code:0, msg, data}
func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "success", "data": data})
}

// fail 按错误类别查表得到状态码；非生产环境附带内部原因便于排查。
func (h *handlers) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := kind.Status()
	body := gin.H{
		"code": status,
		"kind": kind,
		"msg":  apperr.Message(err),
	}
	if !h.production {
		body["detail"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *handlers) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, apperr.Wrap(apperr.InvalidArgument, "请求参数格式错误", err))
		return false
	}
	return true
}

// healthz 检查数据库与 Redis 是否可用。
func healthz(db *gorm.DB, rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{"db": "ok", "redis": "ok"}
		healthy := true
		if err := store.Ping(ctx, db); err != nil {
			checks["db"] = err.Error()
			healthy = false
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "msg": "unhealthy", "data": checks})
			return
		}
		ok(c, checks)
	}
}

func (h *handlers) listProducts(c *gin.Context) {
	list, err := h.Catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

func (h *handlers) createProduct(c *gin.Context) {
	var req catalog.ProductInput
	if !h.bind(c, &req) {
		return
	}
	p, err := h.Catalog.CreateProduct(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, p)
}

func (h *handlers) setInventory(c *gin.Context) {
	var req catalog.InventoryInput
	if !h.bind(c, &req) {
		return
	}
	inv, err := h.Catalog.SetInventory(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, inv)
}

func (h *handlers) createUser(c *gin.Context) {
	var req catalog.UserInput
	if !h.bind(c, &req) {
		return
	}
	u, err := h.Catalog.CreateUser(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, u)
}

// createSale 从仓库库存划拨，创建 scheduled 活动。时间使用 RFC3339。
func (h *handlers) createSale(c *gin.Context) {
	var req flashsale.CreateSaleInput
	if !h.bind(c, &req) {
		return
	}
	sale, err := h.Lifecycle.CreateSale(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, sale)
}

func (h *handlers) startSale(c *gin.Context) {
	var req struct {
		StartTime *time.Time `json:"start_time"`
		EndTime   *time.Time `json:"end_time"`
	}
	// body 可省略
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	sale, err := h.Lifecycle.StartSale(c.Request.Context(), c.Param("id"), req.StartTime, req.EndTime)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, sale)
}

func (h *handlers) endSale(c *gin.Context) {
	sale, err := h.Lifecycle.EndSale(c.Request.Context(), c.Param("id"), model.EndByOperator)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, sale)
}

func (h *handlers) reconcile(c *gin.Context) {
	applied, err := h.Lifecycle.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"reconciled": applied})
}

// saleStatus 缓存优先读取活动状态。
func (h *handlers) saleStatus(c *gin.Context) {
	view, err := h.Status.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, view)
}

func (h *handlers) leaderboard(c *gin.Context) {
	entries, err := h.Leaderboard.ForSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, entries)
}

// purchase 是秒杀下单入口：缓存原子预留 → 事务落库 → 失败回补。
// 同步返回订单，不再需要轮询结果。
func (h *handlers) purchase(c *gin.Context) {
	var req flashsale.PurchaseRequest
	if !h.bind(c, &req) {
		return
	}
	order, err := h.Arbiter.Purchase(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, order)
}
