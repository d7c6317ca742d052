package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flashsale/internal/catalog"
	"flashsale/internal/config"
	"flashsale/internal/flashsale"
	"flashsale/internal/ledger"
	"flashsale/internal/middleware"
	"flashsale/internal/queue"
	"flashsale/internal/realtime"
	"flashsale/internal/router"
	"flashsale/internal/store"
	"flashsale/internal/tracing"
	"flashsale/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"
)

func main() {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	lg := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = lg.WithContext(ctx)

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal().Err(err).Msg("server exited")
	}
	lg.Info().Msg("server stopped")
}

func newLogger(cfg config.AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var lg zerolog.Logger
	if cfg.IsProduction() {
		lg = zerolog.New(os.Stdout)
	} else {
		lg = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	}
	lg = lg.With().Timestamp().Str("service", cfg.ServiceName).Logger()
	log.Logger = lg
	return lg
}

func run(ctx context.Context, cfg config.AppConfig, lg zerolog.Logger) error {
	// 1. 数据库：连接并自动建表
	dbLevel := logger.Warn
	if cfg.IsProduction() {
		dbLevel = logger.Error
	}
	db, err := store.Open(ctx, store.Options{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DBDSN,
		MaxOpenConns: cfg.DBMaxOpenConns,
		LogLevel:     dbLevel,
	})
	if err != nil {
		return err
	}
	defer store.Close(db)

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	// 3. 链路追踪
	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.JaegerEndpoint, lg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	// 4. 事件推送：local 直接推本机 Hub；kafka 先写 Kafka，各节点消费后推本机 Hub
	hub := realtime.NewHub(lg)
	g.Go(func() error { hub.Run(gctx); return nil })

	var notifier flashsale.Notifier = hub
	if cfg.NotifyMode == "kafka" {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.NotifyBuffer, lg)
		defer producer.Close()
		groupID := cfg.KafkaGroupID + "-" + nodeID()
		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, groupID, hub, lg)
		defer consumer.Close()
		g.Go(func() error { producer.Run(gctx); return nil })
		g.Go(func() error { consumer.Run(gctx); return nil })
		notifier = producer
		lg.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Str("group", groupID).Msg("kafka notifier enabled")
	}

	// 5. 业务组件
	cache := redis.NewStatusCache(rdb, cfg.StockCacheTTL)
	l := ledger.New(db)
	lifecycle := flashsale.NewLifecycle(db, cache, l,
		flashsale.WithLifecycleNotifier(notifier),
		flashsale.WithHoldStaleAfter(cfg.HoldStaleAfter),
	)
	arbiter := flashsale.NewArbiter(db, cache, l, lifecycle,
		flashsale.WithNotifier(notifier),
		flashsale.WithTimeout(cfg.ReserveTimeout),
	)
	reconciler := flashsale.NewReconciler(db, lifecycle, cfg.ReconcileInterval)
	g.Go(func() error { reconciler.Run(gctx); return nil })

	// 6. HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(lg))
	router.Setup(r, router.Deps{
		DB:          db,
		Redis:       rdb,
		Arbiter:     arbiter,
		Lifecycle:   lifecycle,
		Status:      flashsale.NewStatusReader(db, cache),
		Leaderboard: flashsale.NewLeaderboard(db),
		Catalog:     catalog.New(db),
		Hub:         hub,
		Config:      cfg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		lg.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBDriver).Str("notify", cfg.NotifyMode).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// nodeID 用于拼接每个节点独立的消费组，保证每个节点都能收到全部事件。
func nodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()[:8]
}
