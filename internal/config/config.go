package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
// 若设置了 CONFIG_FILE，先读取 YAML 作为基础值，再由环境变量覆盖。
type AppConfig struct {
	AppEnv   string `yaml:"app_env"`
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	// DBDriver 取值 sqlite / postgres / mysql；DBDSN 对 sqlite 是文件路径。
	DBDriver       string `yaml:"db_driver"`
	DBDSN          string `yaml:"db_dsn"`
	DBMaxOpenConns int    `yaml:"db_max_open_conns"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	// 事件推送：local 只推本机 websocket；kafka 先写 Kafka，再由各节点消费后推送。
	NotifyMode   string   `yaml:"notify_mode"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaGroupID string   `yaml:"kafka_group_id"`
	NotifyBuffer int      `yaml:"notify_buffer"`

	// 购买接口限流、库存缓存与对账策略
	BuyRateLimit      int           `yaml:"buy_rate_limit"`
	BuyRateWindow     time.Duration `yaml:"-"`
	StockCacheTTL     time.Duration `yaml:"-"`
	ReserveTimeout    time.Duration `yaml:"-"`
	ReconcileInterval time.Duration `yaml:"-"`
	HoldStaleAfter    time.Duration `yaml:"-"`

	// 管理接口的简单令牌（为空则不校验）
	AdminToken string `yaml:"admin_token"`

	// 为空则不开启链路追踪
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// IsProduction 决定错误响应里是否暴露内部细节。
func (c AppConfig) IsProduction() bool { return c.AppEnv == "production" }

// Default 返回全部默认值。
func Default() AppConfig {
	return AppConfig{
		AppEnv:            "development",
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		DBDriver:          "sqlite",
		DBDSN:             "flash_sale.db",
		DBMaxOpenConns:    1,
		RedisAddr:         "localhost:6379",
		RedisDB:           0,
		NotifyMode:        "local",
		KafkaBrokers:      []string{"localhost:9092"},
		KafkaTopic:        "flash-sale-events",
		KafkaGroupID:      "flash-sale-events",
		NotifyBuffer:      1024,
		BuyRateLimit:      1000,
		BuyRateWindow:     time.Second,
		StockCacheTTL:     24 * time.Hour,
		ReserveTimeout:    3 * time.Second,
		ReconcileInterval: 30 * time.Second,
		HoldStaleAfter:    2 * time.Minute,
		ServiceName:       "flash-sale",
	}
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return AppConfig{}, err
		}
	}

	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", cfg.DBDriver))
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.NotifyMode = strings.ToLower(getEnv("NOTIFY_MODE", cfg.NotifyMode))
	cfg.KafkaBrokers = splitCSV(getEnv("KAFKA_BROKERS", strings.Join(cfg.KafkaBrokers, ",")))
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", cfg.AdminToken)
	cfg.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", cfg.JaegerEndpoint)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)

	var err error
	if cfg.DBMaxOpenConns, err = getEnvInt("DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns); err != nil {
		return AppConfig{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.NotifyBuffer, err = getEnvInt("NOTIFY_BUFFER", cfg.NotifyBuffer); err != nil {
		return AppConfig{}, fmt.Errorf("invalid NOTIFY_BUFFER: %w", err)
	}
	if cfg.BuyRateLimit, err = getEnvInt("BUY_RATE_LIMIT", cfg.BuyRateLimit); err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
	}
	if cfg.BuyRateWindow, err = getEnvDuration("BUY_RATE_WINDOW_SEC", cfg.BuyRateWindow, time.Second); err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_WINDOW_SEC: %w", err)
	}
	if cfg.StockCacheTTL, err = getEnvDuration("STOCK_CACHE_TTL_HOUR", cfg.StockCacheTTL, time.Hour); err != nil {
		return AppConfig{}, fmt.Errorf("invalid STOCK_CACHE_TTL_HOUR: %w", err)
	}
	if cfg.ReserveTimeout, err = getEnvDuration("RESERVE_TIMEOUT_MS", cfg.ReserveTimeout, time.Millisecond); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RESERVE_TIMEOUT_MS: %w", err)
	}
	if cfg.ReconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL_SEC", cfg.ReconcileInterval, time.Second); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RECONCILE_INTERVAL_SEC: %w", err)
	}
	if cfg.HoldStaleAfter, err = getEnvDuration("HOLD_STALE_AFTER_SEC", cfg.HoldStaleAfter, time.Second); err != nil {
		return AppConfig{}, fmt.Errorf("invalid HOLD_STALE_AFTER_SEC: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 校验组合后的配置。
func (c AppConfig) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("DB_DRIVER must be one of sqlite/postgres/mysql, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be > 0")
	}
	if c.BuyRateLimit <= 0 {
		return fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	if c.BuyRateWindow <= 0 {
		return fmt.Errorf("BUY_RATE_WINDOW_SEC must be > 0")
	}
	if c.StockCacheTTL <= 0 {
		return fmt.Errorf("STOCK_CACHE_TTL_HOUR must be > 0")
	}
	if c.ReserveTimeout <= 0 {
		return fmt.Errorf("RESERVE_TIMEOUT_MS must be > 0")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL_SEC must be > 0")
	}
	if c.HoldStaleAfter <= 0 {
		return fmt.Errorf("HOLD_STALE_AFTER_SEC must be > 0")
	}
	if c.NotifyBuffer <= 0 {
		return fmt.Errorf("NOTIFY_BUFFER must be > 0")
	}
	switch c.NotifyMode {
	case "local":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if c.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
	default:
		return fmt.Errorf("NOTIFY_MODE must be local or kafka, got %q", c.NotifyMode)
	}
	return nil
}

// loadFile 读取 YAML 配置文件作为基础值。
func loadFile(path string, cfg *AppConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvDuration 以 unit 为单位读取整数环境变量。
func getEnvDuration(key string, fallback, unit time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, int(fallback/unit))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
