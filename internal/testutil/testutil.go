// Package testutil 提供测试用的 SQLite 与内存 Redis。
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"flashsale/internal/store"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB 在临时目录创建一个已迁移的 SQLite 库，测试结束自动关闭。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "flash_sale_test.db")
	db, err := store.Open(context.Background(), store.Options{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: 1,
		LogLevel:     logger.Silent,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	return db
}

// NewRedis 启动 miniredis 并返回连到它的客户端。
func NewRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}
