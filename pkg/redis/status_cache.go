package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReserve：Redis 内原子「校验状态 → 校验限购 → DECRBY → 不足则原地回补」。
// KEYS = inventory, status, buyers, holds, seq
// ARGV[1]=数量 ARGV[2]=user_id ARGV[3]=限购(0不限) ARGV[4]=reservation_id ARGV[5]=当前时间戳 ARGV[6]=ttl秒
// 返回扣减后的剩余量（>=0），或负数错误码（见 ReserveCode）。
var luaReserve = rd.NewScript(`
local status = redis.call('GET', KEYS[2])
if not status then
  return -4
end
if status ~= 'active' then
  return -2
end
local qty = tonumber(ARGV[1])
local limit = tonumber(ARGV[3])
if limit > 0 then
  local bought = tonumber(redis.call('HGET', KEYS[3], ARGV[2]) or '0')
  if bought + qty > limit then
    return -3
  end
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -4
end
local left = redis.call('DECRBY', KEYS[1], qty)
if left < 0 then
  redis.call('INCRBY', KEYS[1], qty)
  return -1
end
redis.call('HINCRBY', KEYS[3], ARGV[2], qty)
redis.call('HSET', KEYS[4], ARGV[4], ARGV[2] .. ':' .. ARGV[1] .. ':' .. ARGV[5])
local ttl = tonumber(ARGV[6])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[3], ttl)
  redis.call('EXPIRE', KEYS[4], ttl)
end
redis.call('INCR', KEYS[5])
return left
`)

// ReserveCode 是预留脚本的结果分类。
type ReserveCode int

const (
	Reserved ReserveCode = iota
	ReserveInsufficient
	ReserveInactive
	ReserveLimitExceeded
	ReserveCold
)

func (c ReserveCode) String() string {
	switch c {
	case Reserved:
		return "reserved"
	case ReserveInsufficient:
		return "insufficient"
	case ReserveInactive:
		return "inactive"
	case ReserveLimitExceeded:
		return "limit_exceeded"
	case ReserveCold:
		return "cold"
	default:
		return "unknown"
	}
}

// ReserveArgs 一次预留请求。
type ReserveArgs struct {
	SaleID        string
	UserID        string
	ReservationID string
	Quantity      int64
	Limit         int64
	Now           time.Time
}

// ReserveOutcome 预留结果；Remaining 仅在 Code == Reserved 时有效。
type ReserveOutcome struct {
	Code      ReserveCode
	Remaining int64
}

// Snapshot 一次 MGET 读到的缓存视图。
type Snapshot struct {
	Inventory    int64
	Status       string
	HasInventory bool
	HasStatus    bool
}

// Complete 两个字段都在缓存里才算命中。
func (s Snapshot) Complete() bool { return s.HasInventory && s.HasStatus }

// StatusCache 是秒杀库存的快速闸门：每个活动一个计数器 + 状态标记。
// 缓存不是权威数据，空闲时必须能与账本对齐。
type StatusCache struct {
	rdb *rd.Client
	ttl time.Duration
}

// NewStatusCache 创建缓存句柄；ttl <= 0 表示不过期。
func NewStatusCache(rdb *rd.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: ttl}
}

// Client 返回底层 redis 客户端（健康检查用）。
func (c *StatusCache) Client() *rd.Client { return c.rdb }

func (c *StatusCache) ttlSeconds() int64 {
	if c.ttl <= 0 {
		return 0
	}
	return int64(c.ttl / time.Second)
}

// Reserve 单次往返完成预留。不足时脚本内已回补，调用方无需再补偿。
func (c *StatusCache) Reserve(ctx context.Context, a ReserveArgs) (ReserveOutcome, error) {
	if a.Quantity <= 0 {
		return ReserveOutcome{}, fmt.Errorf("reserve quantity must be > 0, got %d", a.Quantity)
	}
	res, err := luaReserve.Run(ctx, c.rdb, saleKeys(a.SaleID),
		a.Quantity, a.UserID, a.Limit, a.ReservationID, a.Now.Unix(), c.ttlSeconds()).Int64()
	if err != nil {
		return ReserveOutcome{}, err
	}
	switch {
	case res >= 0:
		return ReserveOutcome{Code: Reserved, Remaining: res}, nil
	case res == -1:
		return ReserveOutcome{Code: ReserveInsufficient}, nil
	case res == -2:
		return ReserveOutcome{Code: ReserveInactive}, nil
	case res == -3:
		return ReserveOutcome{Code: ReserveLimitExceeded}, nil
	case res == -4:
		return ReserveOutcome{Code: ReserveCold}, nil
	default:
		return ReserveOutcome{}, fmt.Errorf("unknown result code from reserve script: %d", res)
	}
}

// Settle 落库成功后移除预留记录。失败只会让对账多等一轮，不影响正确性。
func (c *StatusCache) Settle(ctx context.Context, saleID, reservationID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, HoldsKey(saleID), reservationID)
	pipe.Incr(ctx, SeqKey(saleID))
	_, err := pipe.Exec(ctx)
	return err
}

// Snapshot 一次批量读取库存与状态。
func (c *StatusCache) Snapshot(ctx context.Context, saleID string) (Snapshot, error) {
	vals, err := c.rdb.MGet(ctx, InventoryKey(saleID), StatusKey(saleID)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	var out Snapshot
	if s, ok := vals[0].(string); ok {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("corrupt inventory value %q: %w", s, err)
		}
		out.Inventory, out.HasInventory = n, true
	}
	if s, ok := vals[1].(string); ok {
		out.Status, out.HasStatus = s, true
	}
	return out, nil
}

// Warm 只补齐缺失的键（SET NX），不会覆盖正在被扣减的计数器。
func (c *StatusCache) Warm(ctx context.Context, saleID string, inventory int64, status string) error {
	pipe := c.rdb.Pipeline()
	pipe.SetNX(ctx, InventoryKey(saleID), inventory, c.ttl)
	pipe.SetNX(ctx, StatusKey(saleID), status, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Seed 活动开始时整体重置缓存：库存、状态、限购计数，并清空预留。
func (c *StatusCache) Seed(ctx context.Context, saleID string, inventory int64, status string, buyers map[string]int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, InventoryKey(saleID), inventory, c.ttl)
	pipe.Set(ctx, StatusKey(saleID), status, c.ttl)
	pipe.Del(ctx, BuyersKey(saleID), HoldsKey(saleID))
	if len(buyers) > 0 {
		pipe.HSet(ctx, BuyersKey(saleID), buyerPairs(buyers)...)
		if c.ttl > 0 {
			pipe.Expire(ctx, BuyersKey(saleID), c.ttl)
		}
	}
	pipe.Incr(ctx, SeqKey(saleID))
	_, err := pipe.Exec(ctx)
	return err
}

// MarkEnded 把状态标记为 ended；售罄结束时库存同时归零。
func (c *StatusCache) MarkEnded(ctx context.Context, saleID string, zeroInventory bool) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, StatusKey(saleID), "ended", c.ttl)
	if zeroInventory {
		pipe.Set(ctx, InventoryKey(saleID), 0, c.ttl)
	}
	pipe.Incr(ctx, SeqKey(saleID))
	_, err := pipe.Exec(ctx)
	return err
}

// Seq 读取当前变更序号，缺失视为 0。
func (c *StatusCache) Seq(ctx context.Context, saleID string) (int64, error) {
	n, err := c.rdb.Get(ctx, SeqKey(saleID)).Int64()
	if errors.Is(err, rd.Nil) {
		return 0, nil
	}
	return n, err
}

// Holds 返回当前未结算的预留数（监控与测试用）。
func (c *StatusCache) Holds(ctx context.Context, saleID string) (int64, error) {
	return c.rdb.HLen(ctx, HoldsKey(saleID)).Result()
}

func buyerPairs(buyers map[string]int64) []any {
	out := make([]any, 0, len(buyers)*2)
	for user, qty := range buyers {
		out = append(out, user, qty)
	}
	return out
}
