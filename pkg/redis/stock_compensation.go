package redis

import (
	"context"
	"strconv"
	"time"
)

// luaReleaseHold 补偿一次预留：只有 hold 仍在时才回补，保证同一预留最多回补一次。
// 预留超时（结果未知）时也可以安全调用：脚本没执行过就不会有 hold。
// KEYS = inventory, buyers, holds, seq；ARGV[1] = reservation_id
const luaReleaseHold = `
local hold = redis.call('HGET', KEYS[3], ARGV[1])
if not hold then
  return 0
end
local user, qty = string.match(hold, '^(.*):(%d+):(%d+)$')
if not user then
  redis.call('HDEL', KEYS[3], ARGV[1])
  return -1
end
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('INCRBY', KEYS[1], qty)
local bought = redis.call('HINCRBY', KEYS[2], user, -tonumber(qty))
if bought <= 0 then
  redis.call('HDEL', KEYS[2], user)
end
redis.call('INCR', KEYS[4])
return 1
`

// Release 幂等回补一次预留：
// - 首次回补返回 true
// - hold 已结算或已回补返回 false（不会重复加库存）
func (c *StatusCache) Release(ctx context.Context, saleID, reservationID string) (bool, error) {
	keys := []string{InventoryKey(saleID), BuyersKey(saleID), HoldsKey(saleID), SeqKey(saleID)}
	n, err := c.rdb.Eval(ctx, luaReleaseHold, keys, reservationID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// luaReconcile 在空闲时把缓存对齐到账本。
// 期间若 seq 变化，或存在比 cutoff 新的 hold（可能仍在落库），直接放弃本轮。
// KEYS = inventory, status, buyers, holds, seq
// ARGV[1]=期望 seq ARGV[2]=账本剩余 ARGV[3]=账本状态 ARGV[4]=cutoff 时间戳 ARGV[5]=ttl秒 ARGV[6..]=user,qty 对
const luaReconcile = `
local seq = tonumber(redis.call('GET', KEYS[5]) or '0')
if seq ~= tonumber(ARGV[1]) then
  return 0
end
local cutoff = tonumber(ARGV[4])
for _, h in ipairs(redis.call('HVALS', KEYS[4])) do
  local ts = tonumber(string.match(h, ':(%d+)$'))
  if ts and ts >= cutoff then
    return 0
  end
end
local ttl = tonumber(ARGV[5])
redis.call('DEL', KEYS[3], KEYS[4])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'EX', ttl)
  redis.call('SET', KEYS[2], ARGV[3], 'EX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[2])
  redis.call('SET', KEYS[2], ARGV[3])
end
for i = 6, #ARGV, 2 do
  redis.call('HSET', KEYS[3], ARGV[i], ARGV[i + 1])
end
if ttl > 0 and #ARGV >= 6 then
  redis.call('EXPIRE', KEYS[3], ttl)
end
redis.call('INCR', KEYS[5])
return 1
`

// ReconcileArgs 是账本侧的权威视图。
type ReconcileArgs struct {
	SaleID    string
	ExpectSeq int64
	Inventory int64
	Status    string
	Buyers    map[string]int64
	// 早于 Cutoff 的 hold 视为进程崩溃遗留，可以丢弃。
	Cutoff time.Time
}

// Reconcile 尝试对齐；返回 false 表示有并发操作，本轮跳过。
func (c *StatusCache) Reconcile(ctx context.Context, a ReconcileArgs) (bool, error) {
	args := []any{
		strconv.FormatInt(a.ExpectSeq, 10),
		a.Inventory,
		a.Status,
		a.Cutoff.Unix(),
		c.ttlSeconds(),
	}
	args = append(args, buyerPairs(a.Buyers)...)
	n, err := c.rdb.Eval(ctx, luaReconcile, saleKeys(a.SaleID), args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
