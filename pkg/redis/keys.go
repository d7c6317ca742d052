package redis

import "fmt"

// InventoryKey 统一约定秒杀活动库存计数键名（整数字符串）。
func InventoryKey(saleID string) string {
	return fmt.Sprintf("flashsale:%s:inventory", saleID)
}

// StatusKey 秒杀活动状态镜像：scheduled / active / ended。
func StatusKey(saleID string) string {
	return fmt.Sprintf("flashsale:%s:status", saleID)
}

// BuyersKey 记录每个用户在该活动已占用（含未落库）的件数，用于限购。
func BuyersKey(saleID string) string {
	return fmt.Sprintf("flashsale:%s:buyers", saleID)
}

// HoldsKey 记录已扣缓存、尚未落库确认的预留：reservation_id -> user:qty:unix。
func HoldsKey(saleID string) string {
	return fmt.Sprintf("flashsale:%s:holds", saleID)
}

// SeqKey 每次缓存与账本关系变化都会自增，对账时用来判断期间是否有并发操作。
func SeqKey(saleID string) string {
	return fmt.Sprintf("flashsale:%s:seq", saleID)
}

func saleKeys(saleID string) []string {
	return []string{
		InventoryKey(saleID),
		StatusKey(saleID),
		BuyersKey(saleID),
		HoldsKey(saleID),
		SeqKey(saleID),
	}
}
