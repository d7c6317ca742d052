package flashsale

import (
	"context"
	"time"
)

// EventType 推送给客户端的事件名。
type EventType string

const (
	EventInventoryUpdate EventType = "inventoryUpdate"
	EventSaleStarted     EventType = "flashSaleStarted"
	EventSaleEnded       EventType = "flashSaleEnded"
)

// Event 是活动状态变化的广播消息，投递尽力而为、不保证顺序。
type Event struct {
	Type       EventType  `json:"type"`
	SaleID     string     `json:"sale_id"`
	Payload    StatusView `json:"payload"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Notifier 发布事件。实现不得阻塞调用方，也不向调用方返回错误。
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// NopNotifier 丢弃所有事件。
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) {}

// MultiNotifier 依次转发给多个 Notifier。
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Publish(ctx, ev)
		}
	}
}

func newEvent(typ EventType, view StatusView, now time.Time) Event {
	return Event{Type: typ, SaleID: view.ID, Payload: view, OccurredAt: now}
}
