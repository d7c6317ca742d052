package queue

import (
	"encoding/json"
	"fmt"

	"flashsale/internal/flashsale"
)

// EventMessage 是写入 Kafka 的活动事件。
type EventMessage struct {
	flashsale.Event
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m EventMessage) Validate() error {
	switch m.Type {
	case flashsale.EventInventoryUpdate, flashsale.EventSaleStarted, flashsale.EventSaleEnded:
	default:
		return fmt.Errorf("unknown event type %q", m.Type)
	}
	if m.SaleID == "" {
		return fmt.Errorf("sale_id is required")
	}
	if m.Payload.ID != "" && m.Payload.ID != m.SaleID {
		return fmt.Errorf("payload id %q does not match sale_id %q", m.Payload.ID, m.SaleID)
	}
	if m.Payload.Sale != "" && m.Payload.Sale != m.SaleID {
		return fmt.Errorf("payload sale %q does not match sale_id %q", m.Payload.Sale, m.SaleID)
	}
	if m.Payload.CurrentInventory < 0 {
		return fmt.Errorf("currentInventory must be >= 0")
	}
	return nil
}

func decodeEvent(b []byte) (flashsale.Event, error) {
	var m EventMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return flashsale.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := m.Validate(); err != nil {
		return flashsale.Event{}, err
	}
	return m.Event, nil
}
