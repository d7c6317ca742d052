package queue

import (
	"context"
	"encoding/json"
	"time"

	"flashsale/internal/flashsale"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter 是 kafka.Writer 的最小子集，便于测试替换。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 把活动事件异步写入 Kafka。
// Publish 只把事件放进有界收件箱，收件箱满时直接丢弃，保证不拖慢下单链路。
type Producer struct {
	w     MessageWriter
	inbox chan flashsale.Event
	log   zerolog.Logger
}

// NewProducer 创建生产者：
// - Hash + Key: 同一活动的事件落到同一分区，分区内有序。
// - RequireOne: 事件是尽力而为的通知，不需要等所有副本确认。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewProducer(brokers []string, topic string, buffer int, log zerolog.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
		BatchTimeout: 20 * time.Millisecond,
	}, buffer, log)
}

func NewProducerWithWriter(w MessageWriter, buffer int, log zerolog.Logger) *Producer {
	if buffer <= 0 {
		buffer = 1
	}
	return &Producer{
		w:     w,
		inbox: make(chan flashsale.Event, buffer),
		log:   log.With().Str("component", "event-producer").Logger(),
	}
}

// Publish 实现 flashsale.Notifier。
func (p *Producer) Publish(_ context.Context, ev flashsale.Event) {
	select {
	case p.inbox <- ev:
	default:
		p.log.Warn().Str("type", string(ev.Type)).Str("sale_id", ev.SaleID).Msg("event inbox full, dropped")
	}
}

// Run 把收件箱里的事件逐条写入 Kafka，直到 ctx 取消。
func (p *Producer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.inbox:
			if err := p.write(ctx, ev); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Str("type", string(ev.Type)).Str("sale_id", ev.SaleID).Msg("publish event")
			}
		}
	}
}

func (p *Producer) write(ctx context.Context, ev flashsale.Event) error {
	b, err := json.Marshal(EventMessage{Event: ev})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// 使用 sale_id 作为 key，保证同一活动的事件进入同一分区
	return p.w.WriteMessages(wctx, kafka.Message{
		Key:   []byte(ev.SaleID),
		Value: b,
	})
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }
