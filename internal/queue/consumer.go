package queue

import (
	"context"

	"flashsale/internal/flashsale"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageReader 是 kafka.Reader 的最小子集，便于测试替换。
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer 消费事件主题并转交给本机的 Notifier（通常是 websocket Hub），
// 这样任意节点产生的事件都能推给连在其他节点上的客户端。
type Consumer struct {
	r    MessageReader
	sink flashsale.Notifier
	log  zerolog.Logger
}

// NewConsumer 每个节点应使用独立的 groupID，才能收到全部事件。
func NewConsumer(brokers []string, topic, groupID string, sink flashsale.Notifier, log zerolog.Logger) *Consumer {
	return NewConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.LastOffset,
	}), sink, log)
}

func NewConsumerWithReader(r MessageReader, sink flashsale.Notifier, log zerolog.Logger) *Consumer {
	return &Consumer{r: r, sink: sink, log: log.With().Str("component", "event-consumer").Logger()}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 阻塞直到 ctx 取消或连接断开。
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error().Err(err).Msg("read event")
			}
			return // ctx cancel / 连接断开等
		}

		ev, err := decodeEvent(m.Value)
		if err != nil {
			// 脏消息直接跳过，避免阻塞消费
			c.log.Warn().Err(err).Int64("offset", m.Offset).Msg("skip bad event")
			continue
		}
		c.sink.Publish(ctx, ev)
	}
}
