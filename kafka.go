package clob

import (
	"context"
	"strconv"

	"github.com/lightning-exchange/clob/protocol"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher ships book events to a Kafka topic, keyed by symbol so one
// book's stream stays ordered within a partition. Writes are asynchronous:
// the matcher loop must never block on the broker.
type KafkaPublisher struct {
	writer     *kafka.Writer
	serializer protocol.Serializer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
			Async:    true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				logger.Error("kafka publish failed", "detail", msg)
			}),
		},
		serializer: &protocol.DefaultJSONSerializer{},
	}
}

func (p *KafkaPublisher) Publish(events ...*BookEvent) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := p.serializer.Marshal(ev)
		if err != nil {
			logger.Error("failed to serialize book event", "symbol_id", ev.SymbolID, "seq", ev.Seq, "error", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(int64(ev.SymbolID), 10)),
			Value: value,
		})
	}
	if len(msgs) == 0 {
		return
	}

	if err := p.writer.WriteMessages(context.Background(), msgs...); err != nil {
		logger.Error("failed to enqueue book events", "error", err)
	}
}

// Close flushes buffered messages and releases the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
