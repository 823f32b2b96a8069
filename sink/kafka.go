package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes flow records to a topic, keyed by pid so that one
// process's flows land in one partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a producer for the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (k *Kafka) Write(ctx context.Context, batch []Record) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for i := range batch {
		value, err := json.Marshal(&batch[i])
		if err != nil {
			return fmt.Errorf("marshal flow record: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatUint(uint64(batch[i].PID), 10)),
			Value: value,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("produce flow records: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
