package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaTransport implements Transport over a single Kafka writer shared
// across the discovered/parse_request/extracted topics, selecting the
// destination topic per call via the routingKey argument.
type KafkaTransport struct {
	writer  *kafka.Writer
	brokers []string
}

// NewKafkaTransport dials no broker eagerly; kafka-go's Writer connects
// lazily on first write.
func NewKafkaTransport(brokers []string, writeTimeout time.Duration) *KafkaTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &KafkaTransport{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: writeTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *KafkaTransport) Publish(ctx context.Context, routingKey string, message []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: routingKey,
		Value: message,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka: failed to write to topic %q: %w", routingKey, err)
	}
	return nil
}

// HealthCheck opens a TCP connection to the first configured broker and
// closes it immediately; no topic or leader metadata is requested.
func (k *KafkaTransport) HealthCheck(ctx context.Context) bool {
	if len(k.brokers) == 0 {
		return false
	}
	dialer := &kafka.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

func (k *KafkaTransport) Close() error {
	return k.writer.Close()
}
