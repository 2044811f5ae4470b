package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/segmentio/kafka-go"
)

// KafkaBus implements EventBus using Kafka. Each (tenant, topic) pair
// maps to its own Kafka topic so consumer groups stay tenant-scoped.
type KafkaBus struct {
	mu            sync.RWMutex
	writer        *kafka.Writer
	brokers       []string
	groupID       string
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

type kafkaSubscription struct {
	id     string
	topic  string
	reader *kafka.Reader
	cancel context.CancelFunc
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "kestrel"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &KafkaBus{
		writer:        writer,
		brokers:       brokers,
		groupID:       groupID,
		subscriptions: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish sends a message to a Kafka topic.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: b.makeTopic(tenantID, topic),
		Key:   []byte(tenantID),
		Value: data,
	})
}

// Subscribe starts a consumer for a (tenant, topic) pair. All instances
// sharing the group ID split the partitions between them.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	kafkaTopic := b.makeTopic(tenantID, topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.brokers,
		Topic:          kafkaTopic,
		GroupID:        b.groupID + "." + kafkaTopic,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})

	subCtx, cancel := context.WithCancel(ctx)

	sub := &kafkaSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		reader: reader,
		cancel: cancel,
	}

	go b.consume(subCtx, sub, handler)

	b.subscriptions[sub.id] = sub
	return sub, nil
}

// consume runs one subscription's fetch loop until its context ends.
// Handler failures leave the message uncommitted so it is redelivered.
func (b *KafkaBus) consume(ctx context.Context, sub *kafkaSubscription, handler domain.MessageHandler) {
	for {
		m, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to fetch kafka message",
				"topic", sub.reader.Config().Topic,
				"error", err,
			)
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			slog.Error("failed to unmarshal kafka message",
				"topic", m.Topic,
				"error", err,
			)
			// Commit poison messages so they are not redelivered forever
			_ = sub.reader.CommitMessages(ctx, m)
			continue
		}

		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"topic", m.Topic,
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}

		if err := sub.reader.CommitMessages(ctx, m); err != nil {
			slog.Error("failed to commit kafka message",
				"topic", m.Topic,
				"error", err,
			)
		}
	}
}

// Request is not supported: Kafka has no native request-reply.
func (b *KafkaBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("request-reply is not supported by the kafka bus")
}

// Ping dials the first broker to verify reachability.
func (b *KafkaBus) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("kafka broker unreachable: %w", err)
	}
	return conn.Close()
}

// Close stops all consumers and closes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subscriptions {
		sub.cancel()
		_ = sub.reader.Close()
	}
	b.subscriptions = make(map[string]*kafkaSubscription)

	return b.writer.Close()
}

// makeTopic builds the Kafka topic name. Dots in logical topic names are
// kept; Kafka permits them alongside dashes and underscores.
func (b *KafkaBus) makeTopic(tenantID, topic string) string {
	name := fmt.Sprintf("kestrel.%s.%s", tenantID, topic)
	return strings.ReplaceAll(name, "*", "all")
}

// Unsubscribe stops the consumer.
func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	return s.reader.Close()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
