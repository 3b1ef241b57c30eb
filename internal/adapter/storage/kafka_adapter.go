package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// KafkaDispatcher publishes order confirmations keyed by order id, so every
// event for one order lands on the same partition.
type KafkaDispatcher struct {
	writer messageWriter
}

var _ port.NotificationDispatcher = (*KafkaDispatcher)(nil)

func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, event domain.OrderConfirmedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: data,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// KafkaSource consumes order confirmations as part of a consumer group.
type KafkaSource struct {
	reader messageReader
}

var _ port.NotificationSource = (*KafkaSource)(nil)

func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	return &KafkaSource{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})}
}

// Receive commits the offset once the payload is decoded. A payload that
// cannot be decoded is committed too and reported as an error.
func (s *KafkaSource) Receive(ctx context.Context) (domain.OrderConfirmedEvent, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OrderConfirmedEvent{}, ctx.Err()
		}
		return domain.OrderConfirmedEvent{}, fmt.Errorf("fetch message: %w", err)
	}

	var event domain.OrderConfirmedEvent
	decodeErr := json.Unmarshal(msg.Value, &event)

	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return domain.OrderConfirmedEvent{}, fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	if decodeErr != nil {
		return domain.OrderConfirmedEvent{}, fmt.Errorf("decode message at offset %d: %w", msg.Offset, decodeErr)
	}
	return event, nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
