package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const outboxBatchSize = 100

// KafkaSink drains the Postgres outbox into a Kafka topic. Kafka is the
// durable audit log consumers read; the outbox guarantees no event written by
// a committed vote is lost even if the broker is down at emit time.
type KafkaSink struct {
	client *kgo.Client
	outbox *PostgresStore
	topic  string
	logger *slog.Logger
}

// NewKafkaSink connects to the brokers and ensures the audit topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string, outbox *PostgresStore, logger *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", resp.Err)
	}

	return &KafkaSink{
		client: client,
		outbox: outbox,
		topic:  topic,
		logger: logger,
	}, nil
}

// Run publishes unpublished outbox rows until ctx is cancelled.
func (s *KafkaSink) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.drain(ctx); err != nil {
				// Broker trouble is retried next tick; the outbox holds acks.
				s.logger.WarnContext(ctx, "audit outbox drain failed", "error", err.Error())
			}
		}
	}
}

func (s *KafkaSink) drain(ctx context.Context) error {
	rows, err := s.outbox.ListUnpublished(ctx, outboxBatchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(rows))
	for i, row := range rows {
		records[i] = &kgo.Record{
			Topic: s.topic,
			Key:   []byte(row.Action),
			Value: row.Payload,
		}
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit events: %w", err)
	}

	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return s.outbox.MarkPublished(ctx, ids)
}

// Close flushes and releases the Kafka client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
