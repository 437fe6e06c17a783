package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/model"
)

// KafkaConfig configures the Kafka-backed log.
type KafkaConfig struct {
	Brokers       string
	Topic         string
	ConsumerGroup string

	// PollTimeout bounds how long an empty Poll waits for data.
	PollTimeout time.Duration

	// RetryInitialWait and MaxRetryElapsed govern backoff on transient broker
	// errors inside a poll. Exhausting MaxRetryElapsed surfaces
	// ErrUnavailable, which is fatal to the partition.
	RetryInitialWait time.Duration
	MaxRetryElapsed  time.Duration
}

// KafkaLog reads the order event stream from a Kafka topic. Each partition
// reader owns a dedicated consumer with a manual assignment, so offsets are
// tracked in memory and never committed to the broker: the checkpoint store
// is the only durable position.
type KafkaLog struct {
	cfg    KafkaConfig
	logger *zap.Logger
}

// NewKafkaLog creates a Kafka-backed log handle.
func NewKafkaLog(cfg KafkaConfig, logger *zap.Logger) *KafkaLog {
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.RetryInitialWait == 0 {
		cfg.RetryInitialWait = time.Second
	}
	if cfg.MaxRetryElapsed == 0 {
		cfg.MaxRetryElapsed = 5 * time.Minute
	}
	return &KafkaLog{cfg: cfg, logger: logger}
}

func (l *KafkaLog) newConsumer() (*kafka.Consumer, error) {
	return kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  l.cfg.Brokers,
		"group.id":           l.cfg.ConsumerGroup,
		"enable.auto.commit": false,
		"auto.offset.reset":  "earliest",
	})
}

// Partitions implements Log by querying topic metadata.
func (l *KafkaLog) Partitions(ctx context.Context) ([]int32, error) {
	c, err := l.newConsumer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer c.Close()

	timeoutMs := 10000
	if dl, ok := ctx.Deadline(); ok {
		timeoutMs = int(time.Until(dl).Milliseconds())
	}
	meta, err := c.GetMetadata(&l.cfg.Topic, false, timeoutMs)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata for topic %s: %v", ErrUnavailable, l.cfg.Topic, err)
	}

	topicMeta, ok := meta.Topics[l.cfg.Topic]
	if !ok || len(topicMeta.Partitions) == 0 {
		return nil, fmt.Errorf("%w: topic %s has no partitions", ErrUnavailable, l.cfg.Topic)
	}

	ids := make([]int32, 0, len(topicMeta.Partitions))
	for _, p := range topicMeta.Partitions {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// OpenPartition implements Log.
func (l *KafkaLog) OpenPartition(_ context.Context, partition int32, fromOffset int64) (Reader, error) {
	c, err := l.newConsumer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	offset := kafka.OffsetBeginning
	if fromOffset >= 0 {
		offset = kafka.Offset(fromOffset)
	}
	err = c.Assign([]kafka.TopicPartition{{
		Topic:     &l.cfg.Topic,
		Partition: partition,
		Offset:    offset,
	}})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: assign partition %d: %v", ErrUnavailable, partition, err)
	}

	return &kafkaReader{
		cfg:       l.cfg,
		consumer:  c,
		partition: partition,
		logger:    l.logger.With(zap.Int32("partition", partition)),
	}, nil
}

// Close implements Log. Partition readers hold their own consumers.
func (l *KafkaLog) Close() error {
	return nil
}

type kafkaReader struct {
	cfg       KafkaConfig
	consumer  *kafka.Consumer
	partition int32
	logger    *zap.Logger
}

// Poll implements Reader. Transient broker errors are retried with
// exponential backoff inside the call; only exhausted retries escalate.
func (r *kafkaReader) Poll(ctx context.Context, maxRecords int) ([]model.RawEvent, error) {
	var events []model.RawEvent

	pollDeadline := time.Now().Add(r.cfg.PollTimeout)
	retryWait := r.cfg.RetryInitialWait
	retryStart := time.Time{}

	for len(events) < maxRecords {
		if ctx.Err() != nil {
			return events, nil
		}
		remaining := time.Until(pollDeadline)
		if remaining <= 0 {
			break
		}

		msg, err := r.consumer.ReadMessage(remaining)
		if err != nil {
			kerr, ok := err.(kafka.Error)
			if ok && kerr.Code() == kafka.ErrTimedOut {
				break // empty poll window
			}
			if ok && !kerr.IsFatal() {
				// Transient: back off and retry within the bounded budget.
				if retryStart.IsZero() {
					retryStart = time.Now()
				}
				if time.Since(retryStart) > r.cfg.MaxRetryElapsed {
					return nil, fmt.Errorf("%w: partition %d retries exhausted: %v", ErrUnavailable, r.partition, kerr)
				}
				r.logger.Warn("transient stream error, backing off",
					zap.Duration("wait", retryWait),
					zap.Error(kerr),
				)
				select {
				case <-ctx.Done():
					return events, nil
				case <-time.After(retryWait):
				}
				retryWait *= 2
				continue
			}
			return nil, fmt.Errorf("%w: partition %d: %v", ErrUnavailable, r.partition, err)
		}
		retryWait = r.cfg.RetryInitialWait
		retryStart = time.Time{}

		events = append(events, model.RawEvent{
			Partition:   r.partition,
			Offset:      int64(msg.TopicPartition.Offset),
			Payload:     msg.Value,
			ArrivalTime: msg.Timestamp,
		})
	}
	return events, nil
}

// Close implements Reader.
func (r *kafkaReader) Close() error {
	return r.consumer.Close()
}
