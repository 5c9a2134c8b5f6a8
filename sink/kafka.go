package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/replicator"
	"github.com/segmentio/kafka-go"
)

const (
	// Each Write carries a single message, so a larger batch only waits
	// for BatchTimeout before flushing.
	DefaultKafkaBatchSize    = 1
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaBatchTimeout = 5 * time.Millisecond

	// Headers stamped on every message
	HeaderPartition = "drc-partition"
	HeaderLogID     = "drc-log-id"
)

func init() {
	replicator.RegisterSink("kafka", func(config cfg.SinkConfig) (replicator.Sink, error) {
		kc, err := kafkaConfigFromParams(config.Parameters)
		if err != nil {
			return nil, err
		}
		return NewKafkaSink(kc)
	})
}

func kafkaConfigFromParams(params map[string]string) (KafkaConfig, error) {
	batchSize, err := cfg.ParamInt(params, "batch_size", DefaultKafkaBatchSize)
	if err != nil {
		return KafkaConfig{}, err
	}
	batchTimeout, err := cfg.ParamMillis(params, "batch_timeout_ms", DefaultKafkaBatchTimeout)
	if err != nil {
		return KafkaConfig{}, err
	}
	return KafkaConfig{
		Brokers:          cfg.ParamList(params, "brokers"),
		Topic:            params["topic"],
		BatchSize:        batchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		BatchTimeout:     batchTimeout,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}, nil
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	Topic            string             // Destination topic
	BatchSize        int                // Batch size (default: 1)
	BatchBytes       int64              // Max batch bytes (default: 1MB)
	BatchTimeout     time.Duration      // Flush deadline for a partial batch (default: 5ms)
	RequiredAcks     kafka.RequiredAcks // Ack requirement
	AutoCreateTopics bool               // Auto-create the topic if it doesn't exist
}

// KafkaSink writes records to a topic. The replicator's partition id picks
// the Kafka partition through partitionBalancer.
type KafkaSink struct {
	committedTracker
	writer *kafka.Writer
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires topic")
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	// kafka-go treats zero as one second
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultKafkaBatchTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               partitionBalancer{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		BatchTimeout:           config.BatchTimeout,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false, // Sync writes so committed == written
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	k := &KafkaSink{writer: writer}
	k.reset()
	return k, nil
}

func (k *KafkaSink) Write(ctx context.Context, partitionID uint32, data []byte, checkpoint int64) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(partitionID), 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderPartition, Value: []byte(strconv.FormatUint(uint64(partitionID), 10))},
			{Key: HeaderLogID, Value: []byte(strconv.FormatInt(checkpoint, 10))},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to %s: %w", k.writer.Topic, err)
	}
	k.commit(checkpoint)
	return nil
}

// Close releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// partitionBalancer maps the replicator partition id carried in the
// HeaderPartition header onto the topic's partitions, so records with the
// same key land on the same Kafka partition.
type partitionBalancer struct{}

func (partitionBalancer) Balance(msg kafka.Message, partitions ...int) int {
	if len(partitions) == 0 {
		return 0
	}
	for _, h := range msg.Headers {
		if h.Key != HeaderPartition {
			continue
		}
		id, err := strconv.ParseUint(string(h.Value), 10, 32)
		if err != nil {
			break
		}
		return partitions[id%uint64(len(partitions))]
	}
	return partitions[0]
}
