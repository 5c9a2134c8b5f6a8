package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/replicator"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaReadTimeout = 50 * time.Millisecond
	kafkaDialTimeout        = 5 * time.Second
	kafkaMaxBytes           = 10 << 20 // 10MB
)

func init() {
	replicator.RegisterSource("kafka", func(config cfg.SourceConfig) (replicator.Source, error) {
		kc, err := kafkaConfigFromParams(config.Parameters)
		if err != nil {
			return nil, err
		}
		return NewKafkaSource(kc)
	})
}

// KafkaConfig holds configuration for KafkaSource
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Partition   int
	ReadTimeout time.Duration // how long an empty partition is waited on before reporting exhaustion
}

func kafkaConfigFromParams(params map[string]string) (KafkaConfig, error) {
	partition, err := cfg.ParamInt(params, "partition", 0)
	if err != nil {
		return KafkaConfig{}, err
	}
	timeout, err := cfg.ParamMillis(params, "read_timeout_ms", DefaultKafkaReadTimeout)
	if err != nil {
		return KafkaConfig{}, err
	}
	return KafkaConfig{
		Brokers:     cfg.ParamList(params, "brokers"),
		Topic:       params["topic"],
		Partition:   partition,
		ReadTimeout: timeout,
	}, nil
}

// KafkaSource tails one partition of a topic. Log ids are partition offsets.
type KafkaSource struct {
	config KafkaConfig
	reader *kafka.Reader
	// offset the reader will return next, -1 when unknown
	position int64
	conn     *kafka.Conn
}

// NewKafkaSource creates the partition reader. Brokers are contacted lazily.
func NewKafkaSource(config KafkaConfig) (*KafkaSource, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka source requires topic")
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultKafkaReadTimeout
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   config.Brokers,
		Topic:     config.Topic,
		Partition: config.Partition,
		MinBytes:  1,
		MaxBytes:  kafkaMaxBytes,
		MaxWait:   config.ReadTimeout,
	})

	return &KafkaSource{config: config, reader: reader, position: -1}, nil
}

func (k *KafkaSource) Seek(ctx context.Context, logID int64) error {
	if logID == k.position {
		return nil
	}
	if err := k.reader.SetOffset(logID); err != nil {
		return fmt.Errorf("failed to set offset %d: %w", logID, err)
	}
	k.position = logID
	return nil
}

func (k *KafkaSource) Read(ctx context.Context) ([]byte, int64, error) {
	readCtx, cancel := context.WithTimeout(ctx, k.config.ReadTimeout)
	defer cancel()

	msg, err := k.reader.ReadMessage(readCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, replicator.ErrSourceExhausted
		}
		k.position = -1
		return nil, 0, fmt.Errorf("failed to read %s/%d: %w", k.config.Topic, k.config.Partition, err)
	}

	k.position = msg.Offset + 1
	return msg.Value, msg.Offset, nil
}

// LatestLogID asks the partition leader for its last offset
func (k *KafkaSource) LatestLogID(ctx context.Context) (int64, error) {
	conn, err := k.leaderConn(ctx)
	if err != nil {
		return 0, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(kafkaDialTimeout)); err != nil {
		return 0, err
	}
	last, err := conn.ReadLastOffset()
	if err != nil {
		conn.Close()
		k.conn = nil
		return 0, fmt.Errorf("failed to read last offset: %w", err)
	}
	// last is the offset the next message will get
	return last - 1, nil
}

func (k *KafkaSource) leaderConn(ctx context.Context) (*kafka.Conn, error) {
	if k.conn != nil {
		return k.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, kafkaDialTimeout)
	defer cancel()

	var lastErr error
	for _, broker := range k.config.Brokers {
		conn, err := kafka.DialLeader(dialCtx, "tcp", broker, k.config.Topic, k.config.Partition)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("broker", broker).Msg("Failed to dial kafka partition leader")
			continue
		}
		k.conn = conn
		return conn, nil
	}
	return nil, fmt.Errorf("failed to dial leader for %s/%d: %w", k.config.Topic, k.config.Partition, lastErr)
}

func (k *KafkaSource) Close() error {
	var err error
	if k.conn != nil {
		err = k.conn.Close()
		k.conn = nil
	}
	if rerr := k.reader.Close(); rerr != nil {
		return rerr
	}
	return err
}
