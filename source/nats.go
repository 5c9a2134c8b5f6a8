package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/replicator"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNatsReadTimeout = 50 * time.Millisecond
	natsRequestTimeout     = 5 * time.Second
)

func init() {
	replicator.RegisterSource("nats", func(config cfg.SourceConfig) (replicator.Source, error) {
		timeout, err := cfg.ParamMillis(config.Parameters, "read_timeout_ms", DefaultNatsReadTimeout)
		if err != nil {
			return nil, err
		}
		return NewNatsSource(NatsConfig{
			URL:         config.Parameters["url"],
			Stream:      config.Parameters["stream"],
			Subject:     config.Parameters["subject"],
			ReadTimeout: timeout,
		})
	})
}

// NatsConfig holds configuration for NatsSource
type NatsConfig struct {
	URL         string
	Stream      string
	Subject     string // optional filter within the stream
	ReadTimeout time.Duration
}

// NatsSource tails a JetStream stream. Log ids are stream sequences.
type NatsSource struct {
	config   NatsConfig
	nc       *nats.Conn
	stream   jetstream.Stream
	consumer jetstream.Consumer
	// sequence the consumer will deliver next, 0 when there is no consumer
	position uint64
}

// NewNatsSource connects to NATS and binds to an existing stream
func NewNatsSource(config NatsConfig) (*NatsSource, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("nats source requires url")
	}
	if config.Stream == "" {
		return nil, fmt.Errorf("nats source requires stream")
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultNatsReadTimeout
	}

	nc, err := nats.Connect(config.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), natsRequestTimeout)
	defer cancel()
	stream, err := js.Stream(ctx, config.Stream)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to bind stream %s: %w", config.Stream, err)
	}

	return &NatsSource{config: config, nc: nc, stream: stream}, nil
}

// Seek recreates the ordered consumer at logID unless it is already there
func (n *NatsSource) Seek(ctx context.Context, logID int64) error {
	seq := uint64(1)
	if logID > 1 {
		seq = uint64(logID)
	}
	if n.consumer != nil && n.position == seq {
		return nil
	}

	occ := jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   seq,
	}
	if n.config.Subject != "" {
		occ.FilterSubjects = []string{n.config.Subject}
	}

	consumer, err := n.stream.OrderedConsumer(ctx, occ)
	if err != nil {
		n.consumer = nil
		return fmt.Errorf("failed to create consumer at %d: %w", seq, err)
	}
	n.consumer = consumer
	n.position = seq
	return nil
}

func (n *NatsSource) Read(ctx context.Context) ([]byte, int64, error) {
	if n.consumer == nil {
		return nil, 0, fmt.Errorf("nats source read before seek")
	}

	msg, err := n.consumer.Next(jetstream.FetchMaxWait(n.config.ReadTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) {
			return nil, 0, replicator.ErrSourceExhausted
		}
		n.consumer = nil
		return nil, 0, fmt.Errorf("failed to read stream %s: %w", n.config.Stream, err)
	}

	meta, err := msg.Metadata()
	if err != nil {
		n.consumer = nil
		return nil, 0, fmt.Errorf("failed to read message metadata: %w", err)
	}

	seq := meta.Sequence.Stream
	n.position = seq + 1
	return msg.Data(), int64(seq), nil
}

func (n *NatsSource) LatestLogID(ctx context.Context) (int64, error) {
	info, err := n.stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read stream info: %w", err)
	}
	return int64(info.State.LastSeq), nil
}

func (n *NatsSource) Close() error {
	if n.nc != nil {
		n.nc.Close()
		log.Debug().Str("stream", n.config.Stream).Msg("Closed NATS source")
	}
	return nil
}
