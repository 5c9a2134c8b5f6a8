package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/replicator"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsStreamTimeout = 5 * time.Second

func init() {
	replicator.RegisterSink("nats", func(config cfg.SinkConfig) (replicator.Sink, error) {
		if config.Parameters["url"] == "" {
			return nil, fmt.Errorf("nats sink requires url")
		}
		return NewNatsSink(config.Parameters["url"], config.Parameters["subject_prefix"], config.Parameters["stream"])
	})
}

// NatsSink publishes records to JetStream on "<prefix>.<partition id>".
// The log id doubles as the JetStream message id so redelivery after a
// restart is deduplicated within the stream's duplicate window.
type NatsSink struct {
	committedTracker
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewNatsSink creates a new NATS JetStream sink. When stream is set it is
// created or updated to capture the prefix's subjects.
func NewNatsSink(url, prefix, stream string) (*NatsSink, error) {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return nil, fmt.Errorf("nats sink requires subject_prefix")
	}

	nc, err := nats.Connect(url,
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

	if stream != "" {
		ctx, cancel := context.WithTimeout(context.Background(), natsStreamTimeout)
		defer cancel()
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      sanitizeStreamName(stream),
			Subjects:  []string{prefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to ensure stream %s: %w", stream, err)
		}
	}

	n := &NatsSink{nc: nc, js: js, prefix: prefix}
	n.reset()
	return n, nil
}

func (n *NatsSink) Write(ctx context.Context, partitionID uint32, data []byte, checkpoint int64) error {
	subject := partitionSubject(n.prefix, partitionID)
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{HeaderLogID: []string{strconv.FormatInt(checkpoint, 10)}},
	}

	if _, err := n.js.PublishMsg(ctx, msg, jetstream.WithMsgID(strconv.FormatInt(checkpoint, 10))); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	n.commit(checkpoint)
	return nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

func partitionSubject(prefix string, partitionID uint32) string {
	return prefix + "." + strconv.FormatUint(uint64(partitionID), 10)
}

// sanitizeStreamName converts a name to a valid JetStream stream name
// JetStream stream names can't contain "." so we replace with "_"
func sanitizeStreamName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
