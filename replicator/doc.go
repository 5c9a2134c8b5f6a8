// Package replicator implements change-data-capture replication from an
// append-only log into hash-partitioned sinks.
//
// # Architecture
//
//  1. Source: tails the upstream log by log id (Kafka, NATS, Pebble)
//  2. LogRewriter: filters or rewrites records against an index snapshot
//  3. LogWriter: hashes partition key fields and writes to a Sink
//  4. Checkpoint: durable, never regressing replication position
//  5. Pipeline: one Source, its writers and a checkpoint
//  6. Replicator: owns pipelines and drives them from a ticker
//
// # Pipelines
//
// In share mode (or with a single sink) one pipeline named "share" reads
// the source once and writes every record to all sinks. Otherwise each sink
// gets its own pipeline with its own source reader and a checkpoint stored
// under checkpoint_root/<sink name>, so a slow sink never holds back the
// checkpoint of another.
//
// Each tick a pipeline replays the window
//
//	[consumed+1, visible+1)
//
// where visible is the index watermark. A record past the window end that
// arrives before the window is complete is a gap; the call fails without
// consuming it and the next tick seeks back to consumed+1.
//
// # Delivery
//
// Delivery is at-least-once. A record is consumed only after every sink
// accepted it (or ignored it for a missing key field). The checkpoint is
// the consumed position held back by any sink that has not committed all
// of its writes, and is saved at most once per checkpoint interval.
//
// # Checkpoint format
//
//	<checkpoint_root>[/<sink_name>]/drc_checkpoint -> {"persisted_log_id": n}
package replicator
