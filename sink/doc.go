// Package sink provides replicator.Sink implementations. Each file
// registers its sink type with the replicator factory registry in init, so
// importing the package for side effects is enough to make the types
// available to a DrcConfig.
//
// Every sink here writes synchronously: a nil error from Write means the
// record is durable at the destination, so CommittedCheckpoint is simply
// the checkpoint of the last successful write.
package sink
