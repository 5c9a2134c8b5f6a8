// Package rewriter provides replicator.LogRewriter implementations and
// registers them with the replicator under their config type names:
//
//	passthrough    forward every record
//	glob_filter    forward records whose field matches (or, with
//	               mode=exclude, does not match) a set of glob patterns
//	index_version  drop records the index already holds a newer write for
package rewriter
