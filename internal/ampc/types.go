// Package ampc implements the Adaptive Massively Parallel Computation
// framework that drives graph centrality: a Coordinator schedules a Job to
// whichever Worker owns its shard, in rounds, dispatched concurrently via
// errgroup the same way the sharded client fans a request out to shards,
// until a round produces no changes.
package ampc

import (
	"context"

	"github.com/dreamware/stract/internal/shardid"
)

// MaxJobRetries bounds how many times the coordinator attempts a job on each
// worker advertising the shard; the round fails once every such worker has
// used up its attempts.
const MaxJobRetries = 3

// Job is one unit of work the coordinator ships to a worker. It is kept as
// a small, serializable struct (gob-encoded over RPC in a real multi-process
// deployment) rather than a closure, the same "ship data, not code"
// discipline the dht RPC layer already follows for typed requests.
type Job interface {
	// ShardID is the shard this job runs against; the coordinator dispatches
	// it to whichever Worker Accepts this id.
	ShardID() shardid.ID
	// RoundNum is this job's round identity, carried for logging and for
	// Mappers that key derived state (e.g. AddCentrality's Δ/round) on it.
	// Coordinator.runRound waits for every shard's job to finish before
	// advancing the round counter, so a stale-round dispatch can't reach a
	// Mapper in this implementation the way it could in a design where
	// workers pull work asynchronously from a queue.
	RoundNum() uint64
}

// Worker runs jobs for the shard(s) it owns. Each shard gets one job per
// round and its retries run one after another, so a worker that accepts a
// single shard sees its jobs one at a time. Jobs for different shards run
// concurrently, so a worker that accepts several shards can have Map called
// for them at the same time.
type Worker interface {
	Accepts(shard shardid.ID) bool
}

// Mapper is the pure function applied to one job: it reads neighbor/bloom
// state only from snapshot, the previous round's frozen view, writes to the
// live dht, and owns no state between invocations, so re-applying it to a
// duplicate round dispatch is always safe (last-writer-wins).
type Mapper interface {
	Map(ctx context.Context, job Job, worker Worker, dht DhtHandle, snapshot DhtSnapshot) error
}

// SeedFunc initializes DHT state before the first round runs.
type SeedFunc func(ctx context.Context) error
