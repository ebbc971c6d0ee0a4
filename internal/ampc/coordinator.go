package ampc

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/stract/internal/searcherrors"
	"github.com/dreamware/stract/internal/shardid"
)

// Coordinator drives a Mapper over a fixed set of shards in rounds until a
// round reports no changes. It never decides shard ownership itself —
// dispatch always goes to whichever registered Worker's Accepts reports
// true, matching the "worker whose shard() == job.shard" scheduling rule.
type Coordinator struct {
	Workers []Worker
	Mapper  Mapper
	Dht     DhtHandle
	Logger  log.Logger

	// MaxConcurrency bounds how many shards run their round concurrently.
	// Zero means unbounded (one goroutine per shard).
	MaxConcurrency int
}

// Run seeds DHT state, then runs rounds over shards until a round makes no
// changes. seed is responsible for recording UpperBoundNumNodes in Meta
// (see SeedCentrality); FinalizeScores reads it back for normalization.
func (c *Coordinator) Run(ctx context.Context, seed SeedFunc, shards []shardid.ID) error {
	logger := c.logger()

	if err := seed(ctx); err != nil {
		return err
	}

	for round := uint64(1); ; round++ {
		// Reset before every round, including the first: seed sets
		// RoundHadChanges=true only to document that the first round has
		// work to do, not as a value this loop should read back.
		if err := c.Dht.ResetRoundHadChanges(); err != nil {
			return err
		}

		if err := c.runRound(ctx, shards, round); err != nil {
			return err
		}

		meta, err := c.Dht.Meta()
		if err != nil {
			return err
		}
		level.Info(logger).Log("msg", "ampc round completed", "round", round, "had_changes", meta.RoundHadChanges)
		if !meta.RoundHadChanges {
			return nil
		}
	}
}

// runRound takes one DHT snapshot before dispatching any shard, and hands
// that same snapshot to every shard's job so all of them read the round's
// neighbor/bloom state as it stood at round start, regardless of dispatch
// order or how the errgroup interleaves their goroutines.
func (c *Coordinator) runRound(ctx context.Context, shards []shardid.ID, round uint64) error {
	snapshot, err := c.Dht.Snapshot()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.MaxConcurrency > 0 {
		g.SetLimit(c.MaxConcurrency)
	}

	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			return c.runJobWithRetry(gctx, CentralityJob{Shard: shard, Round: round, AllShards: shards}, snapshot)
		})
	}
	return g.Wait()
}

// runJobWithRetry tries each accepting worker in turn, making up to
// MaxJobRetries attempts on one worker before moving to the next, and fails
// once every accepting worker has used up its attempts.
func (c *Coordinator) runJobWithRetry(ctx context.Context, job CentralityJob, snapshot DhtSnapshot) error {
	logger := c.logger()

	var lastErr error
	attempts := 0
	for _, worker := range c.Workers {
		if !worker.Accepts(job.Shard) {
			continue
		}
		for attempt := 0; attempt < MaxJobRetries; attempt++ {
			attempts++
			err := c.Mapper.Map(ctx, job, worker, c.Dht, snapshot)
			if err == nil {
				return nil
			}
			lastErr = err
			level.Warn(logger).Log("msg", "ampc job failed, retrying", "shard", job.Shard, "round", job.Round, "attempt", attempt+1, "err", err)
		}
	}
	if attempts == 0 {
		level.Warn(logger).Log("msg", "ampc job has no accepting worker", "shard", job.Shard, "round", job.Round)
		return nil
	}
	return searcherrors.Wrapf(searcherrors.Mark(lastErr, searcherrors.ErrSearchFailed), "ampc: shard %s exhausted retries in round %d", job.Shard, job.Round)
}

func (c *Coordinator) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}
