package ampc

import (
	"context"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/dreamware/stract/internal/nodeid"
	"github.com/dreamware/stract/internal/shardid"
)

// SeedCentrality returns a SeedFunc that initializes tables for a fresh
// centrality computation over graph, partitioned across shards: every
// node's counter starts as a self-edge sketch (it can always reach itself),
// centrality starts at zero (the zero value, written lazily by the first
// AddCentrality), and every shard's changed-node bloom starts holding every
// node so the first round recomputes everything.
func SeedCentrality(tables *CentralityTables, graph Graph, shards []shardid.ID, expectedNodesPerShard uint, falsePositiveRate float64) SeedFunc {
	return func(ctx context.Context) error {
		var allNodes []nodeid.ID
		for _, shard := range shards {
			allNodes = append(allNodes, graph.NodesInShard(shard)...)
		}

		for _, node := range allNodes {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			sketch := hyperloglog.New()
			sketch.Insert(nodeKey(node))
			if err := tables.Counters.Set(node, sketch); err != nil {
				return err
			}
		}

		n, fp := expectedNodesPerShard, falsePositiveRate
		if n == 0 {
			n = 100_000
		}
		if fp <= 0 {
			fp = 0.01
		}
		for _, shard := range shards {
			initial := bloom.NewWithEstimates(n, fp)
			for _, node := range allNodes {
				initial.Add(nodeKey(node))
			}
			if err := tables.ChangedNodes.Set(shard, initial); err != nil {
				return err
			}
		}

		return tables.MetaTable.Set(MetaKey{}, CentralityMeta{
			RoundHadChanges:    true,
			UpperBoundNumNodes: uint64(len(allNodes)),
		})
	}
}
