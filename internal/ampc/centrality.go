package ampc

import (
	"context"
	"fmt"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/dreamware/stract/internal/kahan"
	"github.com/dreamware/stract/internal/nodeid"
	"github.com/dreamware/stract/internal/shardid"
)

// MetaKey is the singleton key for the Meta table: CentralityMeta has
// exactly one row, so the key itself carries no information.
type MetaKey struct{}

// MarshalBinary implements encoding.BinaryMarshaler so MetaKey satisfies
// dht.Key despite carrying no data.
func (MetaKey) MarshalBinary() ([]byte, error) { return []byte{}, nil }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (k *MetaKey) UnmarshalBinary(b []byte) error {
	if len(b) != 0 {
		return fmt.Errorf("ampc: MetaKey expects 0 bytes, got %d", len(b))
	}
	return nil
}

// CentralityMeta is the Meta table's single row: whether the round just run
// produced any change, and the current upper bound on total node count used
// to normalize final scores.
type CentralityMeta struct {
	RoundHadChanges    bool
	UpperBoundNumNodes uint64
}

// Graph is the read-only neighbor lookup the centrality mapper consumes, an
// external collaborator in the same sense the segment store is for the live
// index (§4.6): this module only specifies the interface it needs.
type Graph interface {
	// NodesInShard returns every node the given graph shard is responsible
	// for computing centrality on.
	NodesInShard(shard shardid.ID) []nodeid.ID
	// Neighbors returns node's outbound neighbors, which may belong to any
	// shard.
	Neighbors(node nodeid.ID) []nodeid.ID
}

// CentralityJob asks the worker owning Shard to run one harmonic-centrality
// round. AllShards lets the mapper test every shard's changed-node bloom
// from the previous round, since a node's neighbor can live in any shard.
type CentralityJob struct {
	Shard     shardid.ID
	Round     uint64
	AllShards []shardid.ID
}

func (j CentralityJob) ShardID() shardid.ID { return j.Shard }
func (j CentralityJob) RoundNum() uint64    { return j.Round }

// CentralityWorker owns one graph shard and the neighbor lookup for it.
type CentralityWorker struct {
	Shard shardid.ID
	Graph Graph
}

// Accepts reports whether this worker owns shard.
func (w *CentralityWorker) Accepts(shard shardid.ID) bool { return w.Shard == shard }

// DhtSnapshot is the point-in-time, read-only view of sketch and bloom state
// a Mapper reads from. Coordinator.runRound takes one Snapshot per round
// before dispatching any shard's job, so every Map call in that round reads
// state as it stood at round start rather than racing a sibling shard's
// concurrent writes or its own later writes within the same round — the
// "previous round" neighbor/bloom state §4.5 requires.
type DhtSnapshot interface {
	// Sketch returns node's reachability sketch as of the snapshot, a fresh
	// empty one if node had none.
	Sketch(node nodeid.ID) (*hyperloglog.Sketch, error)
	// Bloom returns shard's changed-node bloom as of the snapshot, and
	// whether one existed.
	Bloom(shard shardid.ID) (*bloom.BloomFilter, bool, error)
}

// DhtHandle is the narrow, domain-specific view of the four CentralityTables
// a mapper needs. It type-erases dht.Table's generic Get/Set/Upsert behind
// names matching the operations §4.5 describes, so CentralityMapper.Map
// itself carries no generic type parameters — the same "closed dispatch"
// preference used for search collectors, applied here to avoid threading
// dht.Table[K,V] type parameters through the Mapper interface.
type DhtHandle interface {
	// Meta returns the current single row of centrality metadata.
	Meta() (CentralityMeta, error)
	// ResetRoundHadChanges clears RoundHadChanges before a round starts,
	// leaving UpperBoundNumNodes as SeedCentrality set it.
	ResetRoundHadChanges() error
	// MarkRoundHadChanges records that some worker found a change this
	// round. Idempotent and safe to call from multiple concurrent workers.
	MarkRoundHadChanges() error

	// Snapshot captures every node's sketch and every shard's changed-node
	// bloom as they stand right now, for the coordinator to hand to every
	// shard's Map call for the coming round instead of the live tables.
	Snapshot() (DhtSnapshot, error)

	// Sketch returns node's current reachability sketch, a fresh empty one
	// if node has never been observed.
	Sketch(node nodeid.ID) (*hyperloglog.Sketch, error)
	// MergeSketch merges neighbor's sketch into target's stored sketch in
	// one read-modify-write and returns how much target's estimated
	// cardinality grew.
	MergeSketch(target nodeid.ID, neighbor *hyperloglog.Sketch) (delta uint64, err error)

	// AddCentrality folds delta into node's accumulated harmonic score via
	// Kahan summation.
	AddCentrality(node nodeid.ID, delta float64) error
	// CentralityScores returns every node's raw (unnormalized) accumulated
	// score.
	CentralityScores() (map[nodeid.ID]float64, error)

	// Bloom returns shard's changed-node bloom from the last round it ran,
	// and whether one has ever been written.
	Bloom(shard shardid.ID) (*bloom.BloomFilter, bool, error)
	// WriteBloom overwrites shard's bloom with this round's changed nodes.
	// Only the worker owning shard ever calls this for its own shard,
	// preserving per-shard single-writer discipline.
	WriteBloom(shard shardid.ID, filter *bloom.BloomFilter) error
}

func nodeKey(n nodeid.ID) []byte {
	b, _ := n.MarshalBinary()
	return b
}

// CentralityMapper implements one harmonic-centrality round: for each local
// node whose neighbor appears in any shard's previous-round changed-node
// bloom, merge the neighbor's sketch into the node's own counter; if the
// counter's estimated cardinality grew by Δ, add Δ/round to the node's
// centrality via Kahan summation and flip this shard's bloom bit for the
// node.
type CentralityMapper struct {
	ExpectedNodesPerShard uint
	FalsePositiveRate     float64
}

func (m *CentralityMapper) filterParams() (uint, float64) {
	n := m.ExpectedNodesPerShard
	if n == 0 {
		n = 100_000
	}
	fp := m.FalsePositiveRate
	if fp <= 0 {
		fp = 0.01
	}
	return n, fp
}

// Map runs one round for the shard job names. It is a pure function of DHT
// state: re-invoking it with the same state (a retried or duplicate round
// dispatch) produces the same writes, since every write is either an
// overwrite of this shard's own bloom or an additive, commutative merge. All
// reads come from snapshot, the previous-round view Coordinator.runRound
// took before dispatching any shard this round; writes still go through the
// live dht, since each node/shard is written by exactly one job per round.
func (m *CentralityMapper) Map(ctx context.Context, job Job, worker Worker, dht DhtHandle, snapshot DhtSnapshot) error {
	cj, ok := job.(CentralityJob)
	if !ok {
		return fmt.Errorf("ampc: CentralityMapper given unexpected job type %T", job)
	}
	cw, ok := worker.(*CentralityWorker)
	if !ok {
		return fmt.Errorf("ampc: CentralityMapper given unexpected worker type %T", worker)
	}

	blooms := make([]*bloom.BloomFilter, 0, len(cj.AllShards))
	for _, shard := range cj.AllShards {
		f, found, err := snapshot.Bloom(shard)
		if err != nil {
			return err
		}
		if found {
			blooms = append(blooms, f)
		}
	}

	n, fp := m.filterParams()
	freshBloom := bloom.NewWithEstimates(n, fp)
	changed := false

	for _, node := range cw.Graph.NodesInShard(cj.Shard) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var totalDelta uint64
		for _, neighbor := range cw.Graph.Neighbors(node) {
			if !anyBloomContains(blooms, neighbor) {
				continue
			}
			neighborSketch, err := snapshot.Sketch(neighbor)
			if err != nil {
				return err
			}
			delta, err := dht.MergeSketch(node, neighborSketch)
			if err != nil {
				return err
			}
			totalDelta += delta
		}

		if totalDelta == 0 {
			continue
		}
		if err := dht.AddCentrality(node, float64(totalDelta)/float64(cj.Round)); err != nil {
			return err
		}
		freshBloom.Add(nodeKey(node))
		changed = true
	}

	if err := dht.WriteBloom(cj.Shard, freshBloom); err != nil {
		return err
	}
	if changed {
		return dht.MarkRoundHadChanges()
	}
	return nil
}

func anyBloomContains(blooms []*bloom.BloomFilter, node nodeid.ID) bool {
	key := nodeKey(node)
	for _, f := range blooms {
		if f.Test(key) {
			return true
		}
	}
	return false
}

// FinalizeScores divides every node's accumulated centrality by
// (UpperBoundNumNodes - 1), the harmonic-denominator approximation, once a
// round reports RoundHadChanges == false.
func FinalizeScores(dht DhtHandle) (map[nodeid.ID]float64, error) {
	meta, err := dht.Meta()
	if err != nil {
		return nil, err
	}
	raw, err := dht.CentralityScores()
	if err != nil {
		return nil, err
	}
	if meta.UpperBoundNumNodes <= 1 {
		return raw, nil
	}
	denom := float64(meta.UpperBoundNumNodes - 1)
	out := make(map[nodeid.ID]float64, len(raw))
	for n, score := range raw {
		out[n] = score / denom
	}
	return out, nil
}
