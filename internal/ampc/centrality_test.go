package ampc

import (
	"context"
	"testing"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"
	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stract/internal/nodeid"
	"github.com/dreamware/stract/internal/searcherrors"
	"github.com/dreamware/stract/internal/shardid"
)

// cycleGraph is a fixed adjacency list, partitioned across shards the way a
// real webgraph partition would be, with no storage behind it.
type cycleGraph struct {
	nodes map[shardid.ID][]nodeid.ID
	edges map[nodeid.ID][]nodeid.ID
}

func (g *cycleGraph) NodesInShard(shard shardid.ID) []nodeid.ID { return g.nodes[shard] }
func (g *cycleGraph) Neighbors(node nodeid.ID) []nodeid.ID      { return g.edges[node] }

// newThreeCycleGraph builds A->B->C->A split across two shards (A, C on
// shard 0; B on shard 1), the "edges alternating across two worker shards"
// scenario. Every node can reach the other two, at distance 1 and 2, so each
// node's harmonic centrality is 1/1 + 1/2 = 1.5 before normalization.
func newThreeCycleGraph() (graph *cycleGraph, shards []shardid.ID, a, b, c nodeid.ID) {
	a = nodeid.FromString("A")
	b = nodeid.FromString("B")
	c = nodeid.FromString("C")
	shard0 := shardid.NewBackbone(0)
	shard1 := shardid.NewBackbone(1)
	graph = &cycleGraph{
		nodes: map[shardid.ID][]nodeid.ID{
			shard0: {a, c},
			shard1: {b},
		},
		edges: map[nodeid.ID][]nodeid.ID{
			a: {b},
			b: {c},
			c: {a},
		},
	}
	return graph, []shardid.ID{shard0, shard1}, a, b, c
}

func TestCoordinatorRunComputesHarmonicCentralityOnThreeCycle(t *testing.T) {
	graph, shards, a, b, c := newThreeCycleGraph()

	tables, err := OpenCentralityTables(t.TempDir())
	require.NoError(t, err)
	defer tables.Close()

	coord := &Coordinator{
		Workers: []Worker{
			&CentralityWorker{Shard: shards[0], Graph: graph},
			&CentralityWorker{Shard: shards[1], Graph: graph},
		},
		Mapper: &CentralityMapper{},
		Dht:    tables,
	}

	seed := SeedCentrality(tables, graph, shards, 0, 0)
	err = coord.Run(context.Background(), seed, shards)
	require.NoError(t, err)

	scores, err := FinalizeScores(tables)
	require.NoError(t, err)

	// Every node is symmetric in a 3-cycle: reaches one neighbor at distance
	// 1 and the other at distance 2, normalized by (3 nodes - 1).
	for _, n := range []nodeid.ID{a, b, c} {
		assert.InDelta(t, 0.75, scores[n], 1e-4, "node %s", n)
	}
}

func TestCoordinatorRunTerminatesWhenNoNewNodesAreReachable(t *testing.T) {
	graph, shards, _, _, _ := newThreeCycleGraph()

	tables, err := OpenCentralityTables(t.TempDir())
	require.NoError(t, err)
	defer tables.Close()

	rounds := 0
	coord := &Coordinator{
		Workers: []Worker{
			&CentralityWorker{Shard: shards[0], Graph: graph},
			&CentralityWorker{Shard: shards[1], Graph: graph},
		},
		Mapper: &countingMapper{inner: &CentralityMapper{}, calls: &rounds},
		Dht:    tables,
	}

	seed := SeedCentrality(tables, graph, shards, 0, 0)
	err = coord.Run(context.Background(), seed, shards)
	require.NoError(t, err)

	meta, err := tables.Meta()
	require.NoError(t, err)
	assert.False(t, meta.RoundHadChanges)

	// Reachability in a 3-cycle saturates after round 2 (self, then 1-hop,
	// then 2-hop); round 3 finds nothing new for either shard, so the
	// coordinator should stop after dispatching 3 rounds * 2 shards.
	assert.Equal(t, 6, rounds)
}

// countingMapper wraps another Mapper and counts how many times Map runs.
type countingMapper struct {
	inner Mapper
	calls *int
}

func (m *countingMapper) Map(ctx context.Context, job Job, worker Worker, dht DhtHandle, snapshot DhtSnapshot) error {
	*m.calls++
	return m.inner.Map(ctx, job, worker, dht, snapshot)
}

func TestCoordinatorRunFailsRoundAfterExhaustingRetries(t *testing.T) {
	shard := shardid.NewBackbone(0)
	worker := &CentralityWorker{Shard: shard, Graph: &cycleGraph{}}
	dht := &fakeDht{}

	coord := &Coordinator{
		Workers: []Worker{worker},
		Mapper:  alwaysFailMapper{},
		Dht:     dht,
	}

	err := coord.Run(context.Background(), func(context.Context) error { return nil }, []shardid.ID{shard})
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, searcherrors.ErrSearchFailed))
}

func TestCoordinatorRunSkipsShardWithNoAcceptingWorker(t *testing.T) {
	shard := shardid.NewBackbone(0)
	other := shardid.NewBackbone(1)
	worker := &CentralityWorker{Shard: other, Graph: &cycleGraph{}}
	dht := &fakeDht{}

	coord := &Coordinator{
		Workers: []Worker{worker},
		Mapper:  alwaysFailMapper{},
		Dht:     dht,
	}

	err := coord.Run(context.Background(), func(context.Context) error { return nil }, []shardid.ID{shard})
	require.NoError(t, err)
}

type alwaysFailMapper struct{}

func (alwaysFailMapper) Map(ctx context.Context, job Job, worker Worker, dht DhtHandle, snapshot DhtSnapshot) error {
	return cerrors.New("boom")
}

func TestFinalizeScoresNormalizesByUpperBoundMinusOne(t *testing.T) {
	a := nodeid.FromString("A")
	dht := &fakeDht{
		meta:   CentralityMeta{UpperBoundNumNodes: 5},
		scores: map[nodeid.ID]float64{a: 8.0},
	}
	out, err := FinalizeScores(dht)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out[a], 1e-9)
}

func TestFinalizeScoresLeavesRawScoresForTrivialGraphs(t *testing.T) {
	a := nodeid.FromString("A")
	dht := &fakeDht{
		meta:   CentralityMeta{UpperBoundNumNodes: 1},
		scores: map[nodeid.ID]float64{a: 0},
	}
	out, err := FinalizeScores(dht)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[a])
}

func TestMetaKeyBinaryRoundTrip(t *testing.T) {
	b, err := MetaKey{}.MarshalBinary()
	require.NoError(t, err)
	assert.Empty(t, b)

	var k MetaKey
	require.NoError(t, k.UnmarshalBinary(b))

	require.Error(t, k.UnmarshalBinary([]byte{1}))
}

// fakeDht is a minimal in-memory DhtHandle for tests that exercise
// Coordinator/FinalizeScores without needing a real bbolt-backed
// CentralityTables.
type fakeDht struct {
	meta   CentralityMeta
	scores map[nodeid.ID]float64
}

var _ DhtHandle = (*fakeDht)(nil)

func (f *fakeDht) Meta() (CentralityMeta, error) { return f.meta, nil }
func (f *fakeDht) ResetRoundHadChanges() error    { f.meta.RoundHadChanges = false; return nil }
func (f *fakeDht) MarkRoundHadChanges() error     { f.meta.RoundHadChanges = true; return nil }

// Snapshot returns f itself: f's Sketch/Bloom methods already have the
// DhtSnapshot shape, and none of the tests using fakeDht exercise
// CentralityMapper.Map, so a live/snapshot distinction doesn't matter here.
func (f *fakeDht) Snapshot() (DhtSnapshot, error) { return f, nil }

func (f *fakeDht) Sketch(nodeid.ID) (*hyperloglog.Sketch, error) {
	return hyperloglog.New(), nil
}
func (f *fakeDht) MergeSketch(nodeid.ID, *hyperloglog.Sketch) (uint64, error) { return 0, nil }
func (f *fakeDht) AddCentrality(nodeid.ID, float64) error                    { return nil }
func (f *fakeDht) CentralityScores() (map[nodeid.ID]float64, error)          { return f.scores, nil }
func (f *fakeDht) Bloom(shardid.ID) (*bloom.BloomFilter, bool, error)        { return nil, false, nil }
func (f *fakeDht) WriteBloom(shardid.ID, *bloom.BloomFilter) error           { return nil }

func TestOpenCentralityTablesRoundTripsThroughBbolt(t *testing.T) {
	tables, err := OpenCentralityTables(t.TempDir())
	require.NoError(t, err)
	defer tables.Close()

	n := nodeid.FromString("A")
	require.NoError(t, tables.AddCentrality(n, 1.5))
	require.NoError(t, tables.AddCentrality(n, 0.5))

	scores, err := tables.CentralityScores()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, scores[n], 1e-9)

	require.NoError(t, tables.MarkRoundHadChanges())
	meta, err := tables.Meta()
	require.NoError(t, err)
	assert.True(t, meta.RoundHadChanges)

	require.NoError(t, tables.ResetRoundHadChanges())
	meta, err = tables.Meta()
	require.NoError(t, err)
	assert.False(t, meta.RoundHadChanges)
}
