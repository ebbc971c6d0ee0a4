package collector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stract/internal/collector"
	"github.com/dreamware/stract/internal/nodeid"
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// rankScorer scores by a fixed table, falling back to 0 for unknown ids,
// letting tests express "sort_score" values directly as in the scenarios
// this protocol is grounded on.
type rankScorer map[uint64]float64

func (r rankScorer) Score(seg segment.ID, docID uint64) float64 { return r[docID] }

func warmup(t *testing.T, seg segment.ID, docIDs []uint64, hosts map[uint64]nodeid.ID) *collector.Warmup {
	t.Helper()
	w := &collector.Warmup{}
	w.Set(seg, &collector.WarmedColumnFields{DocIDs: docIDs, Host: hosts})
	return w
}

func TestTopDocsCollectorRanksAscending(t *testing.T) {
	seg := segment.NewID()
	w := warmup(t, seg, []uint64{1, 2, 3}, nil)
	c := &collector.TopDocsCollector{Warmup: w, Scorer: rankScorer{1: 3, 2: 1, 3: 2}}

	fruit, err := c.CollectSegment(seg)
	require.NoError(t, err)
	hits := fruit.([]collector.Hit)
	require.Len(t, hits, 3)
	assert.Equal(t, uint64(2), hits[0].Address.DocID)
	assert.Equal(t, uint64(3), hits[1].Address.DocID)
	assert.Equal(t, uint64(1), hits[2].Address.DocID)
}

func TestTopDocsCollectorOffsetWithDedup(t *testing.T) {
	// Grounded on the three-edge scenario: A1,A2 -> host A.com, C1 -> host
	// C.com, all pointing at B.com with sort scores 1,1,3. HostBacklinks
	// with limit=1 at offset=0 returns [A.com]; offset=1 returns [C.com];
	// offset=2 returns [].
	aHost := nodeid.FromString("A.com")
	cHost := nodeid.FromString("C.com")

	seg := segment.NewID()
	w := warmup(t, seg, []uint64{1, 2, 3}, map[uint64]nodeid.ID{
		1: aHost, // A1
		2: aHost, // A2
		3: cHost, // C1
	})
	scores := rankScorer{1: 1, 2: 1, 3: 3}

	run := func(limit, offset int) []collector.Hit {
		l, o := limit, offset
		shard := &collector.TopDocsCollector{Warmup: w, Scorer: scores, HostDedup: true, Limit: &l, Offset: &o}
		fruit, err := shard.CollectSegment(seg)
		require.NoError(t, err)
		children, err := shard.MergeChildren([]interface{}{fruit})
		require.NoError(t, err)

		coordinator := &collector.TopDocsCollector{HostDedup: true, Limit: &l, Offset: &o}
		final, err := coordinator.MergeShards(map[shardid.ID]interface{}{shardid.NewBackbone(0): children})
		require.NoError(t, err)
		return final.([]collector.Hit)
	}

	at0 := run(1, 0)
	require.Len(t, at0, 1)
	assert.Equal(t, aHost, at0[0].Address.Host)

	at1 := run(1, 1)
	require.Len(t, at1, 1)
	assert.Equal(t, cHost, at1[0].Address.Host)

	at2 := run(1, 2)
	assert.Empty(t, at2)
}

func TestTopDocsCollectorMissingHostColumnErrorsWhenDedupRequested(t *testing.T) {
	seg := segment.NewID()
	w := warmup(t, seg, []uint64{1}, nil)
	c := &collector.TopDocsCollector{Warmup: w, Scorer: rankScorer{}, HostDedup: true}

	_, err := c.CollectSegment(seg)
	assert.Error(t, err)
}

func TestTopDocsCollectorUnsetLimitRetainsEverything(t *testing.T) {
	seg := segment.NewID()
	docIDs := make([]uint64, collector.DeduplicationBuffer+50)
	scores := make(rankScorer, len(docIDs))
	for i := range docIDs {
		docIDs[i] = uint64(i)
		scores[uint64(i)] = float64(i)
	}
	w := warmup(t, seg, docIDs, nil)
	c := &collector.TopDocsCollector{Warmup: w, Scorer: scores}

	fruit, err := c.CollectSegment(seg)
	require.NoError(t, err)
	assert.Len(t, fruit.([]collector.Hit), len(docIDs), "no limit/offset set means nothing is truncated")
}
