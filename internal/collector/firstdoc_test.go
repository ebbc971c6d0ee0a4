package collector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stract/internal/collector"
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

func TestFirstDocCollectorPicksLowestDocID(t *testing.T) {
	seg := segment.NewID()
	w := &collector.Warmup{}
	w.Set(seg, &collector.WarmedColumnFields{DocIDs: []uint64{9, 2, 5}})

	c := &collector.FirstDocCollector{Warmup: w}
	fruit, err := c.CollectSegment(seg)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fruit.(*collector.DocAddressWithHost).DocID)
}

func TestFirstDocCollectorEmptySegmentYieldsNil(t *testing.T) {
	seg := segment.NewID()
	w := &collector.Warmup{}
	w.Set(seg, &collector.WarmedColumnFields{})

	c := &collector.FirstDocCollector{Warmup: w}
	fruit, err := c.CollectSegment(seg)
	require.NoError(t, err)
	assert.Nil(t, fruit.(*collector.DocAddressWithHost))
}

func TestFirstDocCollectorMergeShardsOmitsEmptyShards(t *testing.T) {
	segA, segB := segment.NewID(), segment.NewID()
	w := &collector.Warmup{}
	w.Set(segA, &collector.WarmedColumnFields{DocIDs: []uint64{4}})
	w.Set(segB, &collector.WarmedColumnFields{})

	c := &collector.FirstDocCollector{Warmup: w}
	fruitA, err := c.CollectSegment(segA)
	require.NoError(t, err)
	fruitB, err := c.CollectSegment(segB)
	require.NoError(t, err)

	final, err := c.MergeShards(map[shardid.ID]interface{}{
		shardid.NewBackbone(0): fruitA,
		shardid.NewLive(0):     fruitB,
	})
	require.NoError(t, err)
	winners := final.(map[shardid.ID]*collector.DocAddressWithHost)
	assert.Len(t, winners, 1)
	assert.Contains(t, winners, shardid.NewBackbone(0))
}
