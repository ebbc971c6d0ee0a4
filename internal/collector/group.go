package collector

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// GroupExactCollector computes an exact per-group document count plus one
// representative document id per group, for callers that need to show an
// example result alongside a facet count.
type GroupExactCollector struct {
	Warmup *Warmup
}

func (c *GroupExactCollector) RequiresScoring() bool { return false }

// GroupStats is the per-group fruit GroupExactCollector produces.
type GroupStats struct {
	Count      int64
	Example    uint64
	hasExample bool
}

func (c *GroupExactCollector) CollectSegment(seg segment.ID) (interface{}, error) {
	fields, ok := c.Warmup.Get(seg)
	if !ok {
		return nil, ErrMissingWarmup
	}
	stats := make(map[string]*GroupStats)
	for _, docID := range fields.DocIDs {
		key := fields.Group[docID]
		s, ok := stats[key]
		if !ok {
			s = &GroupStats{}
			stats[key] = s
		}
		s.Count++
		if !s.hasExample {
			s.Example = docID
			s.hasExample = true
		}
	}
	return stats, nil
}

func (c *GroupExactCollector) MergeChildren(children []interface{}) (interface{}, error) {
	return mergeGroupStats(children), nil
}

func (c *GroupExactCollector) MergeShards(shardFruits map[shardid.ID]interface{}) (interface{}, error) {
	fruits := make([]interface{}, 0, len(shardFruits))
	for _, f := range shardFruits {
		fruits = append(fruits, f)
	}
	return mergeGroupStats(fruits), nil
}

func mergeGroupStats(fruits []interface{}) map[string]*GroupStats {
	total := make(map[string]*GroupStats)
	for _, f := range fruits {
		stats, ok := f.(map[string]*GroupStats)
		if !ok {
			continue
		}
		for key, s := range stats {
			t, ok := total[key]
			if !ok {
				t = &GroupStats{}
				total[key] = t
			}
			t.Count += s.Count
			if !t.hasExample && s.hasExample {
				t.Example, t.hasExample = s.Example, true
			}
		}
	}
	return total
}

// GroupSketchCollector approximates per-group distinct-document counts with
// a Bloom filter per group instead of a hash set, trading exactness for
// bounded memory on high-cardinality grouping columns. Reuses
// bits-and-blooms/bloom, already a dependency of the centrality layer's
// changed-node tracking, rather than pulling in a dedicated Count-Min-sketch
// library for this one collector.
//
// The estimate is a Bloom filter's one-sided error applied to counting: a
// doc id is only counted the first time Test reports it as new, so repeats
// within one segment are never double-counted; repeats across segments or
// shards are not corrected for at merge time, since that would require
// shipping the filters' bitsets across the network on every query, so such
// a repeat is counted once per segment it appears in. A false positive from
// Test makes a new doc id look seen, so the count can come out lower than
// GroupExactCollector's.
type GroupSketchCollector struct {
	Warmup                *Warmup
	ExpectedItemsPerGroup uint
	FalsePositiveRate     float64
}

func (c *GroupSketchCollector) RequiresScoring() bool { return false }

func (c *GroupSketchCollector) filterParams() (uint, float64) {
	n := c.ExpectedItemsPerGroup
	if n == 0 {
		n = 10000
	}
	fp := c.FalsePositiveRate
	if fp <= 0 {
		fp = 0.01
	}
	return n, fp
}

func (c *GroupSketchCollector) CollectSegment(seg segment.ID) (interface{}, error) {
	fields, ok := c.Warmup.Get(seg)
	if !ok {
		return nil, ErrMissingWarmup
	}
	n, fp := c.filterParams()
	filters := make(map[string]*bloom.BloomFilter)
	counts := make(map[string]int64)
	for _, docID := range fields.DocIDs {
		key := fields.Group[docID]
		f, ok := filters[key]
		if !ok {
			f = bloom.NewWithEstimates(n, fp)
			filters[key] = f
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], docID)
		if !f.Test(buf[:]) {
			f.Add(buf[:])
			counts[key]++
		}
	}
	return counts, nil
}

func (c *GroupSketchCollector) MergeChildren(children []interface{}) (interface{}, error) {
	return sumCounts(children), nil
}

func (c *GroupSketchCollector) MergeShards(shardFruits map[shardid.ID]interface{}) (interface{}, error) {
	fruits := make([]interface{}, 0, len(shardFruits))
	for _, f := range shardFruits {
		fruits = append(fruits, f)
	}
	return sumCounts(fruits), nil
}
