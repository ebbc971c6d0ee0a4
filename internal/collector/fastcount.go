package collector

import (
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// FastCountCollector counts documents, optionally grouped by a warmed
// column value. It never needs a score, so the store can skip ranking
// entirely for count-only queries.
type FastCountCollector struct {
	Warmup  *Warmup
	Grouped bool // when true, groups by WarmedColumnFields.Group
}

func (c *FastCountCollector) RequiresScoring() bool { return false }

// CollectSegment returns map[string]int64: group -> count. Ungrouped counts
// land under the empty-string key.
func (c *FastCountCollector) CollectSegment(seg segment.ID) (interface{}, error) {
	fields, ok := c.Warmup.Get(seg)
	if !ok {
		return nil, ErrMissingWarmup
	}
	counts := make(map[string]int64)
	for _, docID := range fields.DocIDs {
		key := ""
		if c.Grouped {
			key = fields.Group[docID]
		}
		counts[key]++
	}
	return counts, nil
}

func (c *FastCountCollector) MergeChildren(children []interface{}) (interface{}, error) {
	return sumCounts(children), nil
}

func (c *FastCountCollector) MergeShards(shardFruits map[shardid.ID]interface{}) (interface{}, error) {
	fruits := make([]interface{}, 0, len(shardFruits))
	for _, f := range shardFruits {
		fruits = append(fruits, f)
	}
	return sumCounts(fruits), nil
}

func sumCounts(fruits []interface{}) map[string]int64 {
	total := make(map[string]int64)
	for _, f := range fruits {
		counts, ok := f.(map[string]int64)
		if !ok {
			continue
		}
		for k, v := range counts {
			total[k] += v
		}
	}
	return total
}
