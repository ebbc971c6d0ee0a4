package collector

import (
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// FirstDocCollector resolves one representative document per shard, used to
// map a shard id to the node hosting it for centrality lookups: the AMPC
// coordinator needs to know which live-index node to query for a given
// shard's documents, and any doc in that shard will do.
//
// "First" is defined as lowest DocID rather than segment iteration order,
// since CollectSegment's per-segment invocation order is unspecified.
type FirstDocCollector struct {
	Warmup *Warmup
}

func (c *FirstDocCollector) RequiresScoring() bool { return false }

func (c *FirstDocCollector) CollectSegment(seg segment.ID) (interface{}, error) {
	fields, ok := c.Warmup.Get(seg)
	if !ok {
		return nil, ErrMissingWarmup
	}
	if len(fields.DocIDs) == 0 {
		return (*DocAddressWithHost)(nil), nil
	}
	best := fields.DocIDs[0]
	for _, id := range fields.DocIDs[1:] {
		if id < best {
			best = id
		}
	}
	addr := &DocAddressWithHost{DocAddress: DocAddress{Segment: seg, DocID: best}}
	if fields.Host != nil {
		addr.Host = fields.Host[best]
	}
	return addr, nil
}

func (c *FirstDocCollector) MergeChildren(children []interface{}) (interface{}, error) {
	var best *DocAddressWithHost
	for _, child := range children {
		addr, ok := child.(*DocAddressWithHost)
		if !ok || addr == nil {
			continue
		}
		if best == nil || addr.DocID < best.DocID {
			best = addr
		}
	}
	return best, nil
}

// MergeShards assembles the per-shard winners into one map; shards with no
// documents are omitted.
func (c *FirstDocCollector) MergeShards(shardFruits map[shardid.ID]interface{}) (interface{}, error) {
	out := make(map[shardid.ID]*DocAddressWithHost, len(shardFruits))
	for shard, fruit := range shardFruits {
		addr, ok := fruit.(*DocAddressWithHost)
		if !ok || addr == nil {
			continue
		}
		out[shard] = addr
	}
	return out, nil
}
