package collector

import (
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// DeduplicationBuffer is the slack a shard-local top-K heap carries past
// limit+offset so that, after hosts collapse during the global merge, at
// least limit distinct hosts still remain with overwhelming probability.
// Load-bearing: under-buffering silently truncates results, over-buffering
// only wastes bandwidth.
const DeduplicationBuffer = 128

// TopDocsCollector returns the lowest-rank K documents globally, optionally
// deduplicated to at most one hit per host.
//
// A TopDocsCollector never requires scoring from the store: rank comes from
// Scorer, not a store-computed relevance score.
type TopDocsCollector struct {
	Warmup    *Warmup
	Scorer    DocumentScorer
	HostDedup bool

	// Limit and Offset are nil when unset, in which case CollectSegment
	// retains every candidate and harvesting sorts without truncating —
	// distinct from an explicit zero, which is a real offset of zero.
	Limit  *int
	Offset *int
}

func (c *TopDocsCollector) RequiresScoring() bool { return false }

// CollectSegment is the Child level: it scores every doc id warmed for seg,
// sorts by rank (ties broken by original column order, i.e. stably), and
// truncates to the shard-local retention window when both Limit and Offset
// are set.
func (c *TopDocsCollector) CollectSegment(seg segment.ID) (interface{}, error) {
	fields, ok := c.Warmup.Get(seg)
	if !ok {
		return nil, ErrMissingWarmup
	}
	if c.HostDedup && fields.Host == nil {
		return nil, errMissingHostColumn(seg)
	}

	hits := make([]Hit, 0, len(fields.DocIDs))
	for _, docID := range fields.DocIDs {
		addr := DocAddressWithHost{DocAddress: DocAddress{Segment: seg, DocID: docID}}
		if c.HostDedup {
			addr.Host = fields.Host[docID]
		}
		hits = append(hits, Hit{Rank: c.Scorer.Score(seg, docID), Address: addr})
	}
	sortHitsStable(hits)

	if c.Limit != nil && c.Offset != nil {
		window := deref(c.Limit) + deref(c.Offset) + DeduplicationBuffer
		if len(hits) > window {
			hits = hits[:window]
		}
	}
	return hits, nil
}

// MergeChildren is the shard-side harvest: merge every segment's hits,
// apply host dedup, and keep limit+DeduplicationBuffer candidates without
// applying offset — offset is deferred to the coordinator so enough
// candidates survive the cross-shard host collapse. This is the "disable
// offset" mode.
func (c *TopDocsCollector) MergeChildren(children []interface{}) (interface{}, error) {
	var hits []Hit
	for _, child := range children {
		h, ok := child.([]Hit)
		if !ok {
			continue // a nil/other-typed child from a failed segment is skipped
		}
		hits = append(hits, h...)
	}
	sortHitsStable(hits)
	if c.HostDedup {
		hits = dedupFirstPerHost(hits)
	}
	if c.Limit != nil {
		window := *c.Limit + DeduplicationBuffer
		if len(hits) > window {
			hits = hits[:window]
		}
	}
	return hits, nil
}

// MergeShards is the coordinator-side harvest: merge every shard's hits,
// apply host dedup over the global candidate set, then apply offset and
// limit. This is the "perform offset" mode.
func (c *TopDocsCollector) MergeShards(shardFruits map[shardid.ID]interface{}) (interface{}, error) {
	var hits []Hit
	for _, fruit := range shardFruits {
		h, ok := fruit.([]Hit)
		if !ok {
			continue
		}
		hits = append(hits, h...)
	}
	sortHitsStable(hits)
	if c.HostDedup {
		hits = dedupFirstPerHost(hits)
	}

	if c.Offset != nil {
		if *c.Offset >= len(hits) {
			return []Hit{}, nil
		}
		hits = hits[*c.Offset:]
	}
	if c.Limit != nil && len(hits) > *c.Limit {
		hits = hits[:*c.Limit]
	}
	return hits, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func errMissingHostColumn(seg segment.ID) error {
	return &missingHostColumnError{seg: seg}
}

type missingHostColumnError struct{ seg segment.ID }

func (e *missingHostColumnError) Error() string {
	return "collector: host-dedup requested but segment " + e.seg.String() + " has no warmed host column"
}
