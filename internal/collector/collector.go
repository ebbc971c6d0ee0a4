// Package collector implements the two-level reducer framework every search
// query runs through: a Child accumulates one segment's hits into a
// segment-local fruit, a parent merges per-segment fruits into one
// collector-level (shard) fruit, and the caller merges per-shard fruits into
// the final answer.
//
// Column data a collector needs (document host, first-doc id, group keys) is
// warmed once per store reopen (by whoever wires the store, e.g.
// search.WarmMemStore) and shared read-only across concurrent collectors
// through Warmup, rather than re-opened per query.
package collector

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/dreamware/stract/internal/nodeid"
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// DocAddress locates one document within a segment.
type DocAddress struct {
	Segment segment.ID
	DocID   uint64
}

// DocAddressWithHost is a DocAddress plus the host column value warmed
// alongside it, used by host-deduplication.
type DocAddressWithHost struct {
	DocAddress
	Host nodeid.ID
}

// Hit is one ranked candidate. Lower Rank is better.
type Hit struct {
	Rank    float64
	Address DocAddressWithHost
}

// DocumentScorer assigns a rank to one document. Lower is better. Real
// scoring (BM25, freshness, etc.) is an external collaborator's concern;
// this package only consumes the result.
type DocumentScorer interface {
	Score(seg segment.ID, docID uint64) float64
}

// WarmedColumnFields is the per-segment column data a collector reads
// instead of opening columns itself. Populated once per ReOpen and shared
// read-only; mutating it concurrently with a Search is a programming error.
type WarmedColumnFields struct {
	DocIDs []uint64
	Host   map[uint64]nodeid.ID
	Group  map[uint64]string
}

// Warmup is the registry collectors read from, keyed by segment id. It is
// populated by whoever wires the store (e.g. search.WarmMemStore) after each
// Store.ReOpen; ReOpen itself does not fill it.
type Warmup struct {
	fields sync.Map // segment.ID -> *WarmedColumnFields
}

// Set installs (or replaces) the warmed fields for seg.
func (w *Warmup) Set(seg segment.ID, fields *WarmedColumnFields) {
	w.fields.Store(seg, fields)
}

// Get returns the warmed fields for seg, if any.
func (w *Warmup) Get(seg segment.ID) (*WarmedColumnFields, bool) {
	v, ok := w.fields.Load(seg)
	if !ok {
		return nil, false
	}
	return v.(*WarmedColumnFields), true
}

// Delete drops seg's warmed fields, called when a segment is merged away or
// pruned.
func (w *Warmup) Delete(seg segment.ID) {
	w.fields.Delete(seg)
}

// Collector is the full two-level reducer contract. CollectSegment already
// satisfies segment.Collector so a Collector can be passed straight to
// Store.Search; MergeChildren and MergeShards happen outside the store, in
// whatever fans out across segments (a shard-local search) and shards (the
// distributed searcher).
type Collector interface {
	segment.Collector

	// MergeChildren reduces the per-segment fruits produced by
	// CollectSegment (in Store.Search's return slice) into one
	// shard-level fruit.
	MergeChildren(children []interface{}) (interface{}, error)

	// MergeShards reduces per-shard fruits into the final, coordinator-
	// level fruit.
	MergeShards(shardFruits map[shardid.ID]interface{}) (interface{}, error)
}

// ErrMissingWarmup is returned when a collector is asked to collect a
// segment Warmup has no entry for — a programming error, since Warmup must
// be populated for every segment before any Search can run.
var ErrMissingWarmup = errors.New("collector: no warmed column fields for segment")

func sortHitsStable(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Rank < hits[j].Rank })
}

// dedupFirstPerHost keeps the first (lowest-rank, since hits is assumed
// pre-sorted) occurrence of each host and drops the rest.
func dedupFirstPerHost(hits []Hit) []Hit {
	seen := make(map[nodeid.ID]struct{}, len(hits))
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.Address.Host]; ok {
			continue
		}
		seen[h.Address.Host] = struct{}{}
		out = append(out, h)
	}
	return out
}
