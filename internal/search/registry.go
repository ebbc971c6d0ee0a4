package search

import (
	"fmt"
	"sync"

	"github.com/dreamware/stract/internal/collector"
	"github.com/dreamware/stract/internal/shardid"
)

// Kind tags a registered query/collector pairing. It replaces what would be
// an associated-type generic (Query::Fruit) in a language with them: Go
// has no associated types, so the dispatch happens through this closed
// table instead, per the resolution recorded for REDESIGN FLAGS.
type Kind int

const (
	KindFastCount Kind = iota
	KindFirstDoc
	KindGroupExact
	KindGroupSketch
)

func (k Kind) String() string {
	switch k {
	case KindFastCount:
		return "fast-count"
	case KindFirstDoc:
		return "first-doc"
	case KindGroupExact:
		return "group-exact"
	case KindGroupSketch:
		return "group-sketch"
	default:
		return "unknown"
	}
}

// shardMerger is the subset of collector.Collector the registry actually
// needs: collapsing one fruit per shard into a single answer. The generic
// search path never calls CollectSegment/RequiresScoring — those run inside
// the shard process, not the coordinator.
type shardMerger interface {
	MergeShards(shardFruits map[shardid.ID]interface{}) (interface{}, error)
}

// Entry is what a Kind resolves to: a factory for decoding one shard's RPC
// reply, the merger that reduces replies from every shard into a final
// answer, and Unwrap to go from the decode target NewFruit allocated to the
// fruit value the Merger actually expects (RPC decoding needs a pointer;
// a collector's fruit is sometimes the pointed-to value itself, e.g. a bare
// map). A nil Unwrap means the decode target already is the fruit value.
type Entry struct {
	NewFruit func() interface{}
	Merger   shardMerger
	Unwrap   func(decoded interface{}) interface{}
}

func (e Entry) unwrap(decoded interface{}) interface{} {
	if e.Unwrap == nil {
		return decoded
	}
	return e.Unwrap(decoded)
}

// Registry is a closed dispatch table from Kind to Entry, built once at
// startup and read-only afterward; Register before any concurrent Lookup
// calls, same convention as a flag set.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]Entry
}

// NewRegistry returns a registry pre-populated with the four collector
// kinds that terminate after a single fan-out/merge round (no pointer
// hydration phase): FastCount, FirstDoc, GroupExact, GroupSketch.
// TopDocs is deliberately not registered here — DistributedSearcher's
// SearchInitial/Retrieve already implements its two-phase pointer flow
// directly, since WebpagePointer carries the shard tag a generic fruit like
// []collector.Hit does not.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[Kind]Entry)}
	r.Register(KindFastCount, Entry{
		NewFruit: func() interface{} { m := make(map[string]int64); return &m },
		Merger:   &collector.FastCountCollector{},
		Unwrap:   func(v interface{}) interface{} { return *v.(*map[string]int64) },
	})
	r.Register(KindFirstDoc, Entry{
		// FirstDocCollector.MergeShards already expects the decode target's
		// own pointer type (*DocAddressWithHost), so no Unwrap is needed.
		NewFruit: func() interface{} { return &collector.DocAddressWithHost{} },
		Merger:   &collector.FirstDocCollector{},
	})
	r.Register(KindGroupExact, Entry{
		NewFruit: func() interface{} { m := make(map[string]*collector.GroupStats); return &m },
		Merger:   &collector.GroupExactCollector{},
		Unwrap:   func(v interface{}) interface{} { return *v.(*map[string]*collector.GroupStats) },
	})
	r.Register(KindGroupSketch, Entry{
		NewFruit: func() interface{} { m := make(map[string]int64); return &m },
		Merger:   &collector.GroupSketchCollector{},
		Unwrap:   func(v interface{}) interface{} { return *v.(*map[string]int64) },
	})
	return r
}

// Register adds or replaces kind's entry.
func (r *Registry) Register(kind Kind, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = entry
}

// Lookup returns kind's entry, if registered.
func (r *Registry) Lookup(kind Kind) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	return e, ok
}

var errUnknownKind = func(k Kind) error { return fmt.Errorf("search: no registry entry for kind %s", k) }
