// Package segment defines the contract the live index and the distributed
// searcher require from a wrapped columnar inverted index, plus an
// in-memory reference implementation sufficient to exercise that contract in
// tests. A production-grade columnar backend is an external collaborator;
// this package never assumes more about it than the Store interface states.
package segment

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID identifies a segment within a store. Segments are created when a live
// index commits or finishes a compaction, and destroyed when merged away or
// pruned past their TTL.
type ID = uuid.UUID

// NewID returns a fresh, randomly generated segment id.
func NewID() ID { return uuid.New() }

// Entry is a segment as tracked by Meta: its store id and the UTC timestamp
// it was created (or, for a merge result, the newest creation time among its
// inputs, so TTL is never reset by compaction).
type Entry struct {
	ID      ID        `json:"id"`
	Created time.Time `json:"created"`
}

// Collector is implemented by the collector framework; Store.Search takes
// one and returns whatever per-segment/per-shard fruit it produces. Defined
// here (rather than imported from package collector) to keep this package's
// dependency on the collector framework one-directional: collector depends
// on segment, not the reverse.
type Collector interface {
	// CollectSegment is invoked once per live segment in the store, in
	// unspecified order, and must be safe to call concurrently across
	// segments (WarmedColumnFields are shared read-only for this reason).
	CollectSegment(seg ID) (interface{}, error)
	// RequiresScoring reports whether the store needs to compute a
	// relevance score per candidate document before invoking
	// CollectSegment; false for rank-only collectors such as TopDocs.
	RequiresScoring() bool
}

// MergeOperation is an opaque handle produced by StartMergeSegmentsByID and
// consumed by EndMergeSegmentsByID. Its contents are store-specific; the
// live index never inspects it.
type MergeOperation struct {
	inputs []ID
}

// Store is the contract the live index and the collector framework require
// from a columnar inverted index. It intentionally excludes anything about
// tokenization, ranking, or query parsing — those remain the index store's
// own concern.
type Store interface {
	// Insert adds one prepared document to the store's in-memory write
	// buffer; it is not visible to Search until Commit.
	Insert(doc Document) error

	// Commit makes all inserts since the last Commit durable and visible
	// to Search, typically by sealing a new segment.
	Commit() error

	// SegmentIDs returns the ids of all segments currently present in the
	// store, in unspecified order.
	SegmentIDs() []ID

	// DeleteSegmentsByID permanently removes the given segments. Deleting
	// an id that does not exist is not an error.
	DeleteSegmentsByID(ids []ID) error

	// StartMergeSegmentsByID begins merging the given segments into one,
	// returning a prepared entry (nil if the merge would produce no
	// documents) and an opaque operation to finish with EndMerge. No
	// segment is mutated or removed yet.
	StartMergeSegmentsByID(ids []ID) (*Entry, MergeOperation, error)

	// EndMergeSegmentsByID finishes a merge started by StartMerge,
	// returning the id of the new segment, or nil if the merge produced
	// no documents (in which case the inputs are still retired).
	EndMergeSegmentsByID(op MergeOperation, prepared *Entry) (*ID, error)

	// ReOpen refreshes any cached readers (e.g. warmed column fields) to
	// reflect the store's current segment set. Called after every
	// mutation that changes which segments are live.
	ReOpen() error

	// Search runs coll over every live segment and returns whatever the
	// collector produced as the store-level fruit.
	Search(coll Collector) (interface{}, error)

	// SetShardID tags the store with the shard it backs, used when the
	// store reports itself to the cluster directory.
	SetShardID(shard interface{})
}

// Document is the prepared form of an IndexablePage ready for Store.Insert.
// The live index is responsible for producing these from raw pages; the
// store never sees an IndexablePage directly.
type Document struct {
	URL    string
	Fields map[string]string
}

// MemStore is an in-memory reference Store, sufficient to exercise the live
// index and collector framework end to end in tests. It is not a
// replacement for a real columnar backend: there is no compression, no
// on-disk persistence, and merges are a plain concatenation plus
// deduplication by URL.
type MemStore struct {
	mu       sync.RWMutex
	segments map[ID][]Document
	shard    interface{}
	pending  []Document
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{segments: make(map[ID][]Document)}
}

func (m *MemStore) Insert(doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, doc)
	return nil
}

func (m *MemStore) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	id := NewID()
	m.segments[id] = m.pending
	m.pending = nil
	return nil
}

func (m *MemStore) SegmentIDs() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ID, 0, len(m.segments))
	for id := range m.segments {
		ids = append(ids, id)
	}
	return ids
}

func (m *MemStore) DeleteSegmentsByID(ids []ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.segments, id)
	}
	return nil
}

func (m *MemStore) StartMergeSegmentsByID(ids []ID) (*Entry, MergeOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]Document)
	var order []string
	for _, id := range ids {
		for _, doc := range m.segments[id] {
			if _, ok := seen[doc.URL]; !ok {
				order = append(order, doc.URL)
			}
			seen[doc.URL] = doc
		}
	}
	if len(order) == 0 {
		return nil, MergeOperation{inputs: ids}, nil
	}
	return &Entry{ID: NewID()}, MergeOperation{inputs: ids}, nil
}

func (m *MemStore) EndMergeSegmentsByID(op MergeOperation, prepared *Entry) (*ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prepared == nil {
		for _, id := range op.inputs {
			delete(m.segments, id)
		}
		return nil, nil
	}

	seen := make(map[string]Document)
	var order []string
	for _, id := range op.inputs {
		for _, doc := range m.segments[id] {
			if _, ok := seen[doc.URL]; !ok {
				order = append(order, doc.URL)
			}
			seen[doc.URL] = doc
		}
	}
	merged := make([]Document, 0, len(order))
	for _, url := range order {
		merged = append(merged, seen[url])
	}

	for _, id := range op.inputs {
		delete(m.segments, id)
	}
	m.segments[prepared.ID] = merged
	return &prepared.ID, nil
}

func (m *MemStore) ReOpen() error { return nil }

func (m *MemStore) Search(coll Collector) (interface{}, error) {
	m.mu.RLock()
	ids := make([]ID, 0, len(m.segments))
	for id := range m.segments {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	fruits := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		fruit, err := coll.CollectSegment(id)
		if err != nil {
			return nil, err
		}
		fruits = append(fruits, fruit)
	}
	return fruits, nil
}

func (m *MemStore) SetShardID(shard interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shard = shard
}

// Docs returns the documents currently stored in segment id, for tests that
// need to assert on merge/compaction results directly.
func (m *MemStore) Docs(id ID) []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, len(m.segments[id]))
	copy(out, m.segments[id])
	return out
}
