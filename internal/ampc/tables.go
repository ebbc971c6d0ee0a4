package ampc

import (
	"path/filepath"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"

	"github.com/dreamware/stract/internal/dht"
	"github.com/dreamware/stract/internal/kahan"
	"github.com/dreamware/stract/internal/nodeid"
	"github.com/dreamware/stract/internal/shardid"
)

// CentralityTables wires DhtHandle to four local dht.Table instances, one
// bbolt file per table. A multi-process deployment would instead proxy each
// call over dht.Server/keegancsmith-rpc to whichever process owns that
// table's shard; this type is the in-process reference the coordinator and
// its tests exercise directly, the same role a MemStore plays for the
// segment store contract.
type CentralityTables struct {
	Counters     *dht.Table[nodeid.ID, *hyperloglog.Sketch]
	MetaTable    *dht.Table[MetaKey, CentralityMeta]
	Centrality   *dht.Table[nodeid.ID, *kahan.Sum]
	ChangedNodes *dht.Table[shardid.ID, *bloom.BloomFilter]
}

// OpenCentralityTables opens (creating if necessary) the four bbolt files
// the centrality tables live in, under dir.
func OpenCentralityTables(dir string) (*CentralityTables, error) {
	counters, err := dht.Open[nodeid.ID, *hyperloglog.Sketch](filepath.Join(dir, "counters.db"))
	if err != nil {
		return nil, err
	}
	meta, err := dht.Open[MetaKey, CentralityMeta](filepath.Join(dir, "meta.db"))
	if err != nil {
		_ = counters.Close()
		return nil, err
	}
	centrality, err := dht.Open[nodeid.ID, *kahan.Sum](filepath.Join(dir, "centrality.db"))
	if err != nil {
		_ = counters.Close()
		_ = meta.Close()
		return nil, err
	}
	changedNodes, err := dht.Open[shardid.ID, *bloom.BloomFilter](filepath.Join(dir, "changed_nodes.db"))
	if err != nil {
		_ = counters.Close()
		_ = meta.Close()
		_ = centrality.Close()
		return nil, err
	}
	return &CentralityTables{Counters: counters, MetaTable: meta, Centrality: centrality, ChangedNodes: changedNodes}, nil
}

// Close closes all four underlying bbolt files, returning the first error
// encountered (after attempting to close every one).
func (t *CentralityTables) Close() error {
	var firstErr error
	for _, closer := range []interface{ Close() error }{t.Counters, t.MetaTable, t.Centrality, t.ChangedNodes} {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ DhtHandle = (*CentralityTables)(nil)

// centralityTablesSnapshot is an in-memory, point-in-time copy of Counters
// and ChangedNodes, built once per round by Snapshot. Each entry was decoded
// off its own gob-encoded bbolt value by Scan, so it shares no memory with
// anything a concurrent round-write could mutate afterward.
type centralityTablesSnapshot struct {
	sketches map[nodeid.ID]*hyperloglog.Sketch
	blooms   map[shardid.ID]*bloom.BloomFilter
}

func (s *centralityTablesSnapshot) Sketch(node nodeid.ID) (*hyperloglog.Sketch, error) {
	if sk := s.sketches[node]; sk != nil {
		return sk, nil
	}
	return hyperloglog.New(), nil
}

func (s *centralityTablesSnapshot) Bloom(shard shardid.ID) (*bloom.BloomFilter, bool, error) {
	f, ok := s.blooms[shard]
	return f, ok, nil
}

// Snapshot copies every node's sketch and every shard's changed-node bloom
// as they stand right now, via the same bbolt cursor Scan uses elsewhere for
// full-table reads. Each table is a separate bbolt file copied in its own
// read transaction, so each table's copy is consistent on its own; the two
// copies are not taken at one shared instant.
func (t *CentralityTables) Snapshot() (DhtSnapshot, error) {
	sketches := make(map[nodeid.ID]*hyperloglog.Sketch)
	if err := t.Counters.Scan(func(key nodeid.ID, value *hyperloglog.Sketch) bool {
		if value != nil {
			sketches[key] = value
		}
		return true
	}); err != nil {
		return nil, err
	}

	blooms := make(map[shardid.ID]*bloom.BloomFilter)
	if err := t.ChangedNodes.Scan(func(key shardid.ID, value *bloom.BloomFilter) bool {
		if value != nil {
			blooms[key] = value
		}
		return true
	}); err != nil {
		return nil, err
	}

	return &centralityTablesSnapshot{sketches: sketches, blooms: blooms}, nil
}

// Meta returns the current single row of centrality metadata, the zero
// value if the table has never been written.
func (t *CentralityTables) Meta() (CentralityMeta, error) {
	m, err := t.MetaTable.Get(MetaKey{})
	if err != nil {
		if errors.Is(err, dht.ErrKeyNotFound) {
			return CentralityMeta{}, nil
		}
		return CentralityMeta{}, err
	}
	return m, nil
}

// ResetRoundHadChanges clears RoundHadChanges before a new round starts,
// leaving UpperBoundNumNodes untouched.
func (t *CentralityTables) ResetRoundHadChanges() error {
	return t.MetaTable.Upsert(MetaKey{}, func(old CentralityMeta, found bool) CentralityMeta {
		old.RoundHadChanges = false
		return old
	})
}

// MarkRoundHadChanges flips RoundHadChanges to true, idempotently.
func (t *CentralityTables) MarkRoundHadChanges() error {
	return t.MetaTable.Upsert(MetaKey{}, func(old CentralityMeta, found bool) CentralityMeta {
		old.RoundHadChanges = true
		return old
	})
}

// Sketch returns node's current reachability sketch, or a fresh empty one
// if node has never been observed.
func (t *CentralityTables) Sketch(node nodeid.ID) (*hyperloglog.Sketch, error) {
	sk, err := t.Counters.Get(node)
	if err != nil {
		if errors.Is(err, dht.ErrKeyNotFound) {
			return hyperloglog.New(), nil
		}
		return nil, err
	}
	if sk == nil {
		return hyperloglog.New(), nil
	}
	return sk, nil
}

// MergeSketch merges neighbor into target's stored sketch inside one bbolt
// transaction and reports how much target's estimated cardinality grew.
func (t *CentralityTables) MergeSketch(target nodeid.ID, neighbor *hyperloglog.Sketch) (uint64, error) {
	var delta uint64
	err := t.Counters.Upsert(target, func(old *hyperloglog.Sketch, found bool) *hyperloglog.Sketch {
		if !found || old == nil {
			old = hyperloglog.New()
		}
		before := old.Estimate()
		_ = old.Merge(neighbor)
		after := old.Estimate()
		if after > before {
			delta = after - before
		}
		return old
	})
	return delta, err
}

// AddCentrality folds delta into node's accumulated harmonic score.
func (t *CentralityTables) AddCentrality(node nodeid.ID, delta float64) error {
	return t.Centrality.Upsert(node, func(old *kahan.Sum, found bool) *kahan.Sum {
		if old == nil {
			old = &kahan.Sum{}
		}
		old.Add(delta)
		return old
	})
}

// CentralityScores returns every node's raw (unnormalized) accumulated
// score.
func (t *CentralityTables) CentralityScores() (map[nodeid.ID]float64, error) {
	out := make(map[nodeid.ID]float64)
	err := t.Centrality.Scan(func(key nodeid.ID, value *kahan.Sum) bool {
		if value != nil {
			out[key] = value.Value()
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Bloom returns shard's changed-node bloom from the last round it ran, and
// whether one has ever been written.
func (t *CentralityTables) Bloom(shard shardid.ID) (*bloom.BloomFilter, bool, error) {
	f, err := t.ChangedNodes.Get(shard)
	if err != nil {
		if errors.Is(err, dht.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return f, true, nil
}

// WriteBloom overwrites shard's bloom with this round's changed nodes.
func (t *CentralityTables) WriteBloom(shard shardid.ID, filter *bloom.BloomFilter) error {
	return t.ChangedNodes.Set(shard, filter)
}
