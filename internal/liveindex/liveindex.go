// Package liveindex implements a single live-index shard: it owns a segment
// store and a write-ahead log, batches inserted pages, commits them into
// segments, keeps segments from fragmenting via date-bucket compaction, and
// expires stale content via TTL pruning.
//
// State is guarded by a single-writer-many-reader discipline implemented the
// way the WAL lineage this package is grounded on implements it: mutators
// (Insert, Commit, CompactSegmentsByDate, PruneSegments, DeleteAllPages)
// serialize on writeMu, while the current Meta snapshot is held in an
// atomic.Value so readers never block behind a writer holding that lock.
package liveindex

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/stract/internal/page"
	"github.com/dreamware/stract/internal/searcherrors"
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/wal"
)

// DefaultBatchSize is the number of deduplicated pages grouped into one
// indexing-worker invocation per commit, matching the recommended BATCH_SIZE
// from the specification.
const DefaultBatchSize = 512

// DefaultTTL is the maximum age of a segment before PruneSegments reaps it.
const DefaultTTL = 60 * 24 * time.Hour

// Indexer turns a batch of deduplicated pages into store-ready documents.
// Tokenization and field extraction are an external collaborator's concern;
// the default indexer below does the minimum needed to exercise the rest of
// this package.
type Indexer func(batch []page.Indexable) ([]segment.Document, error)

// DefaultIndexer copies URL and Fields straight through, adding Title/Body
// as extra fields. Real deployments inject their own Indexer.
func DefaultIndexer(batch []page.Indexable) ([]segment.Document, error) {
	docs := make([]segment.Document, 0, len(batch))
	for _, p := range batch {
		fields := make(map[string]string, len(p.Fields)+2)
		for k, v := range p.Fields {
			fields[k] = v
		}
		fields["title"] = p.Title
		fields["body"] = p.Body
		docs = append(docs, segment.Document{URL: p.URL, Fields: fields})
	}
	return docs, nil
}

// LiveIndex owns one shard's segment store and WAL.
type LiveIndex struct {
	store     segment.Store
	wal       *wal.WAL
	dir       string
	batchSize int
	ttl       time.Duration
	indexer   Indexer
	logger    log.Logger
	metrics   *metrics

	writeMu sync.Mutex   // serializes Insert/Commit/Compact/Prune/DeleteAll
	meta    atomic.Value // holds segment.Meta; read without locking
}

type metrics struct {
	commits     prometheus.Counter
	commitPages prometheus.Histogram
	segments    prometheus.Gauge
	compactions prometheus.Counter
	pruned      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stract_liveindex_commits_total", Help: "Number of Commit calls.",
		}),
		commitPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "stract_liveindex_commit_pages", Help: "Deduplicated pages committed per call.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		segments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stract_liveindex_segments", Help: "Current number of live segments.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stract_liveindex_compactions_total", Help: "Number of segment groups merged.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stract_liveindex_segments_pruned_total", Help: "Number of segments removed by TTL.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commits, m.commitPages, m.segments, m.compactions, m.pruned)
	}
	return m
}

// Option configures Open.
type Option func(*LiveIndex)

func WithBatchSize(n int) Option       { return func(li *LiveIndex) { li.batchSize = n } }
func WithTTL(ttl time.Duration) Option { return func(li *LiveIndex) { li.ttl = ttl } }
func WithIndexer(fn Indexer) Option    { return func(li *LiveIndex) { li.indexer = fn } }
func WithLogger(l log.Logger) Option   { return func(li *LiveIndex) { li.logger = l } }
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(li *LiveIndex) { li.metrics = newMetrics(reg) }
}

// Open loads (or initializes) a live index rooted at dir, backed by store.
// WAL parse errors on open abort: the error propagates to the caller rather
// than panicking, since this is a startup-time failure the operator must
// see, not an in-flight commit failure.
func Open(dir string, store segment.Store, opts ...Option) (*LiveIndex, error) {
	w, err := wal.Open(dir + "/wal")
	if err != nil {
		return nil, searcherrors.Wrapf(err, "liveindex: opening wal at %s", dir)
	}

	li := &LiveIndex{
		store:     store,
		wal:       w,
		dir:       dir,
		batchSize: DefaultBatchSize,
		ttl:       DefaultTTL,
		indexer:   DefaultIndexer,
		logger:    log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(li)
	}
	if li.metrics == nil {
		li.metrics = newMetrics(nil)
	}

	m, err := segment.LoadMeta(dir)
	if err != nil {
		return nil, searcherrors.Wrapf(err, "liveindex: loading meta.json at %s", dir)
	}
	reconciled := segment.Reconcile(m, store.SegmentIDs(), time.Now().UTC())
	li.meta.Store(reconciled)
	li.metrics.segments.Set(float64(len(reconciled.Segments)))

	return li, nil
}

// Meta returns the current segment metadata snapshot. Safe to call
// concurrently with any mutator; never blocks.
func (li *LiveIndex) Meta() segment.Meta {
	return li.meta.Load().(segment.Meta)
}

// Search runs coll against the underlying store. Reads never take writeMu:
// they proceed in parallel with each other and are only ever serialized
// behind an in-flight writer at the store's own internal lock, not this
// package's.
func (li *LiveIndex) Search(coll segment.Collector) (interface{}, error) {
	fruit, err := li.store.Search(coll)
	if err != nil {
		return nil, searcherrors.Mark(err, searcherrors.ErrIndexError)
	}
	return fruit, nil
}

// Insert appends pages to the WAL. On return they are durable but not yet
// searchable; the next Commit makes them visible.
func (li *LiveIndex) Insert(pages []page.Indexable) error {
	if len(pages) == 0 {
		return nil
	}
	li.writeMu.Lock()
	defer li.writeMu.Unlock()
	if err := li.wal.Append(pages); err != nil {
		return searcherrors.Wrapf(err, "liveindex: wal append")
	}
	return nil
}

// Commit takes the write lock, drains the WAL, deduplicates by URL
// (last-writer-wins within the batch), chunks the result into batchSize
// groups, indexes and inserts each group, commits the store, clears the
// WAL, reconciles Meta, and re-opens readers.
//
// WAL replay is idempotent: if a crash happens before wal.Clear, the next
// Commit redoes the exact same deduplicated batch, producing the same
// store state.
//
// Store-level I/O failure during commit panics the process: partially
// committed state is unacceptable and must not be silently swallowed.
func (li *LiveIndex) Commit() error {
	li.writeMu.Lock()
	defer li.writeMu.Unlock()

	pages, err := li.wal.Iterate()
	if err != nil {
		return searcherrors.Wrapf(err, "liveindex: wal iterate")
	}
	if len(pages) == 0 {
		return nil
	}

	deduped := dedupeByURL(pages)

	for start := 0; start < len(deduped); start += li.batchSize {
		end := start + li.batchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		docs, err := li.indexer(deduped[start:end])
		if err != nil {
			return searcherrors.Mark(searcherrors.Wrapf(err, "liveindex: indexing batch"), searcherrors.ErrIndexError)
		}
		for _, doc := range docs {
			if err := li.store.Insert(doc); err != nil {
				li.fatalStoreError("insert", err)
			}
		}
	}

	if err := li.store.Commit(); err != nil {
		li.fatalStoreError("commit", err)
	}
	if err := li.wal.Clear(); err != nil {
		return searcherrors.Wrapf(err, "liveindex: wal clear")
	}

	li.reconcileAndReopen()

	li.metrics.commits.Inc()
	li.metrics.commitPages.Observe(float64(len(deduped)))
	level.Info(li.logger).Log("msg", "commit", "pages", len(deduped))
	return nil
}

// fatalStoreError matches the spec's panic-on-commit-IO-failure policy: log
// the wrapped error, then panic so the process restarts rather than
// continuing with partially committed state.
func (li *LiveIndex) fatalStoreError(op string, err error) {
	wrapped := searcherrors.Mark(searcherrors.Wrapf(err, "liveindex: store %s failed", op), searcherrors.ErrIndexError)
	level.Error(li.logger).Log("msg", "fatal store error, panicking", "op", op, "err", wrapped)
	panic(wrapped)
}

func dedupeByURL(pages []page.Indexable) []page.Indexable {
	byURL := make(map[string]page.Indexable, len(pages))
	var order []string
	for _, p := range pages {
		if _, ok := byURL[p.URL]; !ok {
			order = append(order, p.URL)
		}
		byURL[p.URL] = p // last writer wins
	}
	out := make([]page.Indexable, 0, len(order))
	for _, url := range order {
		out = append(out, byURL[url])
	}
	return out
}

func (li *LiveIndex) reconcileAndReopen() {
	reconciled := segment.Reconcile(li.Meta(), li.store.SegmentIDs(), time.Now().UTC())
	if err := segment.SaveMeta(li.dir, reconciled); err != nil {
		level.Error(li.logger).Log("msg", "failed to persist meta.json", "err", err)
	}
	li.meta.Store(reconciled)
	if err := li.store.ReOpen(); err != nil {
		level.Error(li.logger).Log("msg", "failed to reopen store", "err", err)
	}
	li.metrics.segments.Set(float64(len(reconciled.Segments)))
}

// CompactSegmentsByDate merges same-day segment groups into one, two
// phases: Phase 1 (conceptually a read-lock: it only reads Meta and asks
// the store to prepare merges, mutating nothing) groups segments by their
// UTC calendar date and starts a merge for every group of two or more;
// Phase 2 (the mutating half) finishes each merge and folds the results
// into Meta. Aborting between phases is safe — an unfinished Phase 1 merge
// is simply never finished and the store is untouched.
func (li *LiveIndex) CompactSegmentsByDate() error {
	li.writeMu.Lock()
	defer li.writeMu.Unlock()

	groups := groupByDate(li.Meta().Segments)

	type prepared struct {
		op      segment.MergeOperation
		entry   *segment.Entry
		created time.Time // max(created) among the group's inputs
		inputs  []segment.ID
	}
	var toFinish []prepared

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		ids := make([]segment.ID, len(group))
		maxCreated := group[0].Created
		for i, e := range group {
			ids[i] = e.ID
			if e.Created.After(maxCreated) {
				maxCreated = e.Created
			}
		}
		entry, op, err := li.store.StartMergeSegmentsByID(ids)
		if err != nil {
			return searcherrors.Mark(searcherrors.Wrapf(err, "liveindex: start merge"), searcherrors.ErrIndexError)
		}
		toFinish = append(toFinish, prepared{op: op, entry: entry, created: maxCreated, inputs: ids})
	}

	if len(toFinish) == 0 {
		return nil
	}

	meta := li.Meta()
	for _, p := range toFinish {
		newID, err := li.store.EndMergeSegmentsByID(p.op, p.entry)
		if err != nil {
			return searcherrors.Mark(searcherrors.Wrapf(err, "liveindex: end merge"), searcherrors.ErrIndexError)
		}
		meta = removeSegments(meta, p.inputs)
		if newID != nil {
			meta.Segments = append(meta.Segments, segment.Entry{ID: *newID, Created: p.created})
		}
		li.metrics.compactions.Inc()
	}

	if err := segment.SaveMeta(li.dir, meta); err != nil {
		return searcherrors.Wrapf(err, "liveindex: persist meta after compaction")
	}
	li.meta.Store(meta)
	if err := li.store.ReOpen(); err != nil {
		return searcherrors.Wrapf(err, "liveindex: reopen after compaction")
	}
	li.metrics.segments.Set(float64(len(meta.Segments)))
	level.Info(li.logger).Log("msg", "compaction", "groups_merged", len(toFinish))
	return nil
}

func groupByDate(entries []segment.Entry) [][]segment.Entry {
	byDate := make(map[string][]segment.Entry)
	var order []string
	for _, e := range entries {
		key := e.Created.Format("2006-01-02")
		if _, ok := byDate[key]; !ok {
			order = append(order, key)
		}
		byDate[key] = append(byDate[key], e)
	}
	sort.Strings(order)
	out := make([][]segment.Entry, 0, len(order))
	for _, k := range order {
		out = append(out, byDate[k])
	}
	return out
}

func removeSegments(m segment.Meta, ids []segment.ID) segment.Meta {
	remove := make(map[segment.ID]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	out := make([]segment.Entry, 0, len(m.Segments))
	for _, e := range m.Segments {
		if _, gone := remove[e.ID]; !gone {
			out = append(out, e)
		}
	}
	return segment.Meta{Segments: out}
}

// PruneSegments deletes every segment whose Created+TTL has elapsed,
// reconciles Meta, and re-opens readers.
func (li *LiveIndex) PruneSegments() error {
	li.writeMu.Lock()
	defer li.writeMu.Unlock()

	now := time.Now().UTC()
	var expired []segment.ID
	for _, e := range li.Meta().Segments {
		if e.Created.Add(li.ttl).Before(now) {
			expired = append(expired, e.ID)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	if err := li.store.DeleteSegmentsByID(expired); err != nil {
		return searcherrors.Mark(searcherrors.Wrapf(err, "liveindex: delete expired segments"), searcherrors.ErrIndexError)
	}
	li.metrics.pruned.Add(float64(len(expired)))
	li.reconcileAndReopen()
	level.Info(li.logger).Log("msg", "prune", "segments_removed", len(expired))
	return nil
}

// DeleteAllPages removes every segment in the store and resets Meta to
// empty.
func (li *LiveIndex) DeleteAllPages() error {
	li.writeMu.Lock()
	defer li.writeMu.Unlock()

	if err := li.store.DeleteSegmentsByID(li.store.SegmentIDs()); err != nil {
		return searcherrors.Mark(searcherrors.Wrapf(err, "liveindex: delete all segments"), searcherrors.ErrIndexError)
	}
	li.meta.Store(segment.Meta{})
	if err := segment.SaveMeta(li.dir, segment.Meta{}); err != nil {
		return searcherrors.Wrapf(err, "liveindex: persist empty meta")
	}
	if err := li.store.ReOpen(); err != nil {
		return searcherrors.Wrapf(err, "liveindex: reopen after delete-all")
	}
	li.metrics.segments.Set(0)
	return nil
}
