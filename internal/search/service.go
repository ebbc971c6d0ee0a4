package search

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dreamware/stract/internal/collector"
	"github.com/dreamware/stract/internal/nodeid"
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// DocumentLookup resolves one hit back to the document Retrieve needs to
// build a RetrievedWebpage. segment.Store has no read-back path of its own
// (Search only ever returns collector fruit), so whoever assembles a
// concrete Store for a Service supplies this the same way liveindex.Indexer
// is supplied for indexing.
type DocumentLookup func(seg segment.ID, docID uint64) (segment.Document, bool)

// Searchable is the narrow slice of segment.Store (or liveindex.LiveIndex,
// which exposes the identical method) a Service needs: something to run a
// collector over. Kept separate from segment.Store so a live-index shard's
// LiveIndex wrapper can back a Service without also satisfying Store's
// mutation methods.
type Searchable interface {
	Search(coll segment.Collector) (interface{}, error)
}

// Service exposes one shard's Searchable over keegancsmith/rpc, answering
// the two calls DistributedSearcher's two-phase fan-out sends: Initial ranks
// local documents for a query into opaque pointers, Retrieve hydrates
// pointers this shard previously handed out. It is the query-path
// counterpart dht.Server plays for DHT tables, registered under the same
// rpc.Server the node process runs.
type Service struct {
	Shard     shardid.ID
	Store     Searchable
	Warmup    *collector.Warmup
	Documents DocumentLookup
	HostDedup bool

	// Limit bounds how many candidates this shard keeps past its own
	// DeduplicationBuffer slack before answering Initial. Zero uses
	// collector.DeduplicationBuffer.
	Limit int
}

// NewService wires a Service around store. It does no warming itself: the
// caller populates warmup (e.g. with WarmMemStore) before the first Initial
// call.
func NewService(shard shardid.ID, store segment.Store, warmup *collector.Warmup, lookup DocumentLookup) *Service {
	return &Service{Shard: shard, Store: store, Warmup: warmup, Documents: lookup}
}

func (s *Service) limit() int {
	if s.Limit > 0 {
		return s.Limit
	}
	return collector.DeduplicationBuffer
}

func (s *Service) topDocsCollector(query string) *collector.TopDocsCollector {
	limit := s.limit()
	return &collector.TopDocsCollector{
		Warmup:    s.Warmup,
		Scorer:    NaiveTermScorer(s.Documents, query),
		HostDedup: s.HostDedup,
		Limit:     &limit,
	}
}

// Initial is the keegancsmith/rpc method registered as "Search.Initial": it
// runs a TopDocsCollector over every local segment, merges the per-segment
// hits into this shard's ranked candidates, and returns opaque pointers the
// coordinator can later replay to Retrieve.
func (s *Service) Initial(query string, reply *InitialWebsiteResult) error {
	coll := s.topDocsCollector(query)

	fruits, err := s.Store.Search(coll)
	if err != nil {
		return err
	}
	children, ok := fruits.([]interface{})
	if !ok {
		return fmt.Errorf("search: store returned unexpected fruit type %T", fruits)
	}
	merged, err := coll.MergeChildren(children)
	if err != nil {
		return err
	}
	hits, _ := merged.([]collector.Hit)

	pointers := make([]ScoredWebpagePointer, 0, len(hits))
	for _, h := range hits {
		pointers = append(pointers, ScoredWebpagePointer{
			Pointer: WebpagePointer{
				Shard:   s.Shard,
				Segment: h.Address.Segment.String(),
				DocID:   h.Address.DocID,
			},
			// Hit.Rank is lower-is-better; ScoredWebpagePointer.Score is
			// higher-is-better, so the two phases never need to agree on
			// sort direction beyond this boundary.
			Score: -h.Rank,
		})
	}
	reply.Pointers = pointers
	return nil
}

// Retrieve is the keegancsmith/rpc method registered as "Search.Retrieve":
// it hydrates every pointer in args that this shard produced. A pointer
// whose segment has since been merged or pruned away is silently dropped
// rather than failing the whole call, matching DistributedSearcher.Retrieve's
// partial-result contract on the other end.
func (s *Service) Retrieve(args RetrieveWebsitesArgs, reply *[]RetrievedWebpage) error {
	out := make([]RetrievedWebpage, 0, len(args.Pointers))
	for _, p := range args.Pointers {
		segID, err := uuid.Parse(p.Segment)
		if err != nil {
			continue
		}
		doc, ok := s.Documents(segID, p.DocID)
		if !ok {
			continue
		}
		out = append(out, RetrievedWebpage{
			Pointer: p,
			URL:     doc.URL,
			Title:   doc.Fields["title"],
			Snippet: snippet(doc.Fields["body"], args.Query),
		})
	}
	*reply = out
	return nil
}

func snippet(body, query string) string {
	const maxLen = 240
	body = strings.TrimSpace(body)
	if len(body) <= maxLen {
		return body
	}
	lower := strings.ToLower(body)
	if idx := strings.Index(lower, strings.ToLower(query)); idx > 40 {
		start := idx - 40
		end := start + maxLen
		if end > len(body) {
			end = len(body)
		}
		return body[start:end]
	}
	return body[:maxLen]
}

// NaiveTermScorer ranks documents by (negative) case-insensitive occurrence
// count of query in their title and body fields, so TopDocsCollector's
// lower-is-better ordering puts the most-matching documents first. It is a
// minimal placeholder: no example in the reference corpus implements text
// relevance scoring, so this is the smallest glue that exercises the
// collector framework end to end rather than a scoring algorithm in its own
// right.
func NaiveTermScorer(lookup DocumentLookup, query string) collector.DocumentScorer {
	return naiveTermScorer{lookup: lookup, query: strings.ToLower(strings.TrimSpace(query))}
}

type naiveTermScorer struct {
	lookup DocumentLookup
	query  string
}

func (s naiveTermScorer) Score(seg segment.ID, docID uint64) float64 {
	if s.query == "" {
		return 0
	}
	doc, ok := s.lookup(seg, docID)
	if !ok {
		return 0
	}
	haystack := strings.ToLower(doc.Fields["title"] + " " + doc.Fields["body"])
	return -float64(strings.Count(haystack, s.query))
}

// MemStoreDocumentLookup returns a DocumentLookup backed by a MemStore's
// Docs accessor, the only read-back path the in-memory reference store
// exposes.
func MemStoreDocumentLookup(store *segment.MemStore) DocumentLookup {
	return func(seg segment.ID, docID uint64) (segment.Document, bool) {
		docs := store.Docs(seg)
		if docID >= uint64(len(docs)) {
			return segment.Document{}, false
		}
		return docs[docID], true
	}
}

// WarmMemStore populates w with every live segment's DocIDs and Host column
// in store, the way Store.ReOpen is documented to warm a collector.Warmup in
// a real columnar backend. Host is derived from each document's URL
// hostname since MemStore keeps no separate host column.
func WarmMemStore(store *segment.MemStore, w *collector.Warmup) {
	for _, seg := range store.SegmentIDs() {
		docs := store.Docs(seg)
		fields := &collector.WarmedColumnFields{
			DocIDs: make([]uint64, len(docs)),
			Host:   make(map[uint64]nodeid.ID, len(docs)),
		}
		for i, doc := range docs {
			fields.DocIDs[i] = uint64(i)
			fields.Host[uint64(i)] = nodeid.FromString(hostOf(doc.URL))
		}
		w.Set(seg, fields)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
