// Package search implements the two-phase distributed search fan-out:
// an initial broadcast that returns ranked pointers from every shard, and a
// retrieve phase that hydrates the globally-chosen pointers from their
// owning shards. It also exposes a closed dispatch table (Registry) for the
// other collector kinds, which terminate after one fan-out/merge round with
// no pointer-hydration phase of their own.
package search

import (
	"github.com/dreamware/stract/internal/shardid"
)

// WebpagePointer is an opaque per-shard locator: it carries enough for its
// originating shard to hydrate a full result, and nothing a different shard
// could make sense of. A pointer is only ever replayed to the shard that
// produced it.
type WebpagePointer struct {
	Shard   shardid.ID `json:"shard"`
	Segment string     `json:"segment"`
	DocID   uint64     `json:"doc_id"`
}

// ScoredWebpagePointer is a pointer plus the recall score its shard ranked
// it with. Higher is better.
type ScoredWebpagePointer struct {
	Pointer WebpagePointer `json:"pointer"`
	Score   float64        `json:"score"`
}

// InitialWebsiteResult is one shard's answer to the initial broadcast: its
// local top-K pointers, already ranked.
type InitialWebsiteResult struct {
	Pointers []ScoredWebpagePointer `json:"pointers"`
}

// RetrieveWebsitesArgs is the retrieve-phase request sent to one shard: the
// subset of pointers that shard itself produced, plus the original query
// text for snippet generation.
type RetrieveWebsitesArgs struct {
	Pointers []WebpagePointer `json:"pointers"`
	Query    string           `json:"query"`
}

// RetrievedWebpage is one hydrated search result.
type RetrievedWebpage struct {
	Pointer WebpagePointer `json:"pointer"`
	URL     string         `json:"url"`
	Title   string         `json:"title"`
	Snippet string         `json:"snippet"`
}
