package search

import (
	"context"
	"sort"

	"github.com/dreamware/stract/internal/shardedclient"
	"github.com/dreamware/stract/internal/shardid"
)

// DistributedSearcher drives the two-phase scatter/gather search described
// in package doc: SearchInitial broadcasts a query to every shard and
// merges ranked pointers; Retrieve fans the globally-chosen pointers back
// out, one request per owning shard, and hydrates them.
type DistributedSearcher struct {
	Client *shardedclient.Client

	// InitialMethod and RetrieveMethod name the RPC methods shards expose
	// for each phase, e.g. "Search.Initial" and "Search.Retrieve".
	InitialMethod  string
	RetrieveMethod string
}

// SearchInitial broadcasts query to every shard, merges the returned
// pointers by score descending (ties broken by shard then doc id for
// determinism), and keeps at most limit. limit <= 0 means unbounded.
func (s *DistributedSearcher) SearchInitial(ctx context.Context, query string, limit int) ([]ScoredWebpagePointer, error) {
	perShard, err := s.Client.Send(ctx, s.InitialMethod, query, func() interface{} { return &InitialWebsiteResult{} }, shardedclient.AllShards())
	if err != nil {
		return nil, err
	}

	var merged []ScoredWebpagePointer
	for _, fruit := range perShard {
		result, ok := fruit.(*InitialWebsiteResult)
		if !ok || result == nil {
			continue
		}
		merged = append(merged, result.Pointers...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Pointer.Shard != merged[j].Pointer.Shard {
			return merged[i].Pointer.Shard.Less(merged[j].Pointer.Shard)
		}
		return merged[i].Pointer.DocID < merged[j].Pointer.DocID
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Retrieve groups pointers by their originating shard, issues one
// RetrieveWebsitesArgs request per shard, and stitches the results back
// together preserving the input order of pointers. A pointer whose shard
// never answered (whole-shard failure) is simply absent from the output,
// never a top-level error — matching the sharded client's partial-result
// contract.
func (s *DistributedSearcher) Retrieve(ctx context.Context, query string, pointers []ScoredWebpagePointer) ([]RetrievedWebpage, error) {
	byShard := make(map[WebpagePointer]int, len(pointers))
	pointersByShard := make(map[shardid.ID][]WebpagePointer)
	for i, p := range pointers {
		byShard[p.Pointer] = i
		pointersByShard[p.Pointer.Shard] = append(pointersByShard[p.Pointer.Shard], p.Pointer)
	}

	out := make([]RetrievedWebpage, 0, len(pointers))
	present := make([]bool, len(pointers))
	slots := make([]RetrievedWebpage, len(pointers))

	for shard, ptrs := range pointersByShard {
		args := RetrieveWebsitesArgs{Pointers: ptrs, Query: query}
		perShard, err := s.Client.Send(ctx, s.RetrieveMethod, args, func() interface{} { return &[]RetrievedWebpage{} }, shardedclient.SpecificShard(shard))
		if err != nil {
			return nil, err
		}
		reply, ok := perShard[shard]
		if !ok {
			continue // whole-shard failure: its pointers are silently dropped
		}
		pages, ok := reply.(*[]RetrievedWebpage)
		if !ok || pages == nil {
			continue
		}
		for _, page := range *pages {
			if idx, ok := byShard[page.Pointer]; ok {
				slots[idx] = page
				present[idx] = true
			}
		}
	}

	for i, ok := range present {
		if ok {
			out = append(out, slots[i])
		}
	}
	return out, nil
}

// Search runs both phases: SearchInitial to pick the top limit pointers
// globally, then Retrieve to hydrate them.
func (s *DistributedSearcher) Search(ctx context.Context, query string, limit int) ([]RetrievedWebpage, error) {
	pointers, err := s.SearchInitial(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return s.Retrieve(ctx, query, pointers)
}
