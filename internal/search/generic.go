package search

import (
	"context"

	"github.com/dreamware/stract/internal/shardedclient"
	"github.com/dreamware/stract/internal/shardid"
)

// unwrapFruits converts each shard's decode-target pointer into the fruit
// value entry.Merger expects.
func unwrapFruits(entry Entry, perShard map[shardid.ID]interface{}) map[shardid.ID]interface{} {
	out := make(map[shardid.ID]interface{}, len(perShard))
	for shard, decoded := range perShard {
		out[shard] = entry.unwrap(decoded)
	}
	return out
}

// Query is a request dispatched through the Registry rather than through a
// generic Query[Fruit] interface: Kind selects the Entry that knows how to
// decode and merge replies, Method names the RPC the shards expose, and
// Payload is whatever the shard-side collector needs to build its own
// Warmup-backed collector (e.g. a column name to group by).
type Query struct {
	Kind    Kind
	Method  string
	Payload interface{}
}

// SearchGeneric broadcasts q to every shard and reduces the replies through
// q.Kind's registered Merger. This is the one-round-trip path for query
// kinds whose fruit needs no further per-shard hydration.
func SearchGeneric(ctx context.Context, s *DistributedSearcher, reg *Registry, q Query) (interface{}, error) {
	entry, ok := reg.Lookup(q.Kind)
	if !ok {
		return nil, errUnknownKind(q.Kind)
	}

	perShard, err := s.Client.Send(ctx, q.Method, q.Payload, entry.NewFruit, shardedclient.AllShards())
	if err != nil {
		return nil, err
	}
	return entry.Merger.MergeShards(unwrapFruits(entry, perShard))
}

// BatchSearchGeneric ships every query in queries to every shard in a
// single round trip per shard, then merges shard replies position-wise: out[i]
// is queries[i]'s merged fruit, computed independently of every other
// query's result.
func BatchSearchGeneric(ctx context.Context, s *DistributedSearcher, reg *Registry, kind Kind, method string, queries []interface{}) ([]interface{}, error) {
	entry, ok := reg.Lookup(kind)
	if !ok {
		return nil, errUnknownKind(kind)
	}

	perQuery, err := s.Client.BatchSend(ctx, method, queries, entry.NewFruit, shardedclient.AllShards())
	if err != nil {
		return nil, err
	}

	out := make([]interface{}, len(perQuery))
	for i, perShard := range perQuery {
		merged, err := entry.Merger.MergeShards(unwrapFruits(entry, perShard))
		if err != nil {
			return nil, err
		}
		out[i] = merged
	}
	return out, nil
}
