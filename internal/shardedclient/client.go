// Package shardedclient fans a typed request out to every replica of every
// shard a query needs, the same way the distributed searcher and the AMPC
// coordinator both need to talk to "the current owners of shard S" without
// caring how membership is discovered or how many replicas back it.
//
// The routing table is a cluster.Directory snapshot compiled into an
// immutable.Map[shardid.ID, []cluster.Member] and swapped under atomic.Value
// on a fixed refresh interval, the same single-writer/many-reader pattern
// internal/liveindex uses for its Meta snapshot.
package shardedclient

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/immutable"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/stract/internal/cluster"
	"github.com/dreamware/stract/internal/shardid"
)

// ClientRefreshInterval is the default interval at which a Client recompiles
// its routing table from its Directory.
const ClientRefreshInterval = 60 * time.Second

// shardHasher adapts shardid.ID to immutable.Hasher so it can key a
// benbjohnson/immutable.Map; the library only ships hashers for built-in
// types.
type shardHasher struct{}

func (shardHasher) Hash(id shardid.ID) uint32 {
	h := fnv.New32a()
	var buf [9]byte
	buf[0] = byte(id.Variant)
	binary.BigEndian.PutUint64(buf[1:], id.Num)
	h.Write(buf[:])
	return h.Sum32()
}

func (shardHasher) Equal(a, b shardid.ID) bool { return a == b }

func emptyRoutingTable() *immutable.Map[shardid.ID, []cluster.Member] {
	return immutable.NewMap[shardid.ID, []cluster.Member](shardHasher{})
}

// Client routes typed requests to shard replicas resolved from a
// cluster.Directory, retrying a failed replica on another one and never
// surfacing a single unreachable shard as a fatal error.
type Client struct {
	Kind            cluster.MemberKind
	Directory       cluster.Directory
	Transport       Transport
	Selector        ReplicaSelector
	RefreshInterval time.Duration

	routing atomic.Value // *immutable.Map[shardid.ID, []cluster.Member]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithReplicaSelector overrides the default RandomReplicaSelector.
func WithReplicaSelector(s ReplicaSelector) Option {
	return func(c *Client) { c.Selector = s }
}

// WithRefreshInterval overrides ClientRefreshInterval.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Client) { c.RefreshInterval = d }
}

// New constructs a Client for the given member kind, compiling an initial
// routing table synchronously so the first Send doesn't race Run's first
// tick. Call Run in a goroutine to keep the table refreshed.
func New(kind cluster.MemberKind, dir cluster.Directory, transport Transport, opts ...Option) *Client {
	c := &Client{
		Kind:            kind,
		Directory:       dir,
		Transport:       transport,
		Selector:        RandomReplicaSelector{},
		RefreshInterval: ClientRefreshInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.refresh()
	return c
}

// Run refreshes the routing table every RefreshInterval until ctx is
// canceled or Stop is called. It blocks; run it in its own goroutine.
func (c *Client) Run(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	ctx, c.cancel = context.WithCancel(ctx)

	ticker := time.NewTicker(c.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.refresh()
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels Run's loop and waits for it to exit. A no-op if Run was never
// started.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// refresh recompiles the routing table from the Directory and atomically
// swaps it in; existing Send calls keep using whatever snapshot they already
// loaded.
func (c *Client) refresh() {
	next := emptyRoutingTable()
	for _, m := range c.Directory.Members() {
		if m.Kind != c.Kind || !m.Routable() {
			continue
		}
		shard, ok := m.Shard()
		if !ok {
			continue
		}
		replicas, _ := next.Get(shard)
		next = next.Set(shard, append(append([]cluster.Member{}, replicas...), m))
	}
	c.routing.Store(next)
}

func (c *Client) routingSnapshot() *immutable.Map[shardid.ID, []cluster.Member] {
	v, _ := c.routing.Load().(*immutable.Map[shardid.ID, []cluster.Member])
	if v == nil {
		return emptyRoutingTable()
	}
	return v
}

// Send dispatches args to one replica of every shard sel selects, retrying
// a failing replica on another replica of the same shard. The returned map
// has one entry per shard that answered; a shard with no routable replica
// or where every replica failed is simply absent, never a top-level error.
// newReply must return a fresh pointer to decode each shard's response into.
func (c *Client) Send(ctx context.Context, method string, args interface{}, newReply func() interface{}, sel ShardSelector) (map[shardid.ID]interface{}, error) {
	type target struct {
		shard    shardid.ID
		replicas []cluster.Member
	}

	var targets []target
	it := c.routingSnapshot().Iterator()
	for !it.Done() {
		shard, replicas, _ := it.Next()
		if sel.matches(shard) {
			targets = append(targets, target{shard, replicas})
		}
	}

	results := make(map[shardid.ID]interface{}, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, tgt := range targets {
		tgt := tgt
		g.Go(func() error {
			reply, err := c.sendToShard(gctx, method, args, newReply, tgt.replicas)
			if err != nil {
				return nil
			}
			mu.Lock()
			results[tgt.shard] = reply
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // sendToShard never returns a non-nil error from the goroutine
	return results, nil
}

// sendToShard tries replicas in Selector order until one succeeds or all are
// exhausted, recording latency for a latency-weighted selector along the
// way.
func (c *Client) sendToShard(ctx context.Context, method string, args interface{}, newReply func() interface{}, replicas []cluster.Member) (interface{}, error) {
	remaining := append([]cluster.Member{}, replicas...)
	tried := make(map[string]bool, len(replicas))

	var lastErr error
	for len(remaining) > 0 {
		pick, err := c.Selector.Pick(remaining)
		if err != nil {
			return nil, err
		}

		reply := newReply()
		start := time.Now()
		callErr := c.Transport.Call(ctx, pick.Addr(), method, args, reply)
		if tracker, ok := latencyTrackerOf(c.Selector); ok {
			tracker.Observe(pick.ID, time.Since(start))
		}
		if callErr == nil {
			return reply, nil
		}

		lastErr = callErr
		tried[pick.ID] = true
		filtered := remaining[:0]
		for _, r := range remaining {
			if !tried[r.ID] {
				filtered = append(filtered, r)
			}
		}
		remaining = filtered
	}
	return nil, lastErr
}

func latencyTrackerOf(sel ReplicaSelector) (*LatencyTracker, bool) {
	lw, ok := sel.(*LatencyWeightedReplicaSelector)
	if !ok {
		return nil, false
	}
	return lw.Tracker, true
}

// BatchSend runs Send once per element of argsList concurrently, preserving
// order: out[i] is the result of argsList[i]. It fails fast on the first
// request-level error (a malformed call, not an unreachable shard, which
// Send already absorbs).
func (c *Client) BatchSend(ctx context.Context, method string, argsList []interface{}, newReply func() interface{}, sel ShardSelector) ([]map[shardid.ID]interface{}, error) {
	out := make([]map[shardid.ID]interface{}, len(argsList))

	g, gctx := errgroup.WithContext(ctx)
	for i, args := range argsList {
		i, args := i, args
		g.Go(func() error {
			res, err := c.Send(gctx, method, args, newReply, sel)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
