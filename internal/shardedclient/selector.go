package shardedclient

import (
	"math/rand"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/dreamware/stract/internal/cluster"
	"github.com/dreamware/stract/internal/searcherrors"
	"github.com/dreamware/stract/internal/shardid"
)

// ErrNoReplicas is returned when a ShardSelector matches a shard with no
// routable replica left to try.
var ErrNoReplicas = searcherrors.Mark(errNoReplicas{}, searcherrors.ErrSearchFailed)

type errNoReplicas struct{}

func (errNoReplicas) Error() string { return "shardedclient: no routable replica for shard" }

// ShardSelector picks which shards in the routing table a Send call targets.
// The zero value matches nothing; use AllShards or SpecificShard.
type ShardSelector struct {
	all   bool
	shard shardid.ID
}

// AllShards selects every shard in the routing table.
func AllShards() ShardSelector { return ShardSelector{all: true} }

// SpecificShard selects exactly one shard.
func SpecificShard(id shardid.ID) ShardSelector { return ShardSelector{shard: id} }

func (s ShardSelector) matches(id shardid.ID) bool {
	return s.all || s.shard == id
}

// ReplicaSelector picks one replica to try from a shard's routable replicas.
// Implementations must be safe for concurrent use.
type ReplicaSelector interface {
	Pick(candidates []cluster.Member) (cluster.Member, error)
}

// RandomReplicaSelector picks uniformly at random among a shard's replicas.
// math/rand's package-level functions are safe for concurrent use, so this
// type carries no state.
type RandomReplicaSelector struct{}

func (RandomReplicaSelector) Pick(candidates []cluster.Member) (cluster.Member, error) {
	if len(candidates) == 0 {
		return cluster.Member{}, ErrNoReplicas
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// LatencyTracker records per-replica round-trip latency in an HDR histogram
// keyed by member ID, so a LatencyWeightedReplicaSelector can prefer the
// replica with the lowest observed p50 instead of picking blind.
type LatencyTracker struct {
	mu         sync.Mutex
	histograms map[string]*hdrhistogram.Histogram
}

// NewLatencyTracker returns an empty tracker. Histograms are created lazily,
// one per member ID, tracking 1ms-60s round trips at 3 significant digits.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{histograms: make(map[string]*hdrhistogram.Histogram)}
}

// Observe records one round trip's latency for memberID.
func (t *LatencyTracker) Observe(memberID string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.histograms[memberID]
	if !ok {
		h = hdrhistogram.New(1, 60_000, 3)
		t.histograms[memberID] = h
	}
	_ = h.RecordValue(d.Milliseconds())
}

// p50 returns memberID's median observed latency in milliseconds, and
// whether any observation has been recorded for it yet.
func (t *LatencyTracker) p50(memberID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.histograms[memberID]
	if !ok {
		return 0, false
	}
	return h.ValueAtQuantile(50), true
}

// LatencyWeightedReplicaSelector picks the replica with the lowest tracked
// p50 latency. Tracked replicas are preferred over untracked ones; an
// untracked replica is picked only when no candidate has a tracked latency
// yet, and then it is the first candidate.
type LatencyWeightedReplicaSelector struct {
	Tracker *LatencyTracker
}

// NewLatencyWeightedReplicaSelector returns a selector backed by a fresh
// LatencyTracker.
func NewLatencyWeightedReplicaSelector() *LatencyWeightedReplicaSelector {
	return &LatencyWeightedReplicaSelector{Tracker: NewLatencyTracker()}
}

func (s *LatencyWeightedReplicaSelector) Pick(candidates []cluster.Member) (cluster.Member, error) {
	if len(candidates) == 0 {
		return cluster.Member{}, ErrNoReplicas
	}

	best := candidates[0]
	bestP50, bestKnown := s.Tracker.p50(best.ID)
	for _, c := range candidates[1:] {
		p50, known := s.Tracker.p50(c.ID)
		switch {
		case known && !bestKnown:
			best, bestP50, bestKnown = c, p50, true
		case known && bestKnown && p50 < bestP50:
			best, bestP50 = c, p50
		}
	}
	return best, nil
}
