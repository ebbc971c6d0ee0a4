// Package cluster provides the core distributed system functionality:
// membership tracking, health monitoring, and the control-plane HTTP calls
// nodes and the coordinator use to discover each other. See doc.go for
// complete package documentation.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/stract/internal/shardid"
)

// MemberKind tags which of the four roles a Member fills. A node can only
// ever be one kind at a time; there is no combined role.
type MemberKind int

const (
	KindSearcher MemberKind = iota
	KindLiveIndex
	KindEntitySearcher
	KindDht
)

func (k MemberKind) String() string {
	switch k {
	case KindSearcher:
		return "searcher"
	case KindLiveIndex:
		return "live-index"
	case KindEntitySearcher:
		return "entity-searcher"
	case KindDht:
		return "dht"
	default:
		return "unknown"
	}
}

// LiveIndexState tracks whether a live-index shard has finished replaying
// its WAL and is safe to route queries to.
type LiveIndexState int

const (
	NotReady LiveIndexState = iota
	Ready
)

func (s LiveIndexState) String() string {
	if s == Ready {
		return "ready"
	}
	return "not-ready"
}

// SearcherInfo is a backbone search shard.
type SearcherInfo struct {
	Host  string     `json:"host"`
	Shard shardid.ID `json:"shard"`
}

// LiveIndexInfo is a live-index shard. SearchHost is where read queries go;
// Host is where writes (Insert/Commit) go. They are often the same process
// but are addressed separately so a shard can, in principle, separate its
// write and read paths.
type LiveIndexInfo struct {
	Host       string         `json:"host"`
	SearchHost string         `json:"search_host"`
	Shard      shardid.ID     `json:"shard"`
	State      LiveIndexState `json:"state"`
}

// EntitySearcherInfo serves entity (knowledge-graph) lookups; it is not
// sharded the way webgraph search and live-index are.
type EntitySearcherInfo struct {
	Host string `json:"host"`
}

// DhtInfo is a DHT shard owner.
type DhtInfo struct {
	Host  string     `json:"host"`
	Shard shardid.ID `json:"shard"`
}

// Member is a tagged union over the four roles the directory tracks. Health
// is maintained by whatever Directory implementation produced this value,
// not by the member itself.
type Member struct {
	ID              string              `json:"id"`
	Kind            MemberKind          `json:"kind"`
	Searcher        *SearcherInfo       `json:"searcher,omitempty"`
	LiveIndex       *LiveIndexInfo      `json:"live_index,omitempty"`
	Entity          *EntitySearcherInfo `json:"entity,omitempty"`
	Dht             *DhtInfo            `json:"dht,omitempty"`
	Healthy         bool                `json:"healthy"`
	LastHealthCheck time.Time           `json:"last_health_check,omitempty"`
}

// Addr returns the address queries should be sent to for this member: the
// search-facing host for a live-index shard, the single host for anything
// else.
func (m Member) Addr() string {
	switch m.Kind {
	case KindSearcher:
		if m.Searcher != nil {
			return m.Searcher.Host
		}
	case KindLiveIndex:
		if m.LiveIndex != nil {
			return m.LiveIndex.SearchHost
		}
	case KindEntitySearcher:
		if m.Entity != nil {
			return m.Entity.Host
		}
	case KindDht:
		if m.Dht != nil {
			return m.Dht.Host
		}
	}
	return ""
}

// Shard returns the member's shard id and whether it has one at all (entity
// searchers don't).
func (m Member) Shard() (shardid.ID, bool) {
	switch m.Kind {
	case KindSearcher:
		if m.Searcher != nil {
			return m.Searcher.Shard, true
		}
	case KindLiveIndex:
		if m.LiveIndex != nil {
			return m.LiveIndex.Shard, true
		}
	case KindDht:
		if m.Dht != nil {
			return m.Dht.Shard, true
		}
	}
	return shardid.ID{}, false
}

// Routable reports whether this member should receive traffic: it must be
// healthy, and a live-index shard must additionally have finished WAL
// replay.
func (m Member) Routable() bool {
	if !m.Healthy {
		return false
	}
	if m.Kind == KindLiveIndex {
		return m.LiveIndex != nil && m.LiveIndex.State == Ready
	}
	return true
}

// RegisterRequest is what a member POSTs to the coordinator's registration
// endpoint to join the cluster.
type RegisterRequest struct {
	Member Member `json:"member"`
}

// httpClient is shared across all cluster control-plane calls (it is not
// used for the hot query/DHT path, which runs over keegancsmith/rpc).
var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends a JSON-encoded POST request and decodes the JSON response
// into out, if non-nil.
func PostJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON sends a GET request and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
