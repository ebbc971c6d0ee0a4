package cluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Directory is the pluggable membership source the sharded client and
// distributed searcher resolve shard ids against. Membership is
// gossip-derived in some deployments; this module only ships the
// registration+polling style below.
type Directory interface {
	// Register adds or updates m in the directory. Called by a member on
	// startup and on every state transition (e.g. NotReady -> Ready).
	Register(ctx context.Context, m Member) error

	// Members returns every currently known member, healthy or not. A
	// Member is always filtered through Routable() by the caller, never
	// pre-filtered here, so callers that need unhealthy members (e.g. an
	// admin endpoint) still see them.
	Members() []Member
}

// memberHealth tracks one member's consecutive-failure count, the same
// shape a flat node list would use, generalized to a typed Member.
type memberHealth struct {
	member           Member
	consecutiveFails int
}

// PollingDirectory is a Directory that health-checks every registered
// member's /health endpoint on a fixed interval, exactly as a flat
// node-list health monitor would, generalized to typed members: it tracks
// consecutive failures per member and flips Healthy only after
// maxFailures in a row, so one dropped health check doesn't make a member
// unroutable.
type PollingDirectory struct {
	mu          sync.RWMutex
	members     map[string]*memberHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	interval    time.Duration
	maxFailures int
	logger      log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DirectoryOption configures NewPollingDirectory.
type DirectoryOption func(*PollingDirectory)

func WithCheckInterval(d time.Duration) DirectoryOption {
	return func(pd *PollingDirectory) { pd.interval = d }
}
func WithMaxFailures(n int) DirectoryOption {
	return func(pd *PollingDirectory) { pd.maxFailures = n }
}
func WithLogger(l log.Logger) DirectoryOption {
	return func(pd *PollingDirectory) { pd.logger = l }
}
func WithCheckFunc(fn func(addr string) error) DirectoryOption {
	return func(pd *PollingDirectory) { pd.checkFunc = fn }
}

// NewPollingDirectory constructs a directory that checks each member every
// 5 seconds and marks a member unhealthy after 3 consecutive failures,
// matching the defaults of the health monitor this is generalized from.
func NewPollingDirectory(opts ...DirectoryOption) *PollingDirectory {
	pd := &PollingDirectory{
		members:     make(map[string]*memberHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		interval:    5 * time.Second,
		maxFailures: 3,
		logger:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(pd)
	}
	if pd.checkFunc == nil {
		pd.checkFunc = pd.defaultHealthCheck
	}
	return pd
}

func (pd *PollingDirectory) Register(ctx context.Context, m Member) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if existing, ok := pd.members[m.ID]; ok {
		existing.member = m
		return nil
	}
	pd.members[m.ID] = &memberHealth{member: m}
	level.Info(pd.logger).Log("msg", "member registered", "id", m.ID, "kind", m.Kind, "addr", m.Addr())
	return nil
}

func (pd *PollingDirectory) Members() []Member {
	pd.mu.RLock()
	defer pd.mu.RUnlock()

	out := make([]Member, 0, len(pd.members))
	for _, h := range pd.members {
		out = append(out, h.member)
	}
	return out
}

// Run starts the polling loop; it blocks until ctx is canceled.
func (pd *PollingDirectory) Run(ctx context.Context) {
	pd.wg.Add(1)
	defer pd.wg.Done()

	ctx, pd.cancel = context.WithCancel(ctx)

	ticker := time.NewTicker(pd.interval)
	defer ticker.Stop()

	pd.checkAll()
	for {
		select {
		case <-ticker.C:
			pd.checkAll()
		case <-ctx.Done():
			level.Info(pd.logger).Log("msg", "directory polling stopped")
			return
		}
	}
}

// Stop cancels the polling loop and waits for it to exit.
func (pd *PollingDirectory) Stop() {
	if pd.cancel != nil {
		pd.cancel()
	}
	pd.wg.Wait()
}

func (pd *PollingDirectory) checkAll() {
	pd.mu.RLock()
	members := make([]*memberHealth, 0, len(pd.members))
	for _, h := range pd.members {
		members = append(members, h)
	}
	pd.mu.RUnlock()

	for _, h := range members {
		pd.checkOne(h)
	}
}

func (pd *PollingDirectory) checkOne(h *memberHealth) {
	err := pd.checkFunc(h.member.Addr())

	pd.mu.Lock()
	defer pd.mu.Unlock()

	h.member.LastHealthCheck = time.Now()
	if err != nil {
		h.consecutiveFails++
		if h.consecutiveFails >= pd.maxFailures && h.member.Healthy {
			h.member.Healthy = false
			level.Warn(pd.logger).Log("msg", "member marked unhealthy", "id", h.member.ID, "err", err, "fails", h.consecutiveFails)
		}
		return
	}
	if !h.member.Healthy {
		level.Info(pd.logger).Log("msg", "member recovered", "id", h.member.ID)
	}
	h.member.Healthy = true
	h.consecutiveFails = 0
}

func (pd *PollingDirectory) defaultHealthCheck(addr string) error {
	if addr == "" {
		return fmt.Errorf("cluster: member has no address")
	}
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := pd.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
