// Command coordinator runs the cluster's control plane: it accepts node
// registrations, health-polls every registered member, and exposes a
// convenience HTTP search endpoint that fans a query out to backbone
// searcher shards through the same two-phase scatter/gather a direct RPC
// client would use.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	gokitlog "github.com/go-kit/log"

	"github.com/dreamware/stract/internal/cluster"
	"github.com/dreamware/stract/internal/search"
	"github.com/dreamware/stract/internal/shardedclient"
)

func main() {
	addr := getenv("COORDINATOR_ADDR", ":8080")
	checkInterval := getenvDuration("HEALTH_CHECK_INTERVAL", 5*time.Second)
	maxFailures := int(getenvUint("HEALTH_MAX_FAILURES", 3))

	logger := gokitlog.NewLogfmtLogger(os.Stderr)
	logger = gokitlog.With(logger, "ts", gokitlog.DefaultTimestampUTC, "component", "coordinator")

	directory := cluster.NewPollingDirectory(
		cluster.WithCheckInterval(checkInterval),
		cluster.WithMaxFailures(maxFailures),
		cluster.WithLogger(logger),
		cluster.WithCheckFunc(tcpHealthCheck),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go directory.Run(ctx)

	transport := shardedclient.NewRPCTransport("tcp")
	defer transport.Close()

	searcherClient := shardedclient.New(cluster.KindSearcher, directory, transport)
	go searcherClient.Run(ctx)
	defer searcherClient.Stop()

	searcher := &search.DistributedSearcher{
		Client:         searcherClient,
		InitialMethod:  "Search.Initial",
		RetrieveMethod: "Search.Retrieve",
	}

	srv := &server{directory: directory, searcher: searcher, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/members", srv.handleMembers)
	mux.HandleFunc("/search", srv.handleSearch)
	mux.HandleFunc("/health", srv.handleHealth)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("coordinator shutting down")
	directory.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	log.Println("coordinator stopped")
}

// server holds the coordinator's runtime collaborators. Unlike the flat
// node list and FNV-1a ShardRegistry this replaces, membership and shard
// routing both live in cluster.Directory / shardedclient.Client; the
// coordinator process itself keeps no duplicate bookkeeping of its own.
type server struct {
	directory *cluster.PollingDirectory
	searcher  *search.DistributedSearcher
	logger    gokitlog.Logger
}

// handleRegister accepts a member's self-registration. Unlike the teacher's
// handleRegister, there is no auto-assignment step: a member already knows
// its own shard (SHARD_NUM at node startup) and reports it as part of the
// Member payload, so the coordinator only needs to remember it.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Member.ID == "" {
		http.Error(w, "missing member.id", http.StatusBadRequest)
		return
	}
	if err := s.directory.Register(r.Context(), req.Member); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	level.Info(s.logger).Log("msg", "member registered", "id", req.Member.ID, "kind", req.Member.Kind)
	w.WriteHeader(http.StatusNoContent)
}

// handleMembers lists every known member, healthy or not, for cluster
// visibility and debugging.
func (s *server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		Members []cluster.Member `json:"members"`
	}{Members: s.directory.Members()}); err != nil {
		level.Error(s.logger).Log("msg", "encoding members response failed", "err", err)
	}
}

// handleSearch runs the two-phase scatter/gather against backbone searcher
// shards and returns hydrated results as JSON.
//
// Endpoint: GET /search?q=<query>&limit=<n>
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	results, err := s.searcher.Search(r.Context(), query, limit)
	if err != nil {
		level.Error(s.logger).Log("msg", "search failed", "query", query, "err", err)
		http.Error(w, "search failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		Results []search.RetrievedWebpage `json:"results"`
	}{Results: results}); err != nil {
		level.Error(s.logger).Log("msg", "encoding search response failed", "err", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// tcpHealthCheck replaces PollingDirectory's default HTTP /health probe: a
// Member's address is the host its RPC listener binds, not an HTTP server,
// so liveness here is "can I open a TCP connection", not an HTTP round
// trip.
func tcpHealthCheck(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvUint(k string, def uint64) uint64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
