// Command node runs one cluster member: a backbone searcher shard, a
// live-index shard, an entity searcher, or a DHT shard, selected by
// NODE_KIND. It opens the local state its kind needs, serves the matching
// keegancsmith/rpc service, registers itself with the coordinator, and
// answers an HTTP /health check. The coordinator's directory probes the
// node's RPC address over TCP rather than calling /health.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/keegancsmith/rpc"

	"github.com/dreamware/stract/internal/cluster"
	"github.com/dreamware/stract/internal/collector"
	"github.com/dreamware/stract/internal/dht"
	"github.com/dreamware/stract/internal/liveindex"
	"github.com/dreamware/stract/internal/page"
	"github.com/dreamware/stract/internal/search"
	"github.com/dreamware/stract/internal/segment"
	"github.com/dreamware/stract/internal/shardid"
)

// logFatal is a var, not a direct log.Fatalf call, so tests can override it
// and observe a would-be-fatal condition instead of exiting the process.
var logFatal = log.Fatalf

func main() {
	id := mustGetenv("NODE_ID")
	kind := getenv("NODE_KIND", "searcher")
	rpcAddr := getenv("NODE_RPC_ADDR", "127.0.0.1:9090")
	httpAddr := getenv("NODE_HTTP_ADDR", ":8081")
	dataDir := getenv("NODE_DATA_DIR", "./data/"+id)
	coordinatorAddr := getenv("COORDINATOR_ADDR", "http://localhost:8080")
	shardNum := mustGetenvUint("SHARD_NUM")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logFatal("creating data dir %s: %v", dataDir, err)
	}

	lis, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		logFatal("listening on %s: %v", rpcAddr, err)
	}
	defer lis.Close()

	rpcServer := rpc.NewServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)

	member := cluster.Member{ID: id}
	var closers []func() error

	switch kind {
	case "searcher":
		store := segment.NewMemStore()
		warmup := &collector.Warmup{}
		svc := search.NewService(shardid.NewBackbone(shardNum), store, warmup, search.MemStoreDocumentLookup(store))
		if err := rpcServer.RegisterName("Search", svc); err != nil {
			logFatal("registering Search service: %v", err)
		}
		member.Kind = cluster.KindSearcher
		member.Searcher = &cluster.SearcherInfo{Host: rpcAddr, Shard: shardid.NewBackbone(shardNum)}

	case "entity-searcher":
		store := segment.NewMemStore()
		warmup := &collector.Warmup{}
		svc := search.NewService(shardid.ID{}, store, warmup, search.MemStoreDocumentLookup(store))
		if err := rpcServer.RegisterName("Search", svc); err != nil {
			logFatal("registering Search service: %v", err)
		}
		member.Kind = cluster.KindEntitySearcher
		member.Entity = &cluster.EntitySearcherInfo{Host: rpcAddr}

	case "live-index":
		store := segment.NewMemStore()
		li, err := liveindex.Open(dataDir, store)
		if err != nil {
			logFatal("opening live index at %s: %v", dataDir, err)
		}
		warmup := &collector.Warmup{}
		search.WarmMemStore(store, warmup)
		svc := &search.Service{
			Shard:     shardid.NewLive(shardNum),
			Store:     li,
			Warmup:    warmup,
			Documents: search.MemStoreDocumentLookup(store),
		}
		if err := rpcServer.RegisterName("Search", svc); err != nil {
			logFatal("registering Search service: %v", err)
		}
		mux.HandleFunc("/insert", handleInsert(li))

		commitEvery := 2 * time.Second
		stopCommits := startCommitLoop(li, store, warmup, commitEvery)
		closers = append(closers, func() error { stopCommits(); return nil })

		member.Kind = cluster.KindLiveIndex
		member.LiveIndex = &cluster.LiveIndexInfo{
			Host:       rpcAddr,
			SearchHost: rpcAddr,
			Shard:      shardid.NewLive(shardNum),
			State:      cluster.Ready,
		}

	case "dht":
		table, err := dht.Open[stringKey, []byte](dataDir + "/table.db")
		if err != nil {
			logFatal("opening dht table at %s: %v", dataDir, err)
		}
		closers = append(closers, table.Close)
		if err := rpcServer.RegisterName("Dht", dht.NewServer(table)); err != nil {
			logFatal("registering Dht service: %v", err)
		}
		member.Kind = cluster.KindDht
		member.Dht = &cluster.DhtInfo{Host: rpcAddr, Shard: shardid.NewBackbone(shardNum)}

	default:
		logFatal("unknown NODE_KIND %q", kind)
	}

	go serveRPC(lis, rpcServer)

	httpSrv := &http.Server{Addr: httpAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("http server: %v", err)
		}
	}()

	registerCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := register(registerCtx, coordinatorAddr, member); err != nil {
		logFatal("registering with coordinator: %v", err)
	}
	log.Printf("node %s (%s) registered, rpc=%s http=%s", id, kind, rpcAddr, httpAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("node shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("shutdown cleanup error: %v", err)
		}
	}
}

// stringKey adapts a plain string to dht.Key, which requires a
// BinaryMarshaler the stdlib string type doesn't provide on its own.
type stringKey string

func (k stringKey) MarshalBinary() ([]byte, error) { return []byte(k), nil }

func (k *stringKey) UnmarshalBinary(b []byte) error {
	*k = stringKey(b)
	return nil
}

func serveRPC(lis net.Listener, server *rpc.Server) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		go server.ServeConn(conn)
	}
}

// startCommitLoop periodically flushes the live index's WAL into a new
// segment and re-warms the search service's column data to match, the
// background half of the write path the teacher's node never had to run
// since its shards had no commit/warmup lifecycle at all.
func startCommitLoop(li *liveindex.LiveIndex, store *segment.MemStore, warmup *collector.Warmup, every time.Duration) (stop func()) {
	ticker := time.NewTicker(every)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := li.Commit(); err != nil {
					log.Printf("commit failed: %v", err)
					continue
				}
				search.WarmMemStore(store, warmup)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func handleInsert(li *liveindex.LiveIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var pages []page.Indexable
		if err := json.NewDecoder(r.Body).Decode(&pages); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := li.Insert(pages); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// register POSTs this member to the coordinator, retrying with a fixed
// backoff since the node process and the coordinator process start in
// unspecified order under a container orchestrator.
func register(ctx context.Context, coordinatorAddr string, member cluster.Member) error {
	const maxAttempts = 10
	const backoff = 400 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := cluster.PostJSON(ctx, coordinatorAddr+"/register", cluster.RegisterRequest{Member: member}, nil)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("node: giving up registering after %d attempts: %w", maxAttempts, lastErr)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		logFatal("required environment variable %s is not set", k)
	}
	return v
}

func mustGetenvUint(k string) uint64 {
	v := getenv(k, "0")
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		logFatal("environment variable %s must be a non-negative integer, got %q", k, v)
	}
	return n
}
