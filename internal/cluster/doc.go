// Package cluster implements membership tracking for the four kinds of node
// a deployment runs: backbone searchers, live-index shards, entity
// searchers, and DHT shard owners, plus the health monitoring and
// control-plane HTTP calls used to discover and track them.
//
// # Overview
//
// Query fan-out (internal/shardedclient, internal/search) needs to resolve
// "which nodes currently serve this shard, and are they healthy" without
// caring how that answer is produced.
// This package is that answer, behind the Directory interface.
//
// # Architecture
//
//	              в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”җ
//	              в”Ӯ PollingDirectoryв”Ӯ
//	              в”Ӯ                  в”Ӯ
//	              в”Ӯ - members map    в”Ӯ
//	              в”Ӯ - health loop    в”Ӯ
//	              в””в”Җв”Җв”Җв”Җв”Җв”Җв”¬в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ
//	                     в”Ӯ
//	      в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”јв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Ӯ
//	      в”Ӯ              в”Ӯ              в”Ӯ
//	в”Ңв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”җ в”Ңв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”җ в”Ңв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”җ
//	в”Ӯ Searcher  в”Ӯ в”Ӯ LiveIndex в”Ӯ в”Ӯ    Dht    в”Ӯ
//	в”Ӯ shard 0   в”Ӯ в”Ӯ shard 0   в”Ӯ в”Ӯ shard 0   в”Ӯ
//	в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ
//
// # Core Components
//
// Member: a tagged union over the four roles (MemberKind), carrying only
// the payload for its own kind. Routable() answers whether traffic should
// go to it: healthy, and — for live-index shards specifically — past WAL
// replay (State == Ready).
//
// Directory: the interface callers program against. PollingDirectory is
// the one concrete implementation: members self-register, and a background
// loop polls each member's /health endpoint on an interval, marking it
// unhealthy after a run of consecutive failures rather than on the first.
//
// # Communication Protocol
//
// Registration and health checks use HTTP/JSON, generalized from Torua's
// original node-registration model to typed members:
//
// Member Registration (POST /register):
//   - A member announces its Member{} payload to the directory.
//   - Returns nothing; the member already knows its own shard assignment.
//
// Health Checking (GET /health):
//   - Periodic liveness probes from the directory to each member.
//   - Unhealthy after maxFailures consecutive failures (default 3).
//
// The hot query, DHT, and AMPC paths do not use this protocol: they run
// over the typed RPC transport in internal/shardedclient, keyed off the
// addresses this package resolves.
//
// # Concurrency Model
//
// PollingDirectory is safe for concurrent use: Members/Register take a
// read/write lock respectively, and the health-check loop never holds the
// lock during the HTTP round trip itself.
//
// # See Also
//
//   - internal/shardedclient: routes requests using this package's Directory
package cluster
