// Package dht implements the sharded key-value tables the AMPC coordinator
// and mappers use to hold per-vertex state across rounds. Each shard is
// owned exclusively by one process and backed by its own bbolt database
// file, the same single-writer discipline internal/liveindex uses for
// segment commits, applied here at the shard level instead of the
// segment level.
package dht

import (
	"bytes"
	"encoding"
	"encoding/gob"
	"hash/fnv"

	"github.com/dreamware/stract/internal/shardid"
)

// Key is the constraint a DHT key type must satisfy: comparable so it can
// key a Go map for BatchGet results, and a BinaryMarshaler so stableHash has
// a stable byte representation to hash, matching the teacher's
// coordinator.ShardRegistry.GetShardForKey FNV-1a hashing scheme generalized
// from string keys to any binary-marshalable key.
type Key interface {
	comparable
	encoding.BinaryMarshaler
}

// stableHash hashes k's binary representation with FNV-1a, exactly the
// algorithm coordinator.ShardRegistry.GetShardForKey uses for its consistent
// hashing of string keys.
func stableHash(k encoding.BinaryMarshaler) (uint32, error) {
	b, err := k.MarshalBinary()
	if err != nil {
		return 0, err
	}
	h := fnv.New32a()
	h.Write(b)
	return h.Sum32(), nil
}

// ShardFor returns the shard id that owns k under numShards total DHT
// shards. DHT shards are long-lived for the process lifetime, the same as a
// backbone index shard, so they're numbered with shardid.NewBackbone rather
// than shardid.NewLive.
func ShardFor(k encoding.BinaryMarshaler, numShards int) (shardid.ID, error) {
	h, err := stableHash(k)
	if err != nil {
		return shardid.ID{}, err
	}
	return shardid.NewBackbone(uint64(h) % uint64(numShards)), nil
}

// encodeGob gob-encodes v into a byte slice. DHT keys and values are stored
// gob-encoded in bbolt rather than relying on a BinaryMarshaler round trip,
// since BinaryMarshaler alone doesn't guarantee an UnmarshalBinary counterpart
// and values in general aren't BinaryMarshalers at all.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
