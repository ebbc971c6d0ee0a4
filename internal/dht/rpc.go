package dht

import (
	"fmt"
	"net"

	"github.com/keegancsmith/rpc"
)

// Server exposes a Table over keegancsmith/rpc so remote callers (mappers
// running on another process) can Get/Set/BatchGet/BatchSet without
// holding the bbolt file open themselves. Keys and values cross the wire
// gob-encoded, matching the Table's own on-disk encoding, so the server
// does no re-encoding beyond what bbolt storage already requires.
type Server[K Key, V any] struct {
	table *Table[K, V]
}

// NewServer wraps table for RPC exposure under the given service name (e.g.
// "Dht"); register it with a *rpc.Server via RegisterName.
func NewServer[K Key, V any](table *Table[K, V]) *Server[K, V] {
	return &Server[K, V]{table: table}
}

// GetArgs is the Get RPC's request: a gob-encoded K.
type GetArgs struct {
	Key []byte
}

// GetReply is the Get RPC's response: a gob-encoded V, and whether the key
// was found at all.
type GetReply struct {
	Value []byte
	Found bool
}

func (s *Server[K, V]) Get(args GetArgs, reply *GetReply) error {
	var key K
	if err := decodeGob(args.Key, &key); err != nil {
		return fmt.Errorf("dht rpc: decode key: %w", err)
	}
	value, err := s.table.Get(key)
	if err != nil {
		if err == ErrKeyNotFound {
			reply.Found = false
			return nil
		}
		return err
	}
	valBytes, err := encodeGob(value)
	if err != nil {
		return fmt.Errorf("dht rpc: encode value: %w", err)
	}
	reply.Value = valBytes
	reply.Found = true
	return nil
}

// BatchGetArgs is the BatchGet RPC's request: gob-encoded keys.
type BatchGetArgs struct {
	Keys [][]byte
}

// BatchGetReply pairs each found key's gob bytes with its gob-encoded value.
type BatchGetReply struct {
	Keys   [][]byte
	Values [][]byte
}

func (s *Server[K, V]) BatchGet(args BatchGetArgs, reply *BatchGetReply) error {
	keys := make([]K, len(args.Keys))
	for i, kb := range args.Keys {
		if err := decodeGob(kb, &keys[i]); err != nil {
			return fmt.Errorf("dht rpc: decode key %d: %w", i, err)
		}
	}
	found, err := s.table.BatchGet(keys)
	if err != nil {
		return err
	}
	for k, v := range found {
		kb, err := encodeGob(k)
		if err != nil {
			return fmt.Errorf("dht rpc: encode key: %w", err)
		}
		vb, err := encodeGob(v)
		if err != nil {
			return fmt.Errorf("dht rpc: encode value: %w", err)
		}
		reply.Keys = append(reply.Keys, kb)
		reply.Values = append(reply.Values, vb)
	}
	return nil
}

// SetArgs is the Set RPC's request: a gob-encoded key and value.
type SetArgs struct {
	Key   []byte
	Value []byte
}

// SetReply carries nothing; success is a nil error.
type SetReply struct{}

func (s *Server[K, V]) Set(args SetArgs, reply *SetReply) error {
	var key K
	var value V
	if err := decodeGob(args.Key, &key); err != nil {
		return fmt.Errorf("dht rpc: decode key: %w", err)
	}
	if err := decodeGob(args.Value, &value); err != nil {
		return fmt.Errorf("dht rpc: decode value: %w", err)
	}
	return s.table.Set(key, value)
}

// BatchSetArgs is the BatchSet RPC's request: parallel gob-encoded
// key/value slices.
type BatchSetArgs struct {
	Keys   [][]byte
	Values [][]byte
}

func (s *Server[K, V]) BatchSet(args BatchSetArgs, reply *SetReply) error {
	if len(args.Keys) != len(args.Values) {
		return fmt.Errorf("dht rpc: %d keys but %d values", len(args.Keys), len(args.Values))
	}
	pairs := make(map[K]V, len(args.Keys))
	for i := range args.Keys {
		var key K
		var value V
		if err := decodeGob(args.Keys[i], &key); err != nil {
			return fmt.Errorf("dht rpc: decode key %d: %w", i, err)
		}
		if err := decodeGob(args.Values[i], &value); err != nil {
			return fmt.Errorf("dht rpc: decode value %d: %w", i, err)
		}
		pairs[key] = value
	}
	return s.table.BatchSet(pairs)
}

// Serve registers s under name on a fresh rpc.Server and accepts
// connections from lis until it's closed. Upsert is deliberately not
// RPC-exposed: a read-modify-write must run entirely
// inside the shard owner's process, never as two round trips a remote
// caller composes itself.
func Serve[K Key, V any](lis net.Listener, name string, s *Server[K, V]) error {
	server := rpc.NewServer()
	if err := server.RegisterName(name, s); err != nil {
		return fmt.Errorf("dht rpc: register %s: %w", name, err)
	}
	for {
		conn, err := lis.Accept()
		if err != nil {
			return err
		}
		go server.ServeConn(conn)
	}
}
