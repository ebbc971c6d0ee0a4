package shardedclient

import (
	"context"
	"sync"

	"github.com/keegancsmith/rpc"
)

// Transport sends one typed RPC to addr and decodes the reply into reply.
// It exists as an interface, rather than a concrete keegancsmith/rpc client,
// so Client can be exercised against a fake in tests without opening a
// socket.
type Transport interface {
	Call(ctx context.Context, addr, serviceMethod string, args, reply interface{}) error
}

// RPCTransport is the production Transport, built on keegancsmith/rpc's
// context-aware Client.Call. Connections are dialed lazily and cached by
// address; a call that fails evicts its cached connection so the next call
// to that address redials instead of retrying a dead socket.
type RPCTransport struct {
	network string

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewRPCTransport returns a transport that dials addresses over network
// (almost always "tcp").
func NewRPCTransport(network string) *RPCTransport {
	return &RPCTransport{network: network, clients: make(map[string]*rpc.Client)}
}

func (t *RPCTransport) Call(ctx context.Context, addr, serviceMethod string, args, reply interface{}) error {
	client, err := t.dial(addr)
	if err != nil {
		return err
	}

	if err := client.Call(ctx, serviceMethod, args, reply); err != nil {
		t.evict(addr, client)
		return err
	}
	return nil
}

func (t *RPCTransport) dial(addr string) (*rpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if client, ok := t.clients[addr]; ok {
		return client, nil
	}

	client, err := rpc.Dial(t.network, addr)
	if err != nil {
		return nil, err
	}
	t.clients[addr] = client
	return client, nil
}

// evict drops a cached client if it is still the one that just failed;
// another goroutine may have already redialed and replaced it.
func (t *RPCTransport) evict(addr string, failed *rpc.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.clients[addr] == failed {
		delete(t.clients, addr)
		_ = failed.Close()
	}
}

// Close closes every cached connection.
func (t *RPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for addr, client := range t.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.clients, addr)
	}
	return firstErr
}
