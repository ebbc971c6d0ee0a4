// Package shardid defines the routing partition key used across the search
// fan-out, live-index, and AMPC layers.
package shardid

import (
	"encoding/binary"
	"fmt"
)

// Variant distinguishes a backbone (crawl-derived, long-lived) shard from a
// live (freshly indexed, short-lived) shard. The two variants never compare
// equal regardless of their numeric value, and Backbone always sorts before
// Live.
type Variant uint8

const (
	Backbone Variant = iota
	Live
)

func (v Variant) String() string {
	if v == Live {
		return "live"
	}
	return "backbone"
}

// ID is a tagged shard identifier. The zero value is Backbone(0).
type ID struct {
	Variant Variant
	Num     uint64
}

// NewBackbone constructs a Backbone-variant shard id.
func NewBackbone(n uint64) ID { return ID{Variant: Backbone, Num: n} }

// NewLive constructs a Live-variant shard id.
func NewLive(n uint64) ID { return ID{Variant: Live, Num: n} }

// IsLive reports whether this id is the Live variant.
func (id ID) IsLive() bool { return id.Variant == Live }

// Less gives a total order: Backbone sorts before Live; within a variant,
// ordering follows Num.
func (id ID) Less(other ID) bool {
	if id.Variant != other.Variant {
		return id.Variant < other.Variant
	}
	return id.Num < other.Num
}

func (id ID) String() string {
	return fmt.Sprintf("%s(%d)", id.Variant, id.Num)
}

// MarshalText implements encoding.TextMarshaler so an ID can be used as a
// JSON object key and in other text-based encodings.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	var num uint64
	if _, err := fmt.Sscanf(string(b), "backbone(%d)", &num); err == nil {
		*id = NewBackbone(num)
		return nil
	}
	if _, err := fmt.Sscanf(string(b), "live(%d)", &num); err == nil {
		*id = NewLive(num)
		return nil
	}
	return fmt.Errorf("shardid: invalid id %q", b)
}

// MarshalBinary implements encoding.BinaryMarshaler: one tag byte (Variant)
// followed by Num big-endian, so an ID can serve as a dht.Table key.
func (id ID) MarshalBinary() ([]byte, error) {
	b := make([]byte, 9)
	b[0] = byte(id.Variant)
	binary.BigEndian.PutUint64(b[1:], id.Num)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (id *ID) UnmarshalBinary(b []byte) error {
	if len(b) != 9 {
		return fmt.Errorf("shardid: invalid binary length %d", len(b))
	}
	id.Variant = Variant(b[0])
	id.Num = binary.BigEndian.Uint64(b[1:])
	return nil
}
