// Package nodeid implements the 128-bit host/page identifier used by the
// webgraph and AMPC centrality layers.
package nodeid

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// ID is a 128-bit identifier, stored as two halves so it remains a plain
// comparable, orderable value usable as a map key without allocation.
type ID struct {
	Hi uint64
	Lo uint64
}

// FromString derives a 128-bit id from an arbitrary string (typically a
// normalized host or URL) by hashing it twice with different seeds and
// folding each FNV-1a 64-bit hash into one half. This keeps the dependency
// surface to the standard library's hash/fnv, which the teacher repo already
// relies on for its own (32-bit) shard hashing.
func FromString(s string) ID {
	hi := fnv.New64a()
	hi.Write([]byte(s))
	lo := fnv.New64a()
	lo.Write([]byte(s))
	lo.Write([]byte{0xff}) // perturb so Lo != Hi for non-empty s
	return ID{Hi: hi.Sum64(), Lo: lo.Sum64()}
}

// Less imposes a total order, (Hi, Lo) lexicographically.
func (id ID) Less(other ID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

func (id ID) String() string {
	return fmt.Sprintf("%016x%016x", id.Hi, id.Lo)
}

// MarshalBinary implements encoding.BinaryMarshaler, so an ID can serve as a
// dht.Table key: a fixed 16-byte big-endian encoding of (Hi, Lo).
func (id ID) MarshalBinary() ([]byte, error) {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:], id.Lo)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (id *ID) UnmarshalBinary(b []byte) error {
	if len(b) != 16 {
		return fmt.Errorf("nodeid: invalid binary length %d", len(b))
	}
	id.Hi = binary.BigEndian.Uint64(b[:8])
	id.Lo = binary.BigEndian.Uint64(b[8:])
	return nil
}
