package types

import "fmt"

// NodeID identifies the node that originated a mutation. It mirrors the
// p2p-layer node ID (hex of the node key address) but is kept as its own type
// so the data model does not depend on the transport package.
type NodeID string

// Version is the logical clock stamped on every ACL entry and mutation
// record: a per-origin Lamport counter plus the origin id. Wall time never
// participates in ordering.
type Version struct {
	Origin  NodeID `json:"origin"`
	Counter int64  `json:"counter"`
}

func ZeroVersion() Version {
	return Version{}
}

// Dominates reports whether v wins over other under the last-writer-wins
// ordering: the higher counter wins, and on equal counters the higher origin
// id wins. The origin comparison is a deterministic tie-break only, it
// carries no priority meaning.
func (v Version) Dominates(other Version) bool {
	if v.Counter != other.Counter {
		return v.Counter > other.Counter
	}
	return v.Origin > other.Origin
}

func (v Version) Equal(other Version) bool {
	return v.Origin == other.Origin && v.Counter == other.Counter
}

func (v Version) IsZero() bool {
	return v.Origin == "" && v.Counter == 0
}

func (v Version) String() string {
	return fmt.Sprintf("(%s,%d)", v.Origin, v.Counter)
}
