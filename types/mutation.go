package types

import (
	"fmt"
	"time"
)

// MutationRecord describes one change to an ACL entry. Records are immutable
// once created: they are appended to the local log, relayed between nodes and
// eventually pruned, but never edited.
type MutationRecord struct {
	Key        EntryKey   `json:"key"`
	Permission Permission `json:"permission"`
	Version    Version    `json:"version"`

	// TimestampHint is the wall time at the origin when the record was
	// created. Diagnostic only, it never participates in conflict ordering.
	TimestampHint time.Time `json:"timestamp_hint"`
}

// RecordID is the dedup identity of a mutation record: same key, same
// version means same record, wherever it arrived from.
type RecordID struct {
	Key     EntryKey
	Version Version
}

func (r MutationRecord) ID() RecordID {
	return RecordID{Key: r.Key, Version: r.Version}
}

// Origin returns the node that created the record.
func (r MutationRecord) Origin() NodeID {
	return r.Version.Origin
}

// Entry returns the store entry this record resolves to when applied.
func (r MutationRecord) Entry() Entry {
	return Entry{
		Subject:    r.Key.Subject,
		Resource:   r.Key.Resource,
		Permission: r.Permission,
		Version:    r.Version,
	}
}

func (r MutationRecord) ValidateBasic() error {
	if err := r.Key.ValidateBasic(); err != nil {
		return err
	}
	if r.Version.Origin == "" {
		return fmt.Errorf("record %v has no origin", r.Key)
	}
	if r.Version.Counter <= 0 {
		return fmt.Errorf("record %v has non-positive counter %d", r.Key, r.Version.Counter)
	}
	return nil
}

func (r MutationRecord) String() string {
	return fmt.Sprintf("Mutation{%s=%s@%s}", r.Key, r.Permission, r.Version)
}
