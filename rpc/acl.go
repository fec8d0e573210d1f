package rpc

import (
	"fmt"

	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"aclrelay/types"
)

type ResultSubmit struct {
	Key     types.EntryKey `json:"key"`
	Version types.Version  `json:"version"`
}

type ResultEntry struct {
	Entry *types.Entry `json:"entry"`
}

type ResultEntries struct {
	Entries []types.Entry `json:"entries"`
}

// AddRule writes a new ACL rule and relays it to every peer. Updating an
// existing rule goes through the same path: the new version dominates the
// old one everywhere.
func AddRule(ctx *rpctypes.Context, subject, resource, permission string) (*ResultSubmit, error) {
	if permission == "" {
		return nil, fmt.Errorf("permission may not be empty")
	}
	return submit(subject, resource, types.Permission(permission))
}

// UpdateRule has the same contract as AddRule: the mutation gets a fresh
// version and propagates. Kept as its own route so clients can be explicit.
func UpdateRule(ctx *rpctypes.Context, subject, resource, permission string) (*ResultSubmit, error) {
	return AddRule(ctx, subject, resource, permission)
}

// RemoveRule writes a tombstone for the rule. The key keeps propagating so
// the removal wins over concurrent updates it dominates.
func RemoveRule(ctx *rpctypes.Context, subject, resource string) (*ResultSubmit, error) {
	return submit(subject, resource, types.PermissionNone)
}

func submit(subject, resource string, permission types.Permission) (*ResultSubmit, error) {
	record, err := env.Reactor.SubmitLocal(types.NewEntryKey(subject, resource), permission)
	if err != nil {
		return nil, err
	}
	return &ResultSubmit{Key: record.Key, Version: record.Version}, nil
}

// GetRule returns the rule for subject/resource, with a nil entry when no
// rule exists or the rule was removed.
func GetRule(ctx *rpctypes.Context, subject, resource string) (*ResultEntry, error) {
	key := types.NewEntryKey(subject, resource)
	if err := key.ValidateBasic(); err != nil {
		return nil, err
	}

	entry, err := env.Store.Get(key)
	if err != nil {
		return nil, err
	}
	if entry != nil && entry.Permission == types.PermissionNone {
		entry = nil // tombstone
	}
	return &ResultEntry{Entry: entry}, nil
}

// ListRules returns every live rule in key order. Tombstones are skipped.
func ListRules(ctx *rpctypes.Context) (*ResultEntries, error) {
	all, err := env.Store.List()
	if err != nil {
		return nil, err
	}

	entries := make([]types.Entry, 0, len(all))
	for _, e := range all {
		if e.Permission == types.PermissionNone {
			continue
		}
		entries = append(entries, e)
	}
	return &ResultEntries{Entries: entries}, nil
}
