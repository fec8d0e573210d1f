package types

import (
	"errors"
	"fmt"
	"strings"
)

// Permission is the value side of an ACL rule. Rule-language semantics are
// out of scope here: the engine only ever stores and compares these as opaque
// strings. "" is reserved for tombstones written by rule removal.
type Permission string

const PermissionNone = Permission("")

// EntryKey uniquely identifies an ACL entry.
type EntryKey struct {
	Subject  string `json:"subject"`
	Resource string `json:"resource"`
}

func NewEntryKey(subject, resource string) EntryKey {
	return EntryKey{Subject: subject, Resource: resource}
}

// StoreKey returns the stable byte form used as the persistent store key and
// in in-memory maps. Subject and resource may not contain the separator.
func (k EntryKey) StoreKey() []byte {
	return []byte(k.Subject + "\x00" + k.Resource)
}

func (k EntryKey) String() string {
	return k.Subject + "/" + k.Resource
}

func (k EntryKey) ValidateBasic() error {
	if k.Subject == "" || k.Resource == "" {
		return errors.New("entry key needs both subject and resource")
	}
	if strings.ContainsRune(k.Subject, '\x00') || strings.ContainsRune(k.Resource, '\x00') {
		return errors.New("entry key may not contain NUL")
	}
	return nil
}

// Entry is one resolved ACL rule as held by the store. Permission and
// Version mutate in place on update, the key never does.
type Entry struct {
	Subject    string     `json:"subject"`
	Resource   string     `json:"resource"`
	Permission Permission `json:"permission"`
	Version    Version    `json:"version"`
}

func (e Entry) Key() EntryKey {
	return EntryKey{Subject: e.Subject, Resource: e.Resource}
}

func (e Entry) String() string {
	return fmt.Sprintf("%s/%s=%s@%s", e.Subject, e.Resource, e.Permission, e.Version)
}
