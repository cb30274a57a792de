package event

import "strings"

// Key identifies an event type. Keys form a hierarchy: a key may have any
// number of parent keys, and a listener interested in a parent key also
// receives events of every descendant key.
//
// Keys are compared by identity. Declare them once as package variables.
type Key struct {
	name    string
	parents []*Key
}

// NewKey creates a key with the given name and parents. A key with no
// parents descends from RootKey.
func NewKey(name string, parents ...*Key) *Key {
	k := &Key{name: name}
	for _, p := range parents {
		if p != nil {
			k.parents = append(k.parents, p)
		}
	}
	if len(k.parents) == 0 && RootKey != nil {
		k.parents = []*Key{RootKey}
	}
	return k
}

// RootKey is the ancestor of every key.
var RootKey = &Key{name: "event"}

// Common keys used by adapters.
var (
	MessageKey = NewKey("message")
	NoticeKey  = NewKey("notice")
)

// Name returns the key name.
func (k *Key) Name() string {
	if k == nil {
		return ""
	}
	return k.name
}

// Parents returns the direct parents of the key.
func (k *Key) Parents() []*Key {
	if k == nil {
		return nil
	}
	out := make([]*Key, len(k.parents))
	copy(out, k.parents)
	return out
}

// Is reports whether k is target or descends from it.
func (k *Key) Is(target *Key) bool {
	if k == nil || target == nil {
		return false
	}
	seen := make(map[*Key]struct{})
	queue := []*Key{k}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		queue = append(queue, cur.parents...)
	}
	return false
}

// IsAny reports whether k is or descends from any of targets.
func (k *Key) IsAny(targets ...*Key) bool {
	for _, t := range targets {
		if k.Is(t) {
			return true
		}
	}
	return false
}

// String returns the key name followed by its ancestry, e.g.
// "private_message(message(event))".
func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	if len(k.parents) == 0 {
		return k.name
	}
	parts := make([]string, len(k.parents))
	for i, p := range k.parents {
		parts[i] = p.String()
	}
	return k.name + "(" + strings.Join(parts, ",") + ")"
}
