package engine

import (
	"bytes"
	"encoding/json"

	"github.com/feedrelay/feedrelay/pkg/wire"
)

// Comparer reports whether two records carry the same substance. The
// reconciler suppresses the update event for a repeat sighting when its
// comparer says nothing changed; force_updates bypasses it entirely.
type Comparer interface {
	Equal(prev, next map[string]any) bool
}

// UnchangedComparer treats every pair as equal. Feeds with static
// attributes produce records whose substance cannot change between
// cycles, so a repeat sighting is never worth re-announcing.
type UnchangedComparer struct{}

func (UnchangedComparer) Equal(prev, next map[string]any) bool { return true }

// AttributeComparer compares every attribute except the bookkeeping
// ones the reconciler rewrites each cycle. Values are compared through
// their JSON encoding, which also evens out int versus float64 for
// records that round-tripped through the store.
type AttributeComparer struct{}

func (AttributeComparer) Equal(prev, next map[string]any) bool {
	pb, err := json.Marshal(stripBookkeeping(prev))
	if err != nil {
		return false
	}
	nb, err := json.Marshal(stripBookkeeping(next))
	if err != nil {
		return false
	}
	return bytes.Equal(pb, nb)
}

func stripBookkeeping(value map[string]any) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		switch k {
		case wire.AttrSources, wire.AttrUpdated, wire.AttrFirstSeen, wire.AttrLastSeen:
			continue
		}
		out[k] = v
	}
	return out
}
