package chain

import (
	"fmt"
	"math"
	"time"
)

// GenesisAction is the action label of the marker entry that seeds a chain.
const GenesisAction = "Genesis Log"

// Chain is the ordered, append-only sequence of committed entries.
//
// A Chain is exclusively owned by one session controller for the lifetime of
// an open document; it is not safe for concurrent use.
type Chain struct {
	genesis string
	entries []Entry
	dirty   bool
}

// New creates an empty chain anchored to the given genesis hash.
func New(genesisHash string) *Chain {
	return &Chain{genesis: genesisHash}
}

// FromEntries rehydrates a chain from persisted entries. The result is
// considered clean until the next mutation.
func FromEntries(genesisHash string, entries []Entry) *Chain {
	c := &Chain{genesis: genesisHash}
	c.entries = append(c.entries, entries...)
	return c
}

// Len returns the number of committed entries, including the genesis marker.
func (c *Chain) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the committed entries.
func (c *Chain) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Tail returns the most recent entry, if any.
func (c *Chain) Tail() (Entry, bool) {
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	return c.entries[len(c.entries)-1], true
}

// Dirty reports whether the chain has mutations not yet persisted.
func (c *Chain) Dirty() bool {
	return c.dirty
}

// MarkClean records that the current state has been persisted.
func (c *Chain) MarkClean() {
	c.dirty = false
}

// Replace adopts a recovered entry sequence wholesale and marks the chain
// dirty so it is re-persisted to the primary store.
func (c *Chain) Replace(entries []Entry) {
	c.entries = make([]Entry, len(entries))
	copy(c.entries, entries)
	c.dirty = true
}

// EnsureGenesisEntry seeds an empty chain with the genesis marker entry.
// Returns false when the chain already has entries.
func (c *Chain) EnsureGenesisEntry(now float64) (Entry, bool, error) {
	if len(c.entries) > 0 {
		return Entry{}, false, nil
	}
	e, err := c.Append(now, GenesisAction, SystemTarget, SystemKind,
		map[string]any{"description": "Initial genesis log entry"}, 0, SceneStats{})
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Append commits a new entry linked to the current tail, or to the genesis
// hash when the chain is empty, and marks the chain dirty.
//
// Timestamps are clamped so they never decrease within a chain, even if the
// wall clock steps backward.
func (c *Chain) Append(now float64, action, targetName, targetKind string, details map[string]any, duration float64, stats SceneStats) (Entry, error) {
	if details == nil {
		details = map[string]any{}
	}

	var prevHash string
	if tail, ok := c.Tail(); ok {
		h, err := tail.Hash()
		if err != nil {
			return Entry{}, fmt.Errorf("hash tail entry: %w", err)
		}
		prevHash = h
		if now < tail.Timestamp {
			now = tail.Timestamp
		}
	} else {
		prevHash = c.genesis
	}

	e := Entry{
		Timestamp:  Round3(now),
		Action:     action,
		TargetName: targetName,
		TargetKind: targetKind,
		Details:    details,
		Duration:   Round3(math.Max(0, duration)),
		Stats:      stats,
		PrevHash:   prevHash,
	}

	c.entries = append(c.entries, e)
	c.dirty = true
	return e, nil
}

// Validate walks the chain and reports whether every link holds: the first
// entry's back-link must equal the genesis hash, and each subsequent entry's
// back-link must equal the digest of its predecessor.
//
// An empty chain is vacuously valid. This is a pure read; it short-circuits
// on the first mismatch and fails closed on hashing errors.
func (c *Chain) Validate(genesisHash string) bool {
	if len(c.entries) == 0 {
		return true
	}
	if genesisHash == "" {
		return false
	}
	if c.entries[0].PrevHash != genesisHash {
		return false
	}

	expected, err := c.entries[0].Hash()
	if err != nil {
		return false
	}
	for _, e := range c.entries[1:] {
		if e.PrevHash != expected {
			return false
		}
		expected, err = e.Hash()
		if err != nil {
			return false
		}
	}
	return true
}

// TotalWorkTime returns whole seconds elapsed between the second entry and
// the last. The genesis marker does not count as work, so chains with fewer
// than two entries yield 0.
func (c *Chain) TotalWorkTime() int {
	if len(c.entries) < 2 {
		return 0
	}
	start := c.entries[1].Timestamp
	end := c.entries[len(c.entries)-1].Timestamp
	return int(math.Round(math.Max(0, end-start)))
}

// WorkingPeriod returns ISO-8601 timestamps of the second and last entries,
// or empty strings when fewer than two entries exist.
func (c *Chain) WorkingPeriod() (string, string) {
	if len(c.entries) < 2 {
		return "", ""
	}
	return isoTime(c.entries[1].Timestamp), isoTime(c.entries[len(c.entries)-1].Timestamp)
}

func isoTime(sec float64) string {
	ms := int64(math.Round(sec * 1000))
	return time.UnixMilli(ms).Format("2006-01-02T15:04:05.000Z07:00")
}
