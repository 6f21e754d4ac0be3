// Package aggregate coalesces bursts of same-context activity notifications
// into single committed log entries.
//
// A user continuously editing geometry emits tens of near-duplicate
// notifications per second. The aggregator keeps at most one pending entry:
// while the same (action, target, kind) context keeps arriving within the
// idle window, the pending entry is updated in place; a context switch, the
// idle window elapsing, or an explicit flush converts it into one committed
// entry whose duration spans the whole burst.
package aggregate

import (
	"math"

	"worklog/internal/chain"
)

// CommitFunc receives the finalized fields of a pending entry. The sink is
// responsible for appending to the chain.
type CommitFunc func(action, targetName, targetKind string, details map[string]any, duration float64, stats chain.SceneStats)

// Pending is the single in-flight, not-yet-committed entry.
type Pending struct {
	StartTime  float64
	LastUpdate float64
	Action     string
	TargetName string
	TargetKind string
	Details    map[string]any
	Stats      chain.SceneStats
}

// Aggregator buffers activity notifications. Not safe for concurrent use;
// the session controller serializes access.
type Aggregator struct {
	idleThreshold float64
	pending       *Pending
	commit        CommitFunc
}

// New creates an aggregator. idleThreshold is in seconds; commit must be
// non-nil.
func New(idleThreshold float64, commit CommitFunc) *Aggregator {
	return &Aggregator{idleThreshold: idleThreshold, commit: commit}
}

// HasPending reports whether an uncommitted entry is buffered.
func (a *Aggregator) HasPending() bool {
	return a.pending != nil
}

// Pending returns a copy of the buffered entry, if any.
func (a *Aggregator) Pending() (Pending, bool) {
	if a.pending == nil {
		return Pending{}, false
	}
	return *a.pending, true
}

// Notify records an activity observation at the given time.
//
// If the observation matches the pending entry's context and arrives within
// the idle window, the pending entry is merged in place: details and stats
// are overwritten and the last-update time advances. Otherwise any pending
// entry is committed first and a fresh one opened for this observation.
func (a *Aggregator) Notify(now float64, action, targetName, targetKind string, details map[string]any, stats chain.SceneStats) {
	now = chain.Round3(now)
	if details == nil {
		details = map[string]any{}
	}

	if p := a.pending; p != nil {
		sameContext := p.Action == action &&
			p.TargetName == targetName &&
			p.TargetKind == targetKind

		if sameContext && now-p.LastUpdate < a.idleThreshold {
			p.Details = details
			p.Stats = stats
			p.LastUpdate = now
			return
		}
		a.Flush()
	}

	a.pending = &Pending{
		StartTime:  now,
		LastUpdate: now,
		Action:     action,
		TargetName: targetName,
		TargetKind: targetKind,
		Details:    details,
		Stats:      stats,
	}
}

// Sweep force-commits a pending entry whose last update is older than the
// idle threshold. Called from the controller's periodic tick so a stale open
// entry cannot accrue unbounded duration.
func (a *Aggregator) Sweep(now float64) {
	p := a.pending
	if p == nil {
		return
	}
	if chain.Round3(now)-p.LastUpdate > a.idleThreshold {
		a.Flush()
	}
}

// Flush commits any pending entry with duration last-update minus start,
// floored at zero.
func (a *Aggregator) Flush() {
	p := a.pending
	if p == nil {
		return
	}
	a.pending = nil

	duration := chain.Round3(math.Max(0, p.LastUpdate-p.StartTime))
	a.commit(p.Action, p.TargetName, p.TargetKind, p.Details, duration, p.Stats)
}
