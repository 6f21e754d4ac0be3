package session

import (
	"encoding/json"

	"worklog/internal/store"
)

// timerState accumulates working time across start/stop cycles. Only the
// accumulated total and the running flag are persisted; the start baseline is
// process-local and re-established on resume.
type timerState struct {
	elapsed   float64
	startedAt float64
	running   bool
}

// timerSnapshot is the plain JSON layout stored in the active-timer slot.
// Unencrypted by design: it is a UI convenience, not evidence, and the chain
// remains the authoritative time record.
type timerSnapshot struct {
	Elapsed float64 `json:"elapsed"`
	Running bool    `json:"running"`
}

// Elapsed returns the accumulated working time in seconds, including the
// currently running interval.
func (c *Controller) Elapsed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer.total(c.nowLocked())
}

func (t *timerState) total(now float64) float64 {
	if !t.running {
		return t.elapsed
	}
	return t.elapsed + max(0, now-t.startedAt)
}

func (c *Controller) startTimerLocked(now float64) {
	if c.timer.running {
		return
	}
	c.timer.startedAt = now
	c.timer.running = true
}

func (c *Controller) stopTimerLocked(now float64) {
	if !c.timer.running {
		return
	}
	c.timer.elapsed += max(0, now-c.timer.startedAt)
	c.timer.running = false
}

// saveTimerLocked writes the timer snapshot alongside the log. Best-effort:
// a failed write costs a stale timer display, nothing more.
func (c *Controller) saveTimerLocked() {
	snap := timerSnapshot{
		Elapsed: c.timer.total(c.nowLocked()),
		Running: c.timer.running,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.log.Warn("timer snapshot marshal failed", "error", err)
		return
	}
	if err := c.primary.Put(store.SlotActiveTimer, string(data)); err != nil {
		c.log.Warn("timer snapshot write failed", "error", err)
	}
}

// loadTimerLocked restores the accumulated total from the document. A
// snapshot that was left running is loaded as paused; the host decides when
// the clock resumes.
func (c *Controller) loadTimerLocked() {
	raw, ok, err := c.primary.Get(store.SlotActiveTimer)
	if err != nil {
		c.log.Warn("timer snapshot read failed", "error", err)
		return
	}
	if !ok || raw == "" {
		return
	}

	var snap timerSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.log.Warn("timer snapshot parse failed", "error", err)
		return
	}
	c.timer.elapsed = snap.Elapsed
	c.timer.running = false
}
