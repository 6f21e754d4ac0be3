// Package session owns the lifetime of one document's tamper-evident log:
// the hash chain, the event aggregator, the elapsed-time accounting, and
// both persistence ports.
//
// A Controller is created per open document and driven entirely by the
// host's event delivery: activity notifications, a periodic tick, and
// load/save/close lifecycle hooks. Host callbacks may arrive on any
// goroutine, so every entry point serializes through a single-owner mutex
// before touching the chain or the pending entry.
package session

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"worklog/internal/aggregate"
	"worklog/internal/chain"
	"worklog/internal/codec"
	"worklog/internal/genesis"
	"worklog/internal/store"
)

// State is the controller lifecycle state.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Export statuses.
const (
	StatusValid    = "valid"
	StatusTampered = "tampered"
)

// Defaults for the tick-driven policies.
const (
	DefaultIdleThreshold    = 60 * time.Second
	DefaultAutosaveInterval = 5 * time.Second
)

// StatsFunc supplies a scene-statistics snapshot from the host. The core
// never inspects host-native types; this is the whole coupling surface.
type StatsFunc func() chain.SceneStats

// Period is a working period in ISO-8601 timestamps.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Export is the plaintext export payload handed to the host.
type Export struct {
	Entries       []chain.Entry    `json:"data"`
	Status        string           `json:"status"`
	TotalWorkTime int              `json:"total_working_time"`
	Period        Period           `json:"period"`
	Stats         chain.SceneStats `json:"stats"`
}

// Options configures a Controller.
type Options struct {
	// Security is required; the controller refuses to start without it.
	Security codec.SecurityContext

	// Primary is the host document's slot storage. Required.
	Primary store.SlotStore

	// Recovery is the external crash-recovery store. Optional; without it
	// the engine runs with the primary store only.
	Recovery *store.Recovery

	// Stats supplies scene snapshots. Optional; defaults to zero stats.
	Stats StatsFunc

	// Logger receives structured diagnostics. Optional.
	Logger *slog.Logger

	IdleThreshold    time.Duration
	AutosaveInterval time.Duration

	// Clock overrides the wall clock, for tests.
	Clock func() time.Time
}

// Controller governs one session log. Not copyable after creation.
type Controller struct {
	mu sync.Mutex

	sec         codec.SecurityContext
	genesisHash string
	codec       *codec.Codec
	chain       *chain.Chain
	agg         *aggregate.Aggregator
	primary     store.SlotStore
	recovery    *store.Recovery
	stats       StatsFunc
	log         *slog.Logger
	clock       func() time.Time

	autosaveInterval float64
	lastAutosave     float64

	state    State
	tampered bool
	timer    timerState
}

// New creates a controller for one document. Fails fast on a missing or
// incomplete security context — the engine never proceeds with a degraded
// default secret.
func New(opts Options) (*Controller, error) {
	if err := opts.Security.Validate(); err != nil {
		return nil, err
	}
	if opts.Primary == nil {
		return nil, fmt.Errorf("session: primary store is required")
	}

	genesisHash, err := genesis.Derive(opts.Security.SharedSecret, opts.Security.StudentID)
	if err != nil {
		return nil, err
	}
	cdc, err := codec.New(opts.Security)
	if err != nil {
		return nil, err
	}

	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultAutosaveInterval
	}
	if opts.Stats == nil {
		opts.Stats = func() chain.SceneStats { return chain.SceneStats{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &Controller{
		sec:              opts.Security,
		genesisHash:      genesisHash,
		codec:            cdc,
		chain:            chain.New(genesisHash),
		primary:          opts.Primary,
		recovery:         opts.Recovery,
		stats:            opts.Stats,
		log:              opts.Logger.With("component", "session"),
		clock:            opts.Clock,
		autosaveInterval: opts.AutosaveInterval.Seconds(),
	}
	c.agg = aggregate.New(opts.IdleThreshold.Seconds(), c.commitPending)

	if cdc.Degraded() {
		c.log.Warn("encryption running in degraded XOR mode: no tamper resistance")
	}
	return c, nil
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the cipher mode in use.
func (c *Controller) Mode() codec.Mode {
	return c.codec.Mode()
}

// Degraded reports whether the log is stored without tamper-resistant
// encryption. Hosts must surface this to the user.
func (c *Controller) Degraded() bool {
	return c.codec.Degraded()
}

// IsTampered returns the sticky tamper flag. Once any validation failure is
// observed the flag stays set for the controller's lifetime.
func (c *Controller) IsTampered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tampered
}

// Start begins a session: seeds the genesis marker if the chain is empty,
// resumes the elapsed-time baseline, and records a "Session Started" entry.
// A no-op when already running.
func (c *Controller) Start(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Running {
		return nil
	}
	now := c.nowLocked()

	if _, created, err := c.chain.EnsureGenesisEntry(now); err != nil {
		return fmt.Errorf("seed genesis entry: %w", err)
	} else if created {
		c.writeRecoveryLocked()
	}

	c.startTimerLocked(now)

	details := map[string]any{"started": true, "reason": reason, "timer_running": c.timer.running}
	if _, err := c.appendLocked("Session Started", chain.SessionTarget, chain.SystemKind, details, 0, c.stats()); err != nil {
		return err
	}
	c.state = Running

	if err := c.persistPrimaryLocked(); err != nil {
		return err
	}
	c.log.Info("session started", "reason", reason)
	return nil
}

// Stop ends a session: force-commits any pending aggregated entry, records a
// "Session Stopped" entry, pauses the timer, and synchronously flushes both
// stores. Stop is a durability checkpoint, never debounced. A no-op when
// already stopped.
func (c *Controller) Stop(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Stopped {
		return nil
	}
	c.agg.Flush()

	details := map[string]any{"started": false, "reason": reason, "timer_running": c.timer.running}
	if _, err := c.appendLocked("Session Stopped", chain.SessionTarget, chain.SystemKind, details, 0, c.stats()); err != nil {
		return err
	}
	c.state = Stopped
	c.stopTimerLocked(c.nowLocked())

	if err := c.persistPrimaryLocked(); err != nil {
		return err
	}
	c.writeRecoveryLocked()
	c.saveTimerLocked()
	c.log.Info("session stopped", "reason", reason)
	return nil
}

// NotifyActivity ingests one raw activity observation from the host's
// change-detection glue. Fire-and-forget; ignored while stopped. No blocking
// I/O happens here unless the observation commits a pending entry.
func (c *Controller) NotifyActivity(action, targetName, targetKind string, details map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		return
	}
	c.agg.Notify(c.nowLocked(), action, targetName, targetKind, details, c.stats())
}

// Tick is the host's periodic heartbeat. It sweeps the aggregator for idle
// pending entries and autosaves a dirty chain once the debounce interval has
// elapsed.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		return
	}
	sec := chain.Round3(float64(now.UnixNano()) / 1e9)
	c.agg.Sweep(sec)

	if c.chain.Dirty() && sec-c.lastAutosave >= c.autosaveInterval {
		if err := c.persistPrimaryLocked(); err != nil {
			// Transient: the in-memory chain stays authoritative and the
			// write is retried on the next tick.
			c.log.Warn("autosave failed", "error", err)
		}
		c.saveTimerLocked()
	}
}

// OnSessionSave is the host's save hook: force-commit, record the save as a
// system entry, and synchronously flush both stores regardless of the
// autosave debounce.
func (c *Controller) OnSessionSave(filepath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.agg.Flush()
	if c.chain.Len() > 0 {
		details := map[string]any{"filepath": filepath}
		if _, err := c.appendLocked("File Saved", chain.SystemTarget, chain.SystemKind, details, 0, c.stats()); err != nil {
			return err
		}
	}

	if err := c.persistPrimaryLocked(); err != nil {
		return err
	}
	c.writeRecoveryLocked()
	c.saveTimerLocked()
	return nil
}

// OnDocumentLoad restores the chain from the primary store and consults the
// recovery store: a recovery snapshot holding more entries than the primary
// wins, is re-persisted, and the recovery file is deleted (single-use).
//
// A corrupt primary blob is surfaced as a load failure; the controller keeps
// an empty chain rather than fabricating one that would mask data loss.
func (c *Controller) OnDocumentLoad() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, loadErr := c.readPrimaryLocked()
	if loadErr != nil {
		c.log.Error("primary store load failed", "error", loadErr)
		entries = nil
	}

	recovered := false
	if c.recovery != nil {
		mode, blob, ok, err := c.recovery.Read()
		switch {
		case err != nil:
			c.log.Warn("recovery read failed", "path", c.recovery.Path(), "error", err)
		case ok:
			recEntries, err := c.codec.DecodeWithMode(blob, mode)
			if err != nil {
				c.log.Warn("recovery decode failed", "path", c.recovery.Path(), "error", err)
			} else if len(recEntries) > len(entries) {
				c.log.Info("adopting recovery snapshot",
					"recovered_entries", len(recEntries), "primary_entries", len(entries))
				entries = recEntries
				recovered = true
			}
		}
	}

	c.chain = chain.FromEntries(c.genesisHash, entries)
	c.lastAutosave = c.nowLocked()

	if recovered {
		if err := c.persistPrimaryLocked(); err != nil {
			return fmt.Errorf("persist recovered chain: %w", err)
		}
		if err := c.recovery.Delete(); err != nil {
			c.log.Warn("recovery delete failed", "error", err)
		}
		loadErr = nil
	}

	c.loadTimerLocked()

	if c.chain.Len() > 0 && !c.chain.Validate(c.genesisHash) {
		c.tampered = true
		c.log.Error("chain validation failed on load")
	}

	if loadErr != nil {
		return fmt.Errorf("load session log: %w", loadErr)
	}
	return nil
}

// OnDocumentClose force-commits and synchronously flushes both stores. The
// session flips to stopped without recording a stop entry; an explicit Stop
// is the host's responsibility when it wants one.
func (c *Controller) OnDocumentClose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.agg.Flush()
	c.state = Stopped
	c.stopTimerLocked(c.nowLocked())

	if c.chain.Len() == 0 {
		return nil
	}
	if err := c.persistPrimaryLocked(); err != nil {
		return err
	}
	c.writeRecoveryLocked()
	c.saveTimerLocked()
	return nil
}

// ExportPlaintext force-commits, reloads from the primary store when the
// in-memory chain is empty, persists a dirty chain, validates, and returns
// the export payload.
func (c *Controller) ExportPlaintext() (Export, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.agg.Flush()

	if c.chain.Len() == 0 {
		entries, err := c.readPrimaryLocked()
		if err != nil {
			return Export{}, fmt.Errorf("reload session log: %w", err)
		}
		c.chain = chain.FromEntries(c.genesisHash, entries)
	}

	if c.chain.Dirty() {
		if err := c.persistPrimaryLocked(); err != nil {
			return Export{}, err
		}
	}

	if !c.chain.Validate(c.genesisHash) && c.chain.Len() > 0 {
		c.tampered = true
	}
	status := StatusValid
	if c.tampered {
		status = StatusTampered
	}

	start, end := c.chain.WorkingPeriod()
	return Export{
		Entries:       c.chain.Entries(),
		Status:        status,
		TotalWorkTime: c.chain.TotalWorkTime(),
		Period:        Period{Start: start, End: end},
		Stats:         c.stats(),
	}, nil
}

// ExportCiphertext returns the primary store's blob verbatim, for raw
// download or backup, persisting the in-memory chain first when the slot is
// still empty.
func (c *Controller) ExportCiphertext() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blob, ok, err := c.primary.Get(store.SlotSessionLog)
	if err != nil {
		return "", fmt.Errorf("read session log slot: %w", err)
	}
	if (!ok || blob == "") && c.chain.Len() > 0 {
		if err := c.persistPrimaryLocked(); err != nil {
			return "", err
		}
		blob, _, err = c.primary.Get(store.SlotSessionLog)
		if err != nil {
			return "", fmt.Errorf("read session log slot: %w", err)
		}
	}
	return blob, nil
}

// TotalWorkTime returns whole seconds between the first and last work
// entries.
func (c *Controller) TotalWorkTime() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chain.TotalWorkTime()
}

// WorkingPeriod returns the ISO-8601 bounds of the logged work.
func (c *Controller) WorkingPeriod() Period {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, end := c.chain.WorkingPeriod()
	return Period{Start: start, End: end}
}

// commitPending is the aggregator's commit sink. Runs with the controller
// lock held.
func (c *Controller) commitPending(action, targetName, targetKind string, details map[string]any, duration float64, stats chain.SceneStats) {
	if _, err := c.appendLocked(action, targetName, targetKind, details, duration, stats); err != nil {
		c.log.Error("commit failed", "action", action, "target", targetName, "error", err)
	}
}

// appendLocked commits one entry and triggers the best-effort recovery
// write. A recovery failure is logged and swallowed; the in-memory chain is
// authoritative for the current process.
func (c *Controller) appendLocked(action, targetName, targetKind string, details map[string]any, duration float64, stats chain.SceneStats) (chain.Entry, error) {
	e, err := c.chain.Append(c.nowLocked(), action, targetName, targetKind, details, duration, stats)
	if err != nil {
		return chain.Entry{}, fmt.Errorf("append entry: %w", err)
	}
	c.log.Debug("entry committed", "action", action, "target", targetName, "duration", e.Duration)
	c.writeRecoveryLocked()
	return e, nil
}

func (c *Controller) persistPrimaryLocked() error {
	blob, err := c.codec.Encode(c.chain.Entries())
	if err != nil {
		return fmt.Errorf("encode session log: %w", err)
	}
	if err := c.primary.Put(store.SlotSessionLog, blob); err != nil {
		return fmt.Errorf("write session log slot: %w", err)
	}
	if err := c.primary.Put(store.SlotSignatureMode, string(c.codec.Mode())); err != nil {
		return fmt.Errorf("write signature mode slot: %w", err)
	}
	c.chain.MarkClean()
	c.lastAutosave = c.nowLocked()
	return nil
}

func (c *Controller) writeRecoveryLocked() {
	if c.recovery == nil || c.chain.Len() == 0 {
		return
	}
	blob, err := c.codec.Encode(c.chain.Entries())
	if err != nil {
		c.log.Warn("recovery encode failed", "error", err)
		return
	}
	if err := c.recovery.Write(c.codec.Mode(), blob); err != nil {
		c.log.Warn("recovery write failed", "path", c.recovery.Path(), "error", err)
	}
}

func (c *Controller) readPrimaryLocked() ([]chain.Entry, error) {
	blob, ok, err := c.primary.Get(store.SlotSessionLog)
	if err != nil {
		return nil, fmt.Errorf("read session log slot: %w", err)
	}
	if !ok || blob == "" {
		return nil, nil
	}

	mode := c.codec.Mode()
	if tag, ok, err := c.primary.Get(store.SlotSignatureMode); err == nil && ok && tag != "" {
		mode = codec.Mode(tag)
	}
	return c.codec.DecodeWithMode(blob, mode)
}

func (c *Controller) nowLocked() float64 {
	return chain.Round3(float64(c.clock().UnixNano()) / 1e9)
}
