package syncer

import (
	"sync/atomic"
	"time"
)

// Mode selects how a run enumerates instruments and where windows start.
type Mode string

const (
	// ModeFullImport lists instruments from the provider and backfills from
	// the configured start date.
	ModeFullImport Mode = "full_import"
	// ModeDailyUpdate walks the persisted instrument set and starts new
	// instruments at yesterday.
	ModeDailyUpdate Mode = "daily_update"
	// ModeInstrumentRefresh only replaces stock_basic.
	ModeInstrumentRefresh Mode = "instrument_refresh"
)

// ParseMode accepts the CLI and HTTP spellings.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "full", "full_import", "init-all":
		return ModeFullImport, true
	case "daily", "daily_update":
		return ModeDailyUpdate, true
	case "instruments", "instrument_refresh":
		return ModeInstrumentRefresh, true
	}
	return "", false
}

// Counts summarises a run.
type Counts struct {
	Total   int64 `json:"total"`
	Synced  int64 `json:"synced"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
	Rows    int64 `json:"rows"`
}

// Snapshot is a point-in-time copy of the run status.
type Snapshot struct {
	IsRunning  bool       `json:"is_running"`
	Progress   string     `json:"progress"`
	Mode       Mode       `json:"mode,omitempty"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	LastError  *string    `json:"last_error"`
	Counts     Counts     `json:"counts"`
}

// runInfo is replaced wholesale so readers never see a half-written value.
type runInfo struct {
	mode       Mode
	startedAt  time.Time
	finishedAt time.Time
	lastError  *string
}

// RunStatus is the process-wide sync state. The orchestrator is its only
// writer; any goroutine may read it without blocking.
type RunStatus struct {
	running  atomic.Bool
	progress atomic.Pointer[string]
	info     atomic.Pointer[runInfo]

	total   atomic.Int64
	synced  atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
	rows    atomic.Int64
}

func NewRunStatus() *RunStatus {
	s := &RunStatus{}
	s.setProgress("idle")
	s.info.Store(&runInfo{})
	return s
}

// TryStart moves Idle to Running. It returns false, changing nothing, when a
// run is already in progress.
func (s *RunStatus) TryStart(mode Mode, now time.Time) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.total.Store(0)
	s.synced.Store(0)
	s.skipped.Store(0)
	s.failed.Store(0)
	s.rows.Store(0)
	s.info.Store(&runInfo{mode: mode, startedAt: now})
	s.setProgress("starting")
	return true
}

// Finish records the outcome and returns to Idle. The returned snapshot is
// the final state of the run, taken before the flag is released.
func (s *RunStatus) Finish(err error, now time.Time) Snapshot {
	prev := s.info.Load()
	next := &runInfo{mode: prev.mode, startedAt: prev.startedAt, finishedAt: now}
	if err != nil {
		msg := err.Error()
		next.lastError = &msg
		s.setProgress("failed")
	}
	s.info.Store(next)

	final := s.Snapshot()
	final.IsRunning = false
	s.running.Store(false)
	return final
}

// IsRunning reports whether a run holds the flag.
func (s *RunStatus) IsRunning() bool {
	return s.running.Load()
}

func (s *RunStatus) SetProgress(p string) {
	s.setProgress(p)
}

func (s *RunStatus) setProgress(p string) {
	s.progress.Store(&p)
}

func (s *RunStatus) setTotal(n int) {
	s.total.Store(int64(n))
}

func (s *RunStatus) record(res stepResult) {
	switch res.outcome {
	case outcomeSynced:
		s.synced.Add(1)
		s.rows.Add(res.rows)
	case outcomeSkipped:
		s.skipped.Add(1)
	case outcomeFailed:
		s.failed.Add(1)
	}
}

// Snapshot copies the current state.
func (s *RunStatus) Snapshot() Snapshot {
	info := s.info.Load()
	snap := Snapshot{
		IsRunning: s.running.Load(),
		Progress:  *s.progress.Load(),
		Mode:      info.mode,
		LastError: info.lastError,
		Counts: Counts{
			Total:   s.total.Load(),
			Synced:  s.synced.Load(),
			Skipped: s.skipped.Load(),
			Failed:  s.failed.Load(),
			Rows:    s.rows.Load(),
		},
	}
	if !info.startedAt.IsZero() {
		t := info.startedAt
		snap.StartedAt = &t
	}
	if !info.finishedAt.IsZero() {
		t := info.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}
