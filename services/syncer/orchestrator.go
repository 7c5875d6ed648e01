// Package syncer runs incremental market-data syncs: one instrument at a
// time, with failures isolated per instrument and at most one run in flight.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ashare_backend/metrics"
	"ashare_backend/models"
	"ashare_backend/services/codes"
	"ashare_backend/services/upstream"
)

// ErrAlreadyRunning is returned by Run when another run holds the flag.
var ErrAlreadyRunning = errors.New("sync already running")

// ErrWorkerStopped is recorded for a queued run dropped by Stop.
var ErrWorkerStopped = errors.New("sync worker stopped")

const (
	defaultScoreEvery  = 100
	defaultCallTimeout = 30 * time.Second
	tradingDayLookback = 14
	recordTimeout      = 10 * time.Second
)

// Session is the slice of upstream.Session the orchestrator uses.
type Session interface {
	ListInstruments(day time.Time) *upstream.Cursor[upstream.ListedInstrument]
	ListTradingDays(start, end time.Time) *upstream.Cursor[time.Time]
	ListStockBasics() *upstream.Cursor[upstream.StockBasicRow]
	FetchBars(code string, start, end time.Time, g upstream.Granularity) *upstream.Cursor[upstream.BarRow]
	Close() error
}

// Opener logs in and returns a session the caller must Close.
type Opener func(ctx context.Context) (Session, error)

// ClientOpener adapts an upstream client.
func ClientOpener(c *upstream.Client) Opener {
	return func(ctx context.Context) (Session, error) {
		s, err := c.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Store is the persistence the orchestrator needs.
type Store interface {
	InstrumentCodes(ctx context.Context) ([]string, error)
	LastTradeDate(ctx context.Context, code, period string) (time.Time, bool, error)
	ApplyBars(ctx context.Context, bars []models.StockDailyHistory) (int64, error)
	ReplaceInstruments(ctx context.Context, rows []models.StockBasic) error
}

// Triggers notifies downstream analytics. Failures are logged and ignored.
type Triggers interface {
	RecomputeFactors(ctx context.Context, code string) error
	RecomputeAllScores(ctx context.Context) error
}

// Recorder archives finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, snap Snapshot) error
}

// Options tune a run. Zero values fall back to defaults.
type Options struct {
	Granularity     upstream.Granularity
	FullImportStart time.Time
	ScoreEvery      int
	CallTimeout     time.Duration
	Location        *time.Location
	Now             func() time.Time
	Recorder        Recorder
}

// RunRequest describes one run. Zero dates use the mode defaults.
type RunRequest struct {
	Mode               Mode
	StartDate          time.Time // floor for instruments with no stored bars
	EndDate            time.Time // horizon, defaults to today
	RefreshInstruments bool      // replace stock_basic before a full import
}

// Orchestrator owns the run status and the worker that executes runs.
type Orchestrator struct {
	open     Opener
	store    Store
	triggers Triggers
	opts     Options
	logger   zerolog.Logger

	status   *RunStatus
	requests chan RunRequest

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an orchestrator. Call Start before StartRun.
func New(open Opener, store Store, triggers Triggers, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Granularity == "" {
		opts.Granularity = upstream.Daily
	}
	if opts.ScoreEvery <= 0 {
		opts.ScoreEvery = defaultScoreEvery
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		open:     open,
		store:    store,
		triggers: triggers,
		opts:     opts,
		logger:   logger.With().Str("component", "syncer").Logger(),
		status:   NewRunStatus(),
		requests: make(chan RunRequest, 1),
	}
}

// Start launches the worker goroutine.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.started = true

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.workLoop(ctx)
	}()
	o.logger.Info().Msg("Sync worker started")
}

// Stop cancels any run in progress and waits for the worker to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.cancel()
	o.started = false
	o.mu.Unlock()

	o.wg.Wait()
	o.dropQueued()
	o.logger.Info().Msg("Sync worker stopped")
}

// dropQueued releases the run flag for a request the worker never picked up.
func (o *Orchestrator) dropQueued() {
	for {
		select {
		case req := <-o.requests:
			o.status.Finish(ErrWorkerStopped, o.opts.Now())
			o.logger.Warn().Str("mode", string(req.Mode)).Msg("Queued sync run dropped on shutdown")
		default:
			return
		}
	}
}

func (o *Orchestrator) workLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-o.requests:
			_ = o.execute(ctx, req)
		}
	}
}

// StartRun hands req to the worker. It returns false without side effects
// when a run is already in progress or the worker is not running.
func (o *Orchestrator) StartRun(req RunRequest) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return false
	}
	if !o.status.TryStart(req.Mode, o.opts.Now()) {
		return false
	}
	select {
	case o.requests <- req:
		return true
	default:
		o.status.Finish(errors.New("sync worker queue full"), o.opts.Now())
		return false
	}
}

// Run executes req on the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) error {
	if !o.status.TryStart(req.Mode, o.opts.Now()) {
		return ErrAlreadyRunning
	}
	return o.execute(ctx, req)
}

// Status returns the current run snapshot.
func (o *Orchestrator) Status() Snapshot {
	return o.status.Snapshot()
}

// execute runs one request. The caller must already hold the run flag; it is
// always released here.
func (o *Orchestrator) execute(ctx context.Context, req RunRequest) (err error) {
	started := o.opts.Now()
	log := o.logger.With().Str("mode", string(req.Mode)).Logger()
	metrics.RunStarted()

	var sess Session
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in sync run")
			err = fmt.Errorf("sync run panicked: %v", r)
		}
		if sess != nil {
			if cerr := sess.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("Failed to close upstream session")
			}
		}
		final := o.status.Finish(err, o.opts.Now())

		result := metrics.ResultCompleted
		if err != nil {
			result = metrics.ResultFailed
			log.Error().Err(err).Msg("Sync run failed")
		}
		metrics.RunFinished(string(req.Mode), result, o.opts.Now().Sub(started).Seconds())
		o.record(log, final)
	}()

	log.Info().Msg("Sync run started")

	sess, err = o.open(ctx)
	if err != nil {
		sess = nil
		return fmt.Errorf("open upstream session: %w", err)
	}

	if req.Mode == ModeInstrumentRefresh {
		o.status.SetProgress("refreshing instruments")
		n, err := o.RefreshInstruments(ctx, sess)
		if err != nil {
			return fmt.Errorf("refresh instruments: %w", err)
		}
		o.status.setTotal(n)
		o.status.SetProgress("completed")
		return nil
	}

	today := marketDay(o.opts.Now(), o.opts.Location)
	horizon := today
	if !req.EndDate.IsZero() {
		horizon = req.EndDate
	}
	floor := o.floor(req, today)

	targets, err := o.targets(ctx, sess, req, today)
	if err != nil {
		return fmt.Errorf("enumerate instruments: %w", err)
	}
	o.status.setTotal(len(targets))
	log.Info().
		Int("instruments", len(targets)).
		Time("floor", floor).
		Time("horizon", horizon).
		Msg("Instruments enumerated")

	for i, code := range targets {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync interrupted: %w", err)
		}
		o.status.SetProgress(fmt.Sprintf("syncing %s (%d/%d)", code, i+1, len(targets)))

		res := o.syncInstrument(ctx, sess, code, floor, horizon)
		o.status.record(res)
		metrics.InstrumentInc(string(req.Mode), string(res.outcome))

		switch res.outcome {
		case outcomeFailed:
			log.Error().Err(res.err).Str("code", code).Msg("Instrument sync failed")
		case outcomeSkipped:
			if res.err != nil {
				log.Warn().Err(res.err).Str("code", code).Msg("Instrument skipped")
			}
		case outcomeSynced:
			metrics.RowsAdd(o.opts.Granularity.Period(), res.rows)
			if res.rows > 0 {
				o.fireFactors(ctx, log, code)
			}
		}

		if (i+1)%o.opts.ScoreEvery == 0 {
			o.fireScores(ctx, log)
		}
	}

	o.status.SetProgress("completed")
	snap := o.status.Snapshot()
	log.Info().
		Int64("synced", snap.Counts.Synced).
		Int64("skipped", snap.Counts.Skipped).
		Int64("failed", snap.Counts.Failed).
		Int64("rows", snap.Counts.Rows).
		Dur("elapsed", o.opts.Now().Sub(started)).
		Msg("Sync run completed")
	return nil
}

func (o *Orchestrator) floor(req RunRequest, today time.Time) time.Time {
	if !req.StartDate.IsZero() {
		return req.StartDate
	}
	if req.Mode == ModeFullImport {
		return o.opts.FullImportStart
	}
	return today.AddDate(0, 0, -1)
}

// targets returns the storage codes to walk, sorted.
func (o *Orchestrator) targets(ctx context.Context, sess Session, req RunRequest, today time.Time) ([]string, error) {
	if req.Mode != ModeFullImport {
		return o.store.InstrumentCodes(ctx)
	}

	if req.RefreshInstruments {
		o.status.SetProgress("refreshing instruments")
		if _, err := o.RefreshInstruments(ctx, sess); err != nil {
			return nil, err
		}
	}

	listed, err := upstream.Collect(ctx, sess.ListInstruments(today))
	if err != nil {
		return nil, err
	}
	if len(listed) == 0 {
		// Non-trading day: the provider only lists on open days.
		day, ok, err := lastTradingDay(ctx, sess, today)
		if err != nil {
			return nil, err
		}
		if ok {
			o.logger.Info().Time("day", day).Msg("No listing today, using last trading day")
			if listed, err = upstream.Collect(ctx, sess.ListInstruments(day)); err != nil {
				return nil, err
			}
		}
	}

	seen := make(map[string]bool, len(listed))
	targets := make([]string, 0, len(listed))
	for _, inst := range listed {
		if !supportedPrefix.MatchString(inst.Code) {
			continue
		}
		code, err := codes.ToStorage(inst.Code)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Skipping unparseable listing code")
			continue
		}
		if !seen[code] {
			seen[code] = true
			targets = append(targets, code)
		}
	}
	sort.Strings(targets)
	return targets, nil
}

// RefreshInstruments replaces stock_basic with the provider's reference data.
func (o *Orchestrator) RefreshInstruments(ctx context.Context, sess Session) (int, error) {
	rows, err := upstream.Collect(ctx, sess.ListStockBasics())
	if err != nil {
		return 0, fmt.Errorf("list stock basics: %w", err)
	}
	basics := toStockBasics(rows)
	if err := o.store.ReplaceInstruments(ctx, basics); err != nil {
		return 0, err
	}
	o.logger.Info().Int("instruments", len(basics)).Msg("Instrument set refreshed")
	return len(basics), nil
}

func lastTradingDay(ctx context.Context, sess Session, today time.Time) (time.Time, bool, error) {
	days, err := upstream.Collect(ctx, sess.ListTradingDays(today.AddDate(0, 0, -tradingDayLookback), today))
	if err != nil {
		return time.Time{}, false, err
	}
	if len(days) == 0 {
		return time.Time{}, false, nil
	}
	latest := days[0]
	for _, d := range days[1:] {
		if d.After(latest) {
			latest = d
		}
	}
	return latest, true, nil
}

type outcome string

const (
	outcomeSynced  outcome = metrics.OutcomeSynced
	outcomeSkipped outcome = metrics.OutcomeSkipped
	outcomeFailed  outcome = metrics.OutcomeFailed
)

// stepResult classifies one instrument. err is set for failures and for
// skips caused by bad input.
type stepResult struct {
	code    string
	outcome outcome
	rows    int64
	err     error
}

// syncInstrument computes the window, fetches and writes one instrument.
func (o *Orchestrator) syncInstrument(ctx context.Context, sess Session, code string, floor, horizon time.Time) stepResult {
	upCode, err := codes.ToUpstream(code)
	if err != nil {
		return stepResult{code: code, outcome: outcomeSkipped, err: err}
	}

	period := o.opts.Granularity.Period()
	last, ok, err := o.store.LastTradeDate(ctx, code, period)
	if err != nil {
		return stepResult{code: code, outcome: outcomeFailed, err: err}
	}
	var lastStored *time.Time
	if ok {
		lastStored = &last
	}

	w := ComputeWindow(code, lastStored, horizon, floor)
	if w.Empty() {
		return stepResult{code: code, outcome: outcomeSkipped}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()
	rows, err := upstream.Collect(fetchCtx, sess.FetchBars(upCode, w.Start, w.End, o.opts.Granularity))
	if err != nil {
		return stepResult{code: code, outcome: outcomeFailed, err: fmt.Errorf("fetch %s %s..%s: %w",
			upCode, w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"), err)}
	}

	bars, err := toHistory(code, rows, o.opts.Granularity)
	if err != nil {
		return stepResult{code: code, outcome: outcomeFailed, err: err}
	}

	n, err := o.store.ApplyBars(ctx, bars)
	if err != nil {
		return stepResult{code: code, outcome: outcomeFailed, err: err}
	}
	return stepResult{code: code, outcome: outcomeSynced, rows: n}
}

func (o *Orchestrator) fireFactors(ctx context.Context, log zerolog.Logger, code string) {
	if o.triggers == nil {
		return
	}
	if err := o.triggers.RecomputeFactors(ctx, code); err != nil {
		metrics.TriggerErrorInc("factors")
		log.Warn().Err(err).Str("code", code).Msg("Factor recompute trigger failed")
	}
}

func (o *Orchestrator) fireScores(ctx context.Context, log zerolog.Logger) {
	if o.triggers == nil {
		return
	}
	if err := o.triggers.RecomputeAllScores(ctx); err != nil {
		metrics.TriggerErrorInc("scores")
		log.Warn().Err(err).Msg("Score recompute trigger failed")
	}
}

func (o *Orchestrator) record(log zerolog.Logger, snap Snapshot) {
	if o.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := o.opts.Recorder.RecordRun(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Failed to archive sync run")
	}
}
