// Package schedule runs the ticker that turns due job plans into queued
// plan runs.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/plan"
	"github.com/chorus/jobs/recurrence"
)

// PlanStore is the part of plan.Store the ticker needs.
type PlanStore interface {
	ListDue(ctx context.Context, now time.Time) ([]*plan.Plan, error)
	UpdateSchedule(ctx context.Context, id string, next time.Time, enabled bool) error
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval time.Duration // How often to look for due plans (default: 1 minute)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: time.Minute,
	}
}

// TickStats summarises what the ticker has done since it was created.
type TickStats struct {
	LastTickAt      time.Time     `json:"last_tick_at"`
	TicksSinceStart int64         `json:"ticks_since_start"`
	Interval        time.Duration `json:"interval"`
	Dispatched      int64         `json:"dispatched"`
	Absorbed        int64         `json:"absorbed"`
	Deferred        int64         `json:"deferred"`
	Disabled        int64         `json:"disabled"`
	Errors          int64         `json:"errors"`
}

// Ticker periodically dispatches due plans and moves their next run
// forward. Ticks never overlap: a tick that is still running when the
// next one fires makes the next one skip.
type Ticker struct {
	store      PlanStore
	dispatcher plan.Dispatcher
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	pulseLog   *zap.SugaredLogger

	mu       sync.Mutex
	interval time.Duration
	cron     *cron.Cron
	entryID  cron.EntryID
	stats    TickStats
}

// NewTicker creates a ticker. It does nothing until Start.
func NewTicker(ctx context.Context, store PlanStore, dispatcher plan.Dispatcher, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
		ctx:        tickerCtx,
		cancel:     cancel,
		pulseLog:   logger.AddPulseSymbol(log.Named("ticker")),
		interval:   cfg.Interval,
	}
}

// Start schedules ticks every interval.
func (t *Ticker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron != nil {
		return nil
	}

	cl := cronLogger{log: t.pulseLog}
	t.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if err := t.scheduleLocked(); err != nil {
		t.cron = nil
		return err
	}
	t.cron.Start()
	logger.AddPulseOpenSymbol(t.pulseLog).Infow("Ticker started", "interval", t.interval)
	return nil
}

// Stop cancels an in-flight tick and waits for it to return.
func (t *Ticker) Stop() {
	t.cancel()
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	logger.AddPulseCloseSymbol(t.pulseLog).Infow("Ticker stopped")
}

// SetInterval changes how often the ticker fires. A running ticker is
// rescheduled immediately.
func (t *Ticker) SetInterval(d time.Duration) error {
	if d < time.Second {
		return errors.Newf("ticker interval %s is below one second", d)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d == t.interval {
		return nil
	}
	old := t.interval
	t.interval = d
	if t.cron != nil {
		t.cron.Remove(t.entryID)
		if err := t.scheduleLocked(); err != nil {
			return err
		}
	}
	t.pulseLog.Infow("Ticker interval changed", "from", old, "to", d)
	return nil
}

// scheduleLocked registers the tick job. REQUIRES: t.mu held.
func (t *Ticker) scheduleLocked() error {
	id, err := t.cron.AddFunc(fmt.Sprintf("@every %s", t.interval), func() {
		t.Tick(t.ctx, t.now())
	})
	if err != nil {
		return errors.Wrapf(err, "failed to schedule ticker every %s", t.interval)
	}
	t.entryID = id
	return nil
}

// Stats returns a snapshot of ticker counters.
func (t *Ticker) Stats() TickStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Interval = t.interval
	return s
}

// Tick dispatches every plan due at now. Exposed so callers and tests
// can drive the ticker without waiting on the clock.
func (t *Ticker) Tick(ctx context.Context, now time.Time) {
	t.mu.Lock()
	t.stats.LastTickAt = now
	t.stats.TicksSinceStart++
	tick := t.stats.TicksSinceStart
	t.mu.Unlock()

	plans, err := t.store.ListDue(ctx, now)
	if err != nil {
		t.count(func(s *TickStats) { s.Errors++ })
		t.pulseLog.Warnw("Tick error", logger.FieldError, err, "tick", tick)
		return
	}
	if len(plans) == 0 {
		return
	}
	t.pulseLog.Debugw("Due plans found", logger.FieldCount, len(plans), "tick", tick)

	for _, p := range plans {
		if ctx.Err() != nil {
			return
		}
		t.dispatch(ctx, p, now)
	}
}

func (t *Ticker) dispatch(ctx context.Context, p *plan.Plan, now time.Time) {
	log := t.pulseLog.With(logger.FieldPlanID, p.ID, logger.FieldNextRun, p.NextRun)

	queued, err := t.dispatcher.EnqueueIfNotQueued(ctx, plan.RunKey(p.ID), plan.RunHandlerName,
		plan.RunPayload{PlanID: p.ID, Trigger: plan.TriggerSchedule})
	if err != nil {
		if errors.IsRetryable(err) {
			t.count(func(s *TickStats) { s.Deferred++ })
			log.Warnw("Plan dispatch deferred to next tick", logger.FieldError, err)
			return
		}
		t.count(func(s *TickStats) { s.Errors++ })
		log.Errorw("Plan dispatch failed", logger.FieldError, err)
		return
	}
	if queued {
		t.count(func(s *TickStats) { s.Dispatched++ })
	} else {
		t.count(func(s *TickStats) { s.Absorbed++ })
		log.Debugw("Plan run already queued")
	}

	if err := t.advance(ctx, p, now); err != nil {
		t.count(func(s *TickStats) { s.Errors++ })
		log.Errorw("Failed to advance plan schedule", logger.FieldError, err)
	}
}

// advance moves next_run past now and disables plans whose next run
// would land after their end date. An expired plan keeps its advanced
// next_run, which a later re-enable can recompute.
func (t *Ticker) advance(ctx context.Context, p *plan.Plan, now time.Time) error {
	if p.NextRun == nil {
		return errors.AssertionFailedf("due plan %s has no next_run", p.ID)
	}
	zone, err := p.Zone()
	if err != nil {
		// Never retry a schedule that cannot be computed
		return errors.WithSecondaryError(err, t.store.UpdateSchedule(ctx, p.ID, *p.NextRun, false))
	}

	next, err := recurrence.AdvancePast(*p.NextRun, now, p.IntervalUnit, p.IntervalValue, zone)
	if err != nil {
		return errors.WithSecondaryError(err, t.store.UpdateSchedule(ctx, p.ID, *p.NextRun, false))
	}

	enabled := !recurrence.Expired(next, p.EndRun, zone)
	if err := t.store.UpdateSchedule(ctx, p.ID, next, enabled); err != nil {
		return err
	}
	if !enabled {
		t.count(func(s *TickStats) { s.Disabled++ })
		t.pulseLog.Infow("Plan reached its end date, disabled",
			logger.FieldPlanID, p.ID,
			logger.FieldEndRun, p.EndRun,
		)
	}
	return nil
}

func (t *Ticker) count(fn func(*TickStats)) {
	t.mu.Lock()
	fn(&t.stats)
	t.mu.Unlock()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, logger.FieldError, err)...)
}
