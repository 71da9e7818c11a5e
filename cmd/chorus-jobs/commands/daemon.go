package commands

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chorus/jobs/am"
	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/dispatch/kafka"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/plan"
	"github.com/chorus/jobs/pulse/async"
	"github.com/chorus/jobs/pulse/schedule"
	"github.com/chorus/jobs/server"
	"github.com/chorus/jobs/target"
)

// cleanupEvery is how often finished queue jobs past retention are removed
const cleanupEvery = time.Hour

// newKafkaBackend is replaced in tests with a backend over a fake producer.
var newKafkaBackend = kafka.NewBackend

// daemon is everything `serve` runs, wired together.
type daemon struct {
	cfg        *am.Config
	queue      *async.Queue
	dispatcher *dispatch.Dispatcher
	pool       *async.WorkerPool
	ticker     *schedule.Ticker
	plans      *plan.Service
	sources    *target.Service
	server     *server.Server
	log        *zap.SugaredLogger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func()
}

// newDaemon builds the components for cfg over an already migrated
// database. Nothing runs until start.
func newDaemon(cfg *am.Config, database *sql.DB, log *zap.SugaredLogger) (*daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &daemon{
		cfg:    cfg,
		queue:  async.NewQueue(database),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	backend, err := d.buildBackend()
	if err != nil {
		cancel()
		return nil, err
	}
	d.dispatcher = dispatch.New(backend, dispatch.NewMemoryTokens(), log)

	planStore := plan.NewStore(database)
	d.plans = plan.NewService(planStore, d.dispatcher,
		plan.WithDefaultZone(cfg.Scheduler.DefaultTimeZone),
		plan.WithLogger(log),
	)

	sourceStore := target.NewStore(database)
	d.sources = target.NewService(sourceStore, nil, d.dispatcher, log)

	runner := plan.NewRunner(planStore, log)
	runner.Handle(plan.ActionImportSourceData, d.sources.ImportAction())
	forward := plan.ForwardingRunner(d.dispatcher)
	runner.Handle(plan.ActionRunWorkFlow, forward)
	runner.Handle(plan.ActionRunSQLFile, forward)

	poolCfg := async.DefaultWorkerPoolConfig()
	poolCfg.Workers = cfg.Worker.Workers
	if cfg.Worker.PollIntervalMS > 0 {
		poolCfg.PollInterval = cfg.PollInterval()
	}
	poolCfg.MaxRetries = cfg.Worker.MaxRetries
	d.pool = async.NewWorkerPool(ctx, d.queue, poolCfg, log)
	d.pool.Registry().Register(runner)
	d.pool.Registry().Register(target.NewRefresher(sourceStore, target.TCPProbe(target.DefaultProbeTimeout), log))
	d.pool.OnStart(func(job *async.Job) {
		if job.DispatchKey != "" {
			d.dispatcher.MarkStarted(job.DispatchKey)
		}
	})
	d.pool.OnRequeue(func(job *async.Job) {
		if job.DispatchKey != "" {
			d.dispatcher.MarkQueued(job.DispatchKey)
		}
	})

	if interval := cfg.TickerInterval(); interval > 0 {
		d.ticker = schedule.NewTicker(ctx, planStore, d.dispatcher, schedule.TickerConfig{Interval: interval}, log)
	}

	d.server = server.New(server.Deps{
		Plans:          d.plans,
		Sources:        d.sources,
		Queue:          d.queue,
		Dispatcher:     d.dispatcher,
		Ticker:         d.ticker,
		Pool:           d.pool,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})
	return d, nil
}

// buildBackend picks where dispatched requests go. Requests handed to
// Kafka are executed by consumers outside this process, and the dispatcher
// frees their keys once the topic acknowledges them.
func (d *daemon) buildBackend() (dispatch.Backend, error) {
	var backend dispatch.Backend
	switch d.cfg.Dispatch.Backend {
	case "", am.BackendQueue:
		backend = async.NewQueueBackend(d.queue)
	case am.BackendKafka:
		kb, err := newKafkaBackend(kafka.Config{
			Brokers:         splitList(d.cfg.Dispatch.Kafka.Brokers),
			Topic:           d.cfg.Dispatch.Kafka.Topic,
			DeliveryTimeout: time.Duration(d.cfg.Dispatch.Kafka.DeliveryTimeoutSeconds) * time.Second,
		}, d.log)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, kb.Close)
		backend = kb
	default:
		return nil, errors.Newf("unknown dispatch backend %q", d.cfg.Dispatch.Backend)
	}

	if d.cfg.Dispatch.RatePerSecond > 0 {
		backend = dispatch.NewRateLimitedBackend(backend, d.cfg.Dispatch.RatePerSecond, d.cfg.Dispatch.Burst)
	}
	return backend, nil
}

// start launches the workers, ticker and retention sweep. The HTTP
// server is started separately so tests can serve on their own listener.
func (d *daemon) start() error {
	if d.cfg.Worker.Workers > 0 {
		d.pool.Start()
	} else {
		d.log.Infow("No local workers, requests run on external executors", "backend", d.cfg.Dispatch.Backend)
	}
	if d.ticker != nil {
		if err := d.ticker.Start(); err != nil {
			return errors.Wrap(err, "failed to start ticker")
		}
	}
	if d.cfg.Worker.RetentionHours > 0 {
		d.wg.Add(1)
		go d.cleanupLoop(time.Duration(d.cfg.Worker.RetentionHours) * time.Hour)
	}
	return nil
}

func (d *daemon) cleanupLoop(retention time.Duration) {
	defer d.wg.Done()
	t := time.NewTicker(cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
			n, err := d.queue.Cleanup(d.ctx, retention)
			if err != nil {
				d.log.Warnw("Queue cleanup failed", logger.FieldError, err)
				continue
			}
			if n > 0 {
				d.log.Infow("Removed finished jobs past retention", logger.FieldCount, n, "retention", retention)
			}
		}
	}
}

// applyConfig is the reload hook: only settings that can change without a
// restart are applied.
func (d *daemon) applyConfig(cfg *am.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if d.ticker != nil && cfg.TickerInterval() > 0 {
		if err := d.ticker.SetInterval(cfg.TickerInterval()); err != nil {
			return err
		}
	}
	d.log.Infow("Configuration reloaded", "ticker_interval", cfg.TickerInterval())
	return nil
}

// stop shuts down in reverse start order.
func (d *daemon) stop(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	if d.ticker != nil {
		d.ticker.Stop()
	}
	if d.cfg.Worker.Workers > 0 {
		d.pool.Stop()
	}
	d.cancel()
	d.wg.Wait()
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
