package sched

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/obs"
	"alarmd/internal/runtime/supervisor"
	"alarmd/internal/storage"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// Config sizes the engine.
type Config struct {
	BufferSize      int
	MaxPerWorker    int
	MaxWorkers      int
	SpawnRetryLimit int

	// SweepEvery is the control-plane pass period. The pipeline is
	// specified at one-second granularity; keep this at or below 1s.
	SweepEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = alarm.DefaultBufferSize
	}
	if c.SweepEvery <= 0 || c.SweepEvery > time.Second {
		c.SweepEvery = time.Second
	}
	return c
}

// Deps are the engine's collaborators. Bus, Audit and Metrics are
// optional.
type Deps struct {
	Clock   alarm.Clock
	Tracer  *Tracer
	Bus     eventbus.Bus
	Audit   storage.Store
	Metrics *obs.Metrics
}

type Engine struct {
	cfg   Config
	log   logx.Logger
	clock alarm.Clock

	store  *store.Store
	buffer *alarm.Buffer
	trace  *Tracer
	bus    eventbus.Bus

	auditLog storage.Store
	metrics  *obs.Metrics

	c   *cron.Cron
	sup *supervisor.Supervisor

	// jobMu guards per-job overlap flags: a pass that overruns its period
	// is skipped, not stacked.
	jobMu   sync.Mutex
	running map[string]bool
}

func New(cfg Config, deps Deps, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	clk := deps.Clock
	if clk == nil {
		clk = alarm.SystemClock{}
	}
	if deps.Tracer == nil {
		deps.Tracer = NewTracer(os.Stdout, deps.Bus)
	}
	return &Engine{
		cfg:   cfg,
		log:   log,
		clock: clk,
		store: store.New(store.Config{
			MaxPerWorker:    cfg.MaxPerWorker,
			MaxWorkers:      cfg.MaxWorkers,
			SpawnRetryLimit: cfg.SpawnRetryLimit,
		}),
		buffer:   alarm.NewBuffer(cfg.BufferSize),
		trace:    deps.Tracer,
		bus:      deps.Bus,
		auditLog: deps.Audit,
		metrics:  deps.Metrics,
		running:  map[string]bool{},
	}
}

// Buffer is the producer side handed to the input loop.
func (e *Engine) Buffer() *alarm.Buffer { return e.buffer }

// Store is exposed for the viewer-style introspection used in tests and
// diagnostics commands.
func (e *Engine) Store() *store.Store { return e.store }

// Start spawns the consumer and registers the control-plane passes as
// cron jobs at the sweep period. Display workers are spawned on demand by
// the dispatch pass.
func (e *Engine) Start(ctx context.Context) error {
	if e.sup != nil {
		return fmt.Errorf("engine already started")
	}
	e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log))

	e.sup.GoRestart("consumer", e.consumeLoop)

	e.c = cron.New()
	spec := "@every " + e.cfg.SweepEvery.String()
	jobs := []struct {
		name string
		fn   func(now time.Time)
	}{
		{"dispatch", e.dispatchPass},
		{"changes", e.changePass},
		{"reaper", e.reaperPass},
		{"suspend", e.suspendPass},
		{"viewer", e.viewerPass},
		{"metrics", e.metricsPass},
	}
	for _, j := range jobs {
		j := j
		if _, err := e.c.AddFunc(spec, func() { e.runJob(j.name, j.fn) }); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	e.c.Start()

	e.log.Info("engine started",
		logx.Int("buffer", e.buffer.Cap()),
		logx.Duration("sweep", e.cfg.SweepEvery),
		logx.Int("max_per_worker", e.cfg.MaxPerWorker),
	)
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	if e.c != nil {
		stopped := e.c.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if e.sup == nil {
		return nil
	}
	return e.sup.Stop(ctx)
}

// runJob executes one control-plane pass with an overlap guard so a slow
// pass is skipped on the next trigger instead of piling up.
func (e *Engine) runJob(name string, fn func(now time.Time)) {
	e.jobMu.Lock()
	if e.running[name] {
		e.jobMu.Unlock()
		e.log.Debug("pass still running; skipping", logx.String("pass", name))
		return
	}
	e.running[name] = true
	e.jobMu.Unlock()

	defer func() {
		e.jobMu.Lock()
		e.running[name] = false
		e.jobMu.Unlock()
	}()
	fn(e.clock.Now())
}

// ---- control-plane passes ----

func (e *Engine) dispatchPass(now time.Time) {
	for _, eff := range e.store.DispatchPass(now) {
		switch {
		case eff.Abandoned:
			e.log.Warn("alarm abandoned: no display worker available",
				logx.Int("id", eff.Alarm.ID), logx.Int("group", eff.Alarm.Group))
			e.trace.Abandoned(eff.Alarm, now)
		case eff.Spawned:
			e.trace.WorkerCreated(eff.WorkerID, eff.Alarm, now)
			e.startWorker(eff.WorkerID, eff.Alarm.Group)
			e.trace.Assigned(eff.WorkerID, eff.Alarm, now)
		default:
			e.trace.Assigned(eff.WorkerID, eff.Alarm, now)
		}
	}
}

func (e *Engine) changePass(now time.Time) {
	for _, eff := range e.store.ChangePass(now) {
		if !eff.OK {
			e.trace.InvalidChange(eff.Req, now)
			if e.metrics != nil {
				e.metrics.InvalidTotal.WithLabelValues("stale_target").Inc()
			}
			continue
		}
		e.trace.Changed(eff, now)
	}
}

func (e *Engine) reaperPass(now time.Time) {
	for _, eff := range e.store.CancelPass(now) {
		switch {
		case !eff.OK:
			e.trace.InvalidCancel(eff.Req, now)
			if e.metrics != nil {
				e.metrics.InvalidTotal.WithLabelValues("stale_target").Inc()
			}
		case eff.WorkerOwned:
			e.trace.CancelMarked(eff.Alarm, now)
		default:
			e.trace.CancelledByReaper(eff.Alarm, now)
		}
	}
	for _, eff := range e.store.ExpiryPass(now) {
		e.trace.ExpiredByReaper(eff.Alarm, now)
	}
}

func (e *Engine) suspendPass(now time.Time) {
	for _, eff := range e.store.SuspendPass(now) {
		switch {
		case !eff.OK:
			e.trace.InvalidSuspend(eff.Req, now)
			if e.metrics != nil {
				e.metrics.InvalidTotal.WithLabelValues("stale_target").Inc()
			}
		case eff.NoOp:
			// Idempotent: repeated suspends (or resume of a running
			// alarm) change nothing and say nothing.
		case eff.Req.Kind == alarm.KindSuspend:
			e.trace.Suspended(eff.Alarm, now)
		default:
			e.trace.Reactivated(eff.Alarm, now)
		}
	}
}

func (e *Engine) viewerPass(now time.Time) {
	for _, eff := range e.store.ViewPass(now) {
		e.trace.View(eff, now)
	}
}

func (e *Engine) metricsPass(now time.Time) {
	if e.metrics == nil {
		return
	}
	alarms, workers := e.store.Stats()
	e.metrics.ActiveAlarms.Set(float64(alarms))
	e.metrics.LiveWorkers.Set(float64(workers))
	e.metrics.BufferDepth.Set(float64(e.buffer.Len()))
	_ = now
}

// ---- display workers ----

// startWorker launches the goroutine for a worker the dispatch pass just
// registered. Workers tick on the sweep period, print what their pass
// returned and exit when the store retires them.
func (e *Engine) startWorker(id, group int) {
	e.sup.Go0(fmt.Sprintf("display.%d", id), func(ctx context.Context) {
		e.runWorker(ctx, id, group)
	})
}

func (e *Engine) runWorker(ctx context.Context, id, group int) {
	log := e.log.With(logx.Int("worker", id), logx.Int("group", group))
	log.Debug("display worker started")

	tick := time.NewTicker(e.cfg.SweepEvery)
	defer tick.Stop()

	for {
		now := e.clock.Now()
		res := e.store.WorkerPass(id, now)
		for _, em := range res.Emissions {
			e.trace.WorkerEmission(id, em, now)
			if em.Kind == store.EmitPeriodic && e.metrics != nil {
				e.metrics.EmissionsTotal.Inc()
			}
		}
		if res.Retired {
			e.trace.WorkerRetired(id, res.Group, now)
			log.Debug("display worker retired")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
