// Package app wires the pipeline together: config, logging, engine,
// input loop, and the optional metrics/notifier/audit services.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/input"
	"alarmd/internal/notifier"
	"alarmd/internal/obs"
	"alarmd/internal/runtime/supervisor"
	"alarmd/internal/sched"
	"alarmd/internal/storage"
	logx "alarmd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	engine  *sched.Engine
	reader  *input.Reader
	metrics *obs.Server
	notif   *notifier.Service
	audit   storage.Store

	// readerDone closes when stdin hits EOF; main exits 0 on it.
	readerDone chan struct{}
}

// New loads the config and constructs every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)

	var cfg *config.Config
	if cfgPath == "" {
		// Zero-config run: defaults everywhere.
		cfg = &config.Config{Logging: config.LoggingConfig{Level: "INFO", Console: true}}
		cfgm = nil
	} else {
		c, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sweep, err := config.ParseDurationOrDefault("engine.sweep_every", cfg.Engine.SweepEvery, time.Second)
	if err != nil {
		return nil, err
	}

	// Audit journal (optional).
	var audit storage.Store
	if sc := cfg.Storage; sc != nil {
		busyTimeout, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      sc.Driver,
			Path:        sc.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			audit = st
			log.Info("audit storage enabled", logx.String("driver", sc.Driver))
		}
	}

	// Metrics (optional).
	var metricsSrv *obs.Server
	var m *obs.Metrics
	if mc := cfg.Metrics; mc != nil && mc.Enabled {
		m = obs.NewMetrics()
		metricsSrv = obs.NewServer(obs.ServerConfig{Enabled: true, Addr: mc.Addr}, m,
			log.With(logx.String("comp", "metrics")))
	}

	clock := alarm.SystemClock{}
	tracer := sched.NewTracer(os.Stdout, bus)

	engine := sched.New(sched.Config{
		BufferSize:      cfg.Engine.BufferSize,
		MaxPerWorker:    cfg.Engine.MaxAlarmsPerWorker,
		MaxWorkers:      cfg.Engine.MaxWorkers,
		SpawnRetryLimit: cfg.Engine.SpawnRetryLimit,
		SweepEvery:      sweep,
	}, sched.Deps{
		Clock:   clock,
		Tracer:  tracer,
		Bus:     bus,
		Audit:   audit,
		Metrics: m,
	}, log.With(logx.String("comp", "engine")))

	// Telegram mirror (optional).
	var notif *notifier.Service
	if nc := cfg.Notifier; nc != nil && nc.Enabled {
		n, err := notifier.New(notifier.Config{
			Enabled:    true,
			Token:      nc.Token,
			ChatID:     nc.ChatID,
			RatePerSec: nc.RatePerSec,
		}, bus, log.With(logx.String("comp", "notifier")))
		if err != nil {
			return nil, err
		}
		notif = n
	}

	reader := input.NewReader(os.Stdin, os.Stdout, os.Stderr, engine.Buffer(), clock,
		log.With(logx.String("comp", "input")))

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		engine:     engine,
		reader:     reader,
		metrics:    metricsSrv,
		notif:      notif,
		audit:      audit,
		readerDone: make(chan struct{}),
	}, nil
}

// ReaderDone closes when the interactive loop sees EOF.
func (a *App) ReaderDone() <-chan struct{} { return a.readerDone }

// Done closes when the supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.metrics != nil {
		if err := a.metrics.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.notif != nil {
		a.notif.Start(a.sup.Context())
	}

	// Interactive loop. EOF is the normal way out of the process.
	a.sup.Go("input", func(ctx context.Context) error {
		defer close(a.readerDone)
		return a.reader.Run(ctx)
	})

	// Config hot reload: logging is the live-tunable section.
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if _, err := config.ParseDurationField("engine.sweep_every", cfg.Engine.SweepEvery); err != nil {
				return err
			}
			if cfg.Engine.BufferSize < 0 || cfg.Engine.MaxWorkers < 0 {
				return fmt.Errorf("engine sizes must be >= 0")
			}
			return nil
		})

		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(ctx context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case newCfg, ok := <-sub:
					if !ok {
						return
					}
					a.logs.Apply(logx.Config{
						Level:   newCfg.Logging.Level,
						Console: newCfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: newCfg.Logging.File.Enabled,
							Path:    newCfg.Logging.File.Path,
						},
					})
					a.log.Info("config reloaded")
				}
			}
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
	}

	// Readiness for systemd-managed sessions; a no-op elsewhere.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify skipped", logx.Err(err))
	}

	a.log.Info("alarmd started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sup.Cancel()

	if a.notif != nil {
		a.notif.Stop(ctx)
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			a.log.Warn("metrics stop", logx.Err(err))
		}
	}
	if err := a.engine.Stop(ctx); err != nil {
		a.log.Warn("engine stop", logx.Err(err))
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}

	err := a.sup.Wait(ctx)
	_ = a.logs.Close()
	a.log.Info("stopped")
	return err
}
