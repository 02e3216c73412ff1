// Package app assembles the opsbookd services: config, logging, storage,
// knowledge lookup, notifier, schedule manager and the run lifecycle service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsbook/internal/config"
	"opsbook/internal/eventbus"
	"opsbook/internal/knowledge"
	"opsbook/internal/notifier"
	"opsbook/internal/playbook"
	"opsbook/internal/runs"
	rtsup "opsbook/internal/runtime/supervisor"
	"opsbook/internal/sched"
	"opsbook/internal/storage"
	logx "opsbook/pkg/logx"
)

// StopReason records why the app is shutting down; it ends up in the final
// log line and the shutdown audit trail.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	lookup knowledge.Lookup
	notif  *notifier.Service
	sched  *sched.Manager
	runs   *runs.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	lookup, err := buildLookup(cfg, log.With(logx.String("comp", "knowledge")))
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(cfg, log.With(logx.String("comp", "notifier")))
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, sink, log.With(logx.String("comp", "notifier")), bus)

	mcfg, err := mapSchedConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := sched.New(mcfg, store, lookup, notifSvc,
		bus, log.With(logx.String("comp", "sched")), sched.RealClock())

	runSvc := runs.New(store, schedSvc, bus, log.With(logx.String("comp", "runs")))
	runSvc.SetDefaultTimezone(cfg.Scheduler.Timezone)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		lookup:  lookup,
		notif:   notifSvc,
		sched:   schedSvc,
		runs:    runSvc,
	}, nil
}

// Runs exposes the lifecycle service to the outer command surface.
func (a *App) Runs() *runs.Service { return a.runs }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if dir := strings.TrimSpace(a.cfgm.Get().Templates.SeedDir); dir != "" {
		if err := a.seedTemplates(a.sup.Context(), dir); err != nil {
			return err
		}
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot config changes: logging and notifier live, the rest
// logged as restart-required.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			changed, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(changed) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			if config.ChangedContains(changed, "logging") {
				a.logs.Apply(mapLogConfig(newCfg))
			}
			if config.ChangedContains(changed, "notifier") {
				prevEnabled := a.notif.Enabled()
				ncfg, err := mapNotifierConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
				} else {
					a.notif.Apply(ncfg)
					if prevEnabled && !ncfg.Enabled {
						stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
						a.notif.Stop(stopCtx)
						cancel()
					} else if !prevEnabled && ncfg.Enabled {
						a.notif.Start(ctx)
					}
				}
			}
			for _, s := range []string{"storage", "scheduler", "knowledge", "templates"} {
				if config.ChangedContains(changed, s) {
					a.log.Warn("config section changed; restart required",
						logx.String("section", s))
				}
			}

			fields := append([]logx.Field{
				logx.String("changed", strings.Join(changed, ",")),
			}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// seedTemplates loads template definitions from disk into the store. An
// existing template with an equal or newer version wins over the seed.
func (a *App) seedTemplates(ctx context.Context, dir string) error {
	tpls, err := playbook.LoadTemplates(dir)
	if err != nil {
		return fmt.Errorf("seed templates: %w", err)
	}
	var loaded, kept int
	for _, tpl := range tpls {
		existing, err := a.store.GetTemplate(ctx, tpl.ID)
		switch {
		case errors.Is(err, playbook.ErrTemplateNotFound):
		case err != nil:
			return fmt.Errorf("seed templates: %w", err)
		case existing.Version >= tpl.Version:
			kept++
			continue
		default:
			tpl.CreatedAt = existing.CreatedAt
		}
		if err := a.store.PutTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("seed templates: %w", err)
		}
		loaded++
	}
	a.log.Info("templates seeded",
		logx.String("dir", dir),
		logx.Int("loaded", loaded),
		logx.Int("kept", kept))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("sched", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
