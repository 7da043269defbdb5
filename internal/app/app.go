// Package app assembles the daemon: config, logging, storage, user
// directory, transport, and the dispatch worker, plus hot-reload plumbing.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Smr002/goldfit-notify/internal/config"
	"github.com/Smr002/goldfit-notify/internal/directory"
	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/internal/runtime/supervisor"
	"github.com/Smr002/goldfit-notify/internal/services/admin"
	"github.com/Smr002/goldfit-notify/internal/services/dispatch"
	"github.com/Smr002/goldfit-notify/internal/storage"
	"github.com/Smr002/goldfit-notify/internal/transport"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store
	dir   *directory.Static
	tr    transport.Transport

	disp  *dispatch.Service
	admin *admin.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
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

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	dir, err := loadDirectory(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	tr, err := buildTransport(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	disp := dispatch.New(dcfg, store, dir, tr, log.With(logx.String("comp", "dispatch")))
	adm := admin.New(log.With(logx.String("comp", "admin")), store, disp)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		dir:     dir,
		tr:      tr,
		disp:    disp,
		admin:   adm,
	}, nil
}

// Admin exposes the operator surface the (out-of-process) console sits on.
func (a *App) Admin() *admin.Service { return a.admin }

func (a *App) Dispatch() *dispatch.Service { return a.disp }

// Done is closed when the app run context is canceled (fatal error or Stop).
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish so a bad
	// edit on disk never reaches running services.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.disp.Enabled() {
		a.disp.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// Watch self-heals internally; the restart loop is the outer net for a
	// watcher that dies outright (fd exhaustion, removed config directory).
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, time.Second, 30*time.Second)

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Storage cannot swap live.
	if prev != nil && prev.Storage != cfg.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	// Directory seed reloads in place; dispatch sees it on the next cycle.
	if d, err := loadDirectory(cfg); err != nil {
		a.log.Warn("invalid directory seed; keeping previous", logx.Err(err))
	} else if users, uerr := d.ListUsers(ctx); uerr == nil {
		a.dir.Replace(users)
	}

	prevEnabled := a.disp.Enabled()
	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		return
	}
	a.disp.Apply(dcfg)
	if prevEnabled && !dcfg.Enabled {
		a.log.Info("dispatch disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.disp.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && dcfg.Enabled {
		a.log.Info("dispatch enabled via config")
		a.disp.Start(ctx)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
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

	step("dispatch", 5*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	started, active := a.sup.Counters()
	a.log.Info("stopped",
		logx.Uint64("goroutines_started", started),
		logx.Int64("goroutines_active", active))
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func loadDirectory(cfg *config.Config) (*directory.Static, error) {
	if cfg.Directory.SeedPath == "" {
		return directory.NewStatic(nil), nil
	}
	return directory.LoadStatic(cfg.Directory.SeedPath)
}

func buildTransport(cfg *config.Config, log logx.Logger) (transport.Transport, error) {
	switch cfg.Transport.Driver {
	case "", "log":
		return transport.NewLog(log.With(logx.String("comp", "transport"))), nil
	case "telegram":
		return transport.NewTelegram(transport.TelegramConfig{
			Token: cfg.Transport.Telegram.Token,
		}, log.With(logx.String("comp", "transport")))
	default:
		return nil, fmt.Errorf("unknown transport driver: %q", cfg.Transport.Driver)
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	poll, err := config.ParseDurationField("dispatch.poll_interval", d.PollInterval)
	if err != nil {
		return dispatch.Config{}, err
	}
	cycle, err := config.ParseDurationField("dispatch.cycle_timeout", d.CycleTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	send, err := config.ParseDurationField("dispatch.send_timeout", d.SendTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	if d.Workers < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.workers must be >= 0")
	}
	// Omitted retry_max keeps the dispatch default; an explicit 0 maps to
	// the dispatch "no retries" sentinel.
	retry := 0
	if d.RetryMax != nil {
		switch v := *d.RetryMax; {
		case v < 0:
			return dispatch.Config{}, fmt.Errorf("dispatch.retry_max must be >= 0")
		case v == 0:
			retry = -1
		default:
			retry = v
		}
	}
	return dispatch.Config{
		Enabled:      d.Enabled,
		PollInterval: poll,
		Workers:      d.Workers,
		Fanout:       d.Fanout,
		RatePerSec:   d.RatePerSec,
		CycleTimeout: cycle,
		SendTimeout:  send,
		RetryMax:     retry,
	}, nil
}

var _ notification.UserDirectory = (*directory.Static)(nil)
