package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/internal/storage"
	"github.com/Smr002/goldfit-notify/internal/transport"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

func New(cfg Config, store storage.Store, dir notification.UserDirectory, tr transport.Transport, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		store:   store,
		dir:     dir,
		tr:      tr,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps runtime knobs. Worker count and poll interval take effect on
// the next Start(); the rate limiter swaps live.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Enqueue hands a notification ID straight to the worker queue, skipping the
// next poll tick. Used for "send now": the claim still gates actual work, so
// a stale or duplicate ID is harmless.
func (s *Service) Enqueue(id string) {
	s.enqueue(id)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested",
		logx.Bool("enabled", cur.Enabled),
		logx.Int("workers", cur.Workers),
		logx.Duration("poll", cur.PollInterval),
	)
	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		// already running (no stop in progress)
		if done == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	// Fresh queue per run so stale due IDs from a previous run are not replayed.
	s.queue = make(chan string, 256)

	// Local captures prevent races if fields are swapped/nilled during Stop().
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
				}
			}()
			s.log.Debug("worker started", logx.Int("worker", idx))
			s.worker(runCtx, stopCh, queue, idx)
			s.log.Debug("worker stopped", logx.Int("worker", idx))
		}()
	}

	s.c = cron.New()
	_, _ = s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollInterval), func() { s.pollOnce(runCtx) })
	_, _ = s.c.AddFunc(fmt.Sprintf("@every %s", sweepInterval(s.cfg.CycleTimeout)), func() { s.sweepOnce(runCtx) })
	s.c.Start()

	// Pick up anything already due instead of waiting out the first tick.
	go s.pollOnce(runCtx)

	s.log.Info("service started",
		logx.Int("workers", workers),
		logx.Duration("poll", s.cfg.PollInterval),
		logx.Duration("cycle_timeout", s.cfg.CycleTimeout),
	)
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	// signal workers to exit promptly
	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

// Snapshot returns a copy of the runtime state for operators.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled: s.cfg.Enabled,
		Workers: s.cfg.Workers,
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]CycleStats(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func sweepInterval(cycleTimeout time.Duration) time.Duration {
	iv := cycleTimeout / 2
	if iv < 30*time.Second {
		iv = 30 * time.Second
	}
	return iv
}

// sendLimiter returns the current limiter; Apply() may swap it live.
func (s *Service) sendLimiter() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter
}

// snapshotDeps copies mutable collaborators to avoid races with Apply().
func (s *Service) snapshotDeps() (Config, storage.Store, notification.UserDirectory, transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.store, s.dir, s.tr
}
