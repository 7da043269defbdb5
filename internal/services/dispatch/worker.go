package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

// dedupTTL bounds how long a cycle's idempotency keys are retained. Keys are
// unique per fire instant, so this is housekeeping, not correctness.
const dedupTTL = 24 * time.Hour

func (s *Service) pollOnce(ctx context.Context) {
	cfg, store, _, _ := s.snapshotDeps()
	if !cfg.Enabled {
		return
	}

	now := time.Now()
	due, err := store.FindDue(ctx, now)
	if err != nil {
		s.log.Warn("due scan failed", logx.Err(err))
		return
	}
	for _, n := range due {
		s.enqueue(n.ID)
	}
	if len(due) > 0 {
		s.log.Debug("due scan", logx.Int("due", len(due)), logx.Time("now", now))
	}
}

func (s *Service) enqueue(id string) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("dispatcher not running; dropping due notification", logx.String("id", id))
		return
	}
	select {
	case q <- id:
		// ok
	default:
		// The next poll will pick it up again; claiming keeps this safe.
		s.log.Warn("dispatch queue full; deferring notification",
			logx.String("id", id),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
		)
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan string, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case id := <-queue:
			s.runCycle(ctx, id)
		}
	}
}

// runCycle processes one due notification end to end: claim, resolve
// audience, render per recipient, fan out delivery, settle the lifecycle.
func (s *Service) runCycle(ctx context.Context, id string) {
	cfg, store, dir, _ := s.snapshotDeps()
	start := time.Now()

	n, claimed, err := store.Claim(ctx, id, start)
	if err != nil {
		s.log.Warn("claim failed", logx.String("id", id), logx.Err(err))
		return
	}
	if !claimed {
		// Another worker took it, or its status changed. Skip silently.
		s.log.Debug("claim lost", logx.String("id", id))
		return
	}

	var fireAt time.Time
	if n.LastFireAt != nil {
		fireAt = *n.LastFireAt
	}
	stats := CycleStats{NotificationID: n.ID, FireAt: fireAt, Started: start}

	cctx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
	defer cancel()

	users, err := notification.Resolve(cctx, n.Audience, dir, start)
	if err != nil {
		// Hard failure: the whole cycle fails and the notification is not
		// re-armed; an admin has to reschedule explicitly.
		stats.Error = err.Error()
		s.failCycle(cctx, n, &stats)
		return
	}

	if len(users) == 0 {
		a := notification.DeliveryAttempt{
			Outcome:        notification.OutcomeSkippedNoRecipients,
			AttemptedAt:    time.Now(),
			IdempotencyKey: notification.CycleKey(n.ID, fireAt, ""),
		}
		if err := store.AppendAttempt(cctx, n.ID, a); err != nil {
			s.log.Warn("append attempt failed", logx.String("id", n.ID), logx.Err(err))
		}
		stats.Skipped = 1
		s.settleCycle(cctx, n, &stats)
		return
	}

	stats.Total = len(users)

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, cfg.Fanout)
		smu sync.Mutex
	)
	for _, u := range users {
		u := u
		wg.Add(1)
		select {
		case sem <- struct{}{}:
		case <-cctx.Done():
			wg.Done()
			smu.Lock()
			stats.Failed++
			smu.Unlock()
			continue
		}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := s.sendOne(cctx, cfg, n, fireAt, u)
			smu.Lock()
			switch outcome {
			case notification.OutcomeDelivered:
				stats.Delivered++
			case notification.OutcomeSkippedNoRecipients:
				stats.Skipped++
			default:
				stats.Failed++
			}
			smu.Unlock()
		}()
	}
	wg.Wait()

	s.settleCycle(cctx, n, &stats)
}

// sendOne renders and delivers to a single recipient, recording exactly one
// attempt. Per-recipient errors never fail the cycle.
func (s *Service) sendOne(ctx context.Context, cfg Config, n *notification.Notification, fireAt time.Time, u notification.User) notification.Outcome {
	_, store, _, _ := s.snapshotDeps()
	now := time.Now()

	key := notification.CycleKey(n.ID, fireAt, u.ID)
	if until, ok, err := store.GetDedup(ctx, key); err == nil && ok && now.Before(until) {
		// Already delivered within this fire cycle (e.g. cycle re-entered
		// after a crash). Not a new attempt.
		s.log.Debug("delivery deduped",
			logx.String("id", n.ID),
			logx.String("user", u.ID),
			logx.Time("fire_at", fireAt),
		)
		return notification.OutcomeSkippedNoRecipients
	}

	res := notification.Render(n.Template, notification.VariablesFor(u))
	attempt := notification.DeliveryAttempt{
		RecipientID:      u.ID,
		RenderedMessage:  res.Text,
		MissingVariables: res.Missing,
		AttemptedAt:      now,
		IdempotencyKey:   key,
	}

	if res.Text == "" {
		attempt.Outcome = notification.OutcomeTemplateFailed
		attempt.Error = "empty rendered message"
	} else {
		if !res.Complete() {
			// Policy: deliver partially rendered messages, but flag them.
			s.log.Warn("rendered with missing variables",
				logx.String("id", n.ID),
				logx.String("user", u.ID),
				logx.Any("missing", res.Missing),
			)
		}
		if err := s.deliver(ctx, cfg, u, res.Text); err != nil {
			attempt.Outcome = notification.OutcomeTransportFailed
			attempt.Error = err.Error()
			s.log.Warn("delivery failed",
				logx.String("id", n.ID),
				logx.String("user", u.ID),
				logx.Err(err),
			)
		} else {
			attempt.Outcome = notification.OutcomeDelivered
			if err := store.PutDedup(ctx, key, now.Add(dedupTTL)); err != nil {
				s.log.Warn("dedup persist failed", logx.String("key", key), logx.Err(err))
			}
		}
	}

	if err := store.AppendAttempt(ctx, n.ID, attempt); err != nil {
		s.log.Warn("append attempt failed", logx.String("id", n.ID), logx.Err(err))
	}
	return attempt.Outcome
}

// deliver makes the rate-limited, bounded-retry transport call.
func (s *Service) deliver(ctx context.Context, cfg Config, u notification.User, text string) error {
	_, _, _, tr := s.snapshotDeps()

	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		if lim := s.sendLimiter(); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := tr.Send(sctx, u, text)
		cancel()
		if err == nil {
			return nil
		}
		last = err
		if i == cfg.RetryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

// settleCycle completes the cycle: recurring rules re-arm, one-time rules go
// terminal, and the summary is logged and kept in the history ring.
func (s *Service) settleCycle(ctx context.Context, n *notification.Notification, stats *CycleStats) {
	_, store, _, _ := s.snapshotDeps()
	now := time.Now()
	if err := n.CompleteCycle(now); err != nil {
		s.log.Error("cycle settle rejected", logx.String("id", n.ID), logx.Err(err))
		return
	}
	applied, err := store.Update(ctx, n, notification.StatusSending)
	if err != nil {
		s.log.Error("cycle settle persist failed", logx.String("id", n.ID), logx.Err(err))
	}
	stats.Duration = time.Since(stats.Started)
	s.appendHistory(*stats)
	if err == nil && !applied {
		// The sweeper (or an operator) moved the notification while this
		// cycle was in flight; the stored state wins over our stale copy.
		s.log.Warn("cycle state changed underneath; settle skipped",
			logx.String("id", n.ID),
			logx.Int("delivered", stats.Delivered))
		return
	}

	fields := []logx.Field{
		logx.String("id", n.ID),
		logx.String("status", string(n.Status)),
		logx.Int("total", stats.Total),
		logx.Int("delivered", stats.Delivered),
		logx.Int("failed", stats.Failed),
		logx.Int("skipped", stats.Skipped),
		logx.Duration("dur", stats.Duration),
	}
	if n.NextFireAt != nil {
		fields = append(fields, logx.Time("next_fire_at", *n.NextFireAt))
	}
	if stats.Failed > 0 {
		s.log.Warn("dispatch cycle finished with failures", fields...)
	} else {
		s.log.Info("dispatch cycle finished", fields...)
	}
}

// failCycle records a hard cycle failure (directory or storage level).
func (s *Service) failCycle(ctx context.Context, n *notification.Notification, stats *CycleStats) {
	_, store, _, _ := s.snapshotDeps()
	now := time.Now()
	if err := n.FailCycle(now); err != nil {
		s.log.Error("fail transition rejected", logx.String("id", n.ID), logx.Err(err))
		return
	}
	applied, err := store.Update(ctx, n, notification.StatusSending)
	if err != nil {
		s.log.Error("fail persist failed", logx.String("id", n.ID), logx.Err(err))
	}
	stats.Duration = time.Since(stats.Started)
	s.appendHistory(*stats)
	if err == nil && !applied {
		s.log.Debug("cycle already settled elsewhere", logx.String("id", n.ID))
		return
	}

	s.log.Error("dispatch cycle failed",
		logx.String("id", n.ID),
		logx.String("err", stats.Error),
		logx.Duration("dur", stats.Duration),
	)
}

func (s *Service) appendHistory(item CycleStats) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	// Bounded ring so long-running daemons don't slowly retain memory.
	const historyMax = 200
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
}
