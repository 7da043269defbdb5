// Package admin is the operator-facing surface of the engine: it owns every
// state change that is not part of a dispatch cycle. The admin UI/API layer
// sits on top of this package; it is deliberately transport-agnostic.
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/internal/storage"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

var (
	ErrNotDraft      = errors.New("notification is not a draft")
	ErrNotDeletable  = errors.New("notification is being sent; cannot delete")
	ErrEmptyTemplate = errors.New("template must not be empty")
)

// Dispatcher is the optional fast path for "send now". When nil, the next
// poll tick picks the notification up instead.
type Dispatcher interface {
	Enqueue(id string)
}

// Input carries the editable fields of a notification.
type Input struct {
	Kind       notification.Kind
	Template   string
	Audience   notification.Audience
	Recurrence notification.RecurrenceRule
	CreatedBy  string
}

func (in Input) validate() error {
	if !in.Kind.Valid() {
		return errors.New("unknown notification kind: " + string(in.Kind))
	}
	if in.Template == "" {
		return ErrEmptyTemplate
	}
	if err := in.Audience.Validate(); err != nil {
		return err
	}
	return in.Recurrence.Validate()
}

// Service implements the admin operations over a Store.
type Service struct {
	log   logx.Logger
	store storage.Store
	disp  Dispatcher

	now func() time.Time // test seam
}

func New(log logx.Logger, store storage.Store, disp Dispatcher) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, store: store, disp: disp, now: time.Now}
}

// Create stores a new Draft. Drafts are fully validated up front so a later
// Promote cannot fail on malformed input.
func (s *Service) Create(ctx context.Context, in Input) (*notification.Notification, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	n := notification.New(in.Kind, in.Template, in.Audience, in.Recurrence, in.CreatedBy, s.now())
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	s.log.Info("notification created",
		logx.String("id", n.ID),
		logx.String("kind", string(n.Kind)),
		logx.String("rule", string(n.Recurrence.Kind)))
	return n, nil
}

// Update replaces the editable fields of a Draft. Anything past Draft is
// immutable except through the lifecycle transitions.
func (s *Service) Update(ctx context.Context, id string, in Input) (*notification.Notification, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != notification.StatusDraft {
		return nil, ErrNotDraft
	}
	n.Kind = in.Kind
	n.Template = in.Template
	n.Audience = in.Audience
	n.Recurrence = in.Recurrence
	n.UpdatedAt = s.now()
	applied, err := s.store.Update(ctx, n, notification.StatusDraft)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Promoted between our read and write; no longer editable.
		return nil, ErrNotDraft
	}
	return n, nil
}

// Promote moves a Draft (or an explicitly re-armed Failed notification) to
// Scheduled, computing the initial fire instant. An invalid rule leaves the
// notification untouched.
func (s *Service) Promote(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	prev := n.Status
	if err := n.Schedule(now); err != nil {
		return nil, err
	}
	applied, err := s.store.Update(ctx, n, prev)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, storage.ErrConflict
	}
	s.log.Info("notification scheduled",
		logx.String("id", n.ID),
		logx.Time("next_fire_at", *n.NextFireAt))
	return n, nil
}

// SendNow creates and schedules a one-shot notification firing immediately.
// The recurrence in the input is ignored; this is the manual "send now"
// button, equivalent to a one_time rule at the current instant.
func (s *Service) SendNow(ctx context.Context, in Input) (*notification.Notification, error) {
	now := s.now()
	in.Recurrence = notification.RecurrenceRule{Kind: notification.RuleOneTime, At: now}
	if err := in.validate(); err != nil {
		return nil, err
	}
	n := notification.New(in.Kind, in.Template, in.Audience, in.Recurrence, in.CreatedBy, now)
	if err := n.Schedule(now); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	s.log.Info("notification queued for immediate send", logx.String("id", n.ID))
	if s.disp != nil {
		s.disp.Enqueue(n.ID)
	}
	return n, nil
}

// Cancel stops a schedule. In-flight cycles are not interrupted: Sending
// rejects the transition and the admin retries after the cycle settles.
func (s *Service) Cancel(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := n.Status
	if err := n.Cancel(s.now()); err != nil {
		return nil, err
	}
	applied, err := s.store.Update(ctx, n, prev)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A claim or promote slipped in; the caller re-reads and retries.
		return nil, storage.ErrConflict
	}
	s.log.Info("notification cancelled", logx.String("id", n.ID))
	return n, nil
}

// Delete removes a notification and its delivery history. Sending is the only
// status that blocks deletion.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !n.Deletable() {
		return ErrNotDeletable
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("notification deleted", logx.String("id", id))
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*notification.Notification, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f storage.Filter) ([]*notification.Notification, error) {
	return s.store.List(ctx, f)
}

// History returns the append-only delivery audit trail, oldest first. This
// backs the admin "View Details" read path.
func (s *Service) History(ctx context.Context, id string) ([]notification.DeliveryAttempt, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}
