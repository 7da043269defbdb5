package notification

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what a notification is about.
type Kind string

const (
	KindSystem    Kind = "system"
	KindReminder  Kind = "reminder"
	KindPromotion Kind = "promotion"
	KindUpdate    Kind = "update"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSystem, KindReminder, KindPromotion, KindUpdate:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification. See lifecycle.go for the
// allowed transitions.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Notification is the schedulable unit: a templated message, an audience and
// a recurrence rule.
//
// Invariants:
//   - Status == Scheduled iff NextFireAt is non-nil (future or due).
//   - Status == Draft implies NextFireAt == nil.
//   - NextFireAt is always derived from Recurrence, never set directly.
type Notification struct {
	ID         string
	Kind       Kind
	Template   string
	Audience   Audience
	Recurrence RecurrenceRule
	Status     Status

	NextFireAt *time.Time
	// LastFireAt is the fire instant of the current (or most recent) dispatch
	// cycle. Idempotency keys derive from it, so a cycle re-entered after a
	// crash still dedupes against its own earlier deliveries.
	LastFireAt *time.Time
	// ClaimedAt is set while a dispatch cycle holds the notification in
	// Sending; the sweeper uses it to detect cycles stuck after a crash.
	ClaimedAt *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns a Draft notification with a fresh ID.
func New(kind Kind, template string, audience Audience, rule RecurrenceRule, createdBy string, now time.Time) *Notification {
	return &Notification{
		ID:         uuid.NewString(),
		Kind:       kind,
		Template:   template,
		Audience:   audience,
		Recurrence: rule,
		Status:     StatusDraft,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy, so store implementations can hand out values
// without aliasing their internal state.
func (n *Notification) Clone() *Notification {
	cp := *n
	if n.NextFireAt != nil {
		t := *n.NextFireAt
		cp.NextFireAt = &t
	}
	if n.LastFireAt != nil {
		t := *n.LastFireAt
		cp.LastFireAt = &t
	}
	if n.ClaimedAt != nil {
		t := *n.ClaimedAt
		cp.ClaimedAt = &t
	}
	if len(n.Recurrence.DaysOfWeek) > 0 {
		cp.Recurrence.DaysOfWeek = append([]time.Weekday(nil), n.Recurrence.DaysOfWeek...)
	}
	return &cp
}

// Deletable reports whether the notification may be removed. A Sending
// notification must settle first so no delivery attempts are orphaned.
func (n *Notification) Deletable() bool {
	switch n.Status {
	case StatusDraft, StatusScheduled, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Outcome is the result of a single delivery attempt.
type Outcome string

const (
	OutcomeDelivered           Outcome = "delivered"
	OutcomeTransportFailed     Outcome = "transport_failed"
	OutcomeTemplateFailed      Outcome = "template_failed"
	OutcomeSkippedNoRecipients Outcome = "skipped_no_recipients"
)

// DeliveryAttempt is one append-only audit record per recipient per fire
// cycle. MissingVariables flags partially rendered messages that were
// delivered anyway.
type DeliveryAttempt struct {
	RecipientID      string
	RenderedMessage  string
	Outcome          Outcome
	Error            string
	MissingVariables []string
	AttemptedAt      time.Time
	IdempotencyKey   string
}

// CycleKey derives the idempotency key guarding duplicate delivery for one
// recipient within one fire cycle.
func CycleKey(notificationID string, fireAt time.Time, recipientID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(notificationID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(fmt.Sprintf("%d", fireAt.UnixMilli())))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(recipientID))
	return fmt.Sprintf("%x", h.Sum64())
}
