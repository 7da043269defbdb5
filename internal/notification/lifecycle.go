package notification

import "time"

// Lifecycle transitions. Only these paths exist; anything else is an
// InvalidTransitionError. The DispatchWorker owns Scheduled -> Sending ->
// {Sent | Failed | Scheduled}; admin actions own the rest.

// Schedule promotes a Draft (or a Failed notification being explicitly
// re-armed by an admin) to Scheduled, computing the initial fire instant.
func (n *Notification) Schedule(now time.Time) error {
	if n.Status != StatusDraft && n.Status != StatusFailed {
		return &InvalidTransitionError{From: n.Status, To: StatusScheduled}
	}
	if err := n.Recurrence.Validate(); err != nil {
		return err
	}

	fire, ok := n.Recurrence.NextFireAt(now)
	if !ok {
		// A one_time rule whose instant has already passed is a "send now":
		// it fires on the next poll at its original instant.
		if n.Recurrence.Kind == RuleOneTime {
			fire = n.Recurrence.At
		} else {
			return &InvalidTransitionError{From: n.Status, To: StatusScheduled}
		}
	}
	n.Status = StatusScheduled
	n.NextFireAt = &fire
	n.ClaimedAt = nil
	n.UpdatedAt = now
	return nil
}

// BeginSending marks the start of a dispatch cycle. NextFireAt is cleared for
// the duration of the cycle so the poll loop cannot re-trigger it.
//
// Callers must go through the store's atomic claim; this method only encodes
// the transition itself.
func (n *Notification) BeginSending(now time.Time) error {
	if n.Status != StatusScheduled {
		return &InvalidTransitionError{From: n.Status, To: StatusSending}
	}
	n.Status = StatusSending
	n.LastFireAt = n.NextFireAt
	n.NextFireAt = nil
	n.ClaimedAt = &now
	n.UpdatedAt = now
	return nil
}

// CompleteCycle settles a finished dispatch cycle: one_time rules become
// Sent (terminal); recurring rules re-arm with a freshly computed fire
// instant. A recurring rule that unexpectedly yields no next instant falls
// through to Sent.
func (n *Notification) CompleteCycle(now time.Time) error {
	if n.Status != StatusSending {
		return &InvalidTransitionError{From: n.Status, To: StatusSent}
	}
	n.ClaimedAt = nil
	n.UpdatedAt = now

	if n.Recurrence.Recurring() {
		if fire, ok := n.Recurrence.NextFireAt(now); ok {
			n.Status = StatusScheduled
			n.NextFireAt = &fire
			return nil
		}
	}
	n.Status = StatusSent
	n.NextFireAt = nil
	return nil
}

// FailCycle moves an in-flight cycle to Failed after a hard error (directory
// unavailable, storage error, stuck cycle swept after timeout). The
// notification is not re-armed; an admin must reschedule explicitly.
func (n *Notification) FailCycle(now time.Time) error {
	if n.Status != StatusSending {
		return &InvalidTransitionError{From: n.Status, To: StatusFailed}
	}
	n.Status = StatusFailed
	n.NextFireAt = nil
	n.ClaimedAt = nil
	n.UpdatedAt = now
	return nil
}

// Cancel is admin-initiated. A Sending notification cannot be cancelled; the
// caller must wait for the in-flight cycle to settle and retry.
func (n *Notification) Cancel(now time.Time) error {
	switch n.Status {
	case StatusDraft, StatusScheduled, StatusFailed:
		n.Status = StatusCancelled
		n.NextFireAt = nil
		n.ClaimedAt = nil
		n.UpdatedAt = now
		return nil
	}
	return &InvalidTransitionError{From: n.Status, To: StatusCancelled}
}
