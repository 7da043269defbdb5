package notification

import (
	"errors"
	"testing"
	"time"
)

func draftReminder(rule RecurrenceRule) *Notification {
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	return New(KindReminder, "Hi {user_name}", Audience{Kind: AudienceAllUsers}, rule, "admin-1", now)
}

func dailyRule() RecurrenceRule {
	return RecurrenceRule{Kind: RuleDaily, TimeOfDay: "09:00", Timezone: "UTC"}
}

func TestScheduleFromDraft(t *testing.T) {
	t.Parallel()
	n := draftReminder(dailyRule())
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	if err := n.Schedule(now); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if n.Status != StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", n.Status)
	}
	want := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if n.NextFireAt == nil || !n.NextFireAt.Equal(want) {
		t.Fatalf("NextFireAt = %v, want %v", n.NextFireAt, want)
	}
}

func TestScheduleRejectsInvalidRule(t *testing.T) {
	t.Parallel()
	n := draftReminder(RecurrenceRule{Kind: RuleWeekly, TimeOfDay: "09:00", Timezone: "UTC"})
	err := n.Schedule(time.Now())
	if !errors.Is(err, ErrInvalidRecurrence) {
		t.Fatalf("err = %v, want ErrInvalidRecurrence", err)
	}
	if n.Status != StatusDraft {
		t.Fatalf("Status = %s, want draft after rejected schedule", n.Status)
	}
}

func TestSchedulePastOneTimeIsSendNow(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	n := draftReminder(RecurrenceRule{Kind: RuleOneTime, At: at})
	now := at.Add(48 * time.Hour)

	if err := n.Schedule(now); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if n.NextFireAt == nil || !n.NextFireAt.Equal(at) {
		t.Fatalf("NextFireAt = %v, want original instant %v", n.NextFireAt, at)
	}
}

func TestBeginSendingPreservesFireInstant(t *testing.T) {
	t.Parallel()
	n := draftReminder(dailyRule())
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	if err := n.Schedule(now); err != nil {
		t.Fatal(err)
	}
	fire := *n.NextFireAt

	if err := n.BeginSending(fire.Add(time.Second)); err != nil {
		t.Fatalf("BeginSending error: %v", err)
	}
	if n.Status != StatusSending {
		t.Fatalf("Status = %s, want sending", n.Status)
	}
	if n.NextFireAt != nil {
		t.Fatal("NextFireAt should be cleared during the cycle")
	}
	if n.LastFireAt == nil || !n.LastFireAt.Equal(fire) {
		t.Fatalf("LastFireAt = %v, want %v", n.LastFireAt, fire)
	}
	if n.ClaimedAt == nil {
		t.Fatal("ClaimedAt should be set during the cycle")
	}

	// Only Scheduled can enter Sending.
	var invalid *InvalidTransitionError
	if err := n.BeginSending(time.Now()); !errors.As(err, &invalid) {
		t.Fatalf("double BeginSending error = %v, want InvalidTransitionError", err)
	}
}

func TestCompleteCycleReArmsRecurring(t *testing.T) {
	t.Parallel()
	n := draftReminder(dailyRule())
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	if err := n.Schedule(now); err != nil {
		t.Fatal(err)
	}
	fire := *n.NextFireAt
	if err := n.BeginSending(fire); err != nil {
		t.Fatal(err)
	}
	settled := fire.Add(3 * time.Second)
	if err := n.CompleteCycle(settled); err != nil {
		t.Fatalf("CompleteCycle error: %v", err)
	}
	if n.Status != StatusScheduled {
		t.Fatalf("Status = %s, want scheduled (re-armed)", n.Status)
	}
	if n.NextFireAt == nil || !n.NextFireAt.After(settled) {
		t.Fatalf("NextFireAt = %v, want strictly after %v", n.NextFireAt, settled)
	}
	if n.ClaimedAt != nil {
		t.Fatal("ClaimedAt should clear when the cycle settles")
	}
}

func TestCompleteCycleOneTimeIsTerminal(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	n := draftReminder(RecurrenceRule{Kind: RuleOneTime, At: at})
	if err := n.Schedule(at.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := n.BeginSending(at); err != nil {
		t.Fatal(err)
	}
	if err := n.CompleteCycle(at.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if n.Status != StatusSent {
		t.Fatalf("Status = %s, want sent", n.Status)
	}
	if n.NextFireAt != nil {
		t.Fatal("sent notification must not re-arm")
	}
}

func TestFailCycleRequiresSending(t *testing.T) {
	t.Parallel()
	n := draftReminder(dailyRule())
	if err := n.FailCycle(time.Now()); err == nil {
		t.Fatal("FailCycle from draft should fail")
	}

	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	if err := n.Schedule(now); err != nil {
		t.Fatal(err)
	}
	if err := n.BeginSending(*n.NextFireAt); err != nil {
		t.Fatal(err)
	}
	if err := n.FailCycle(time.Now()); err != nil {
		t.Fatalf("FailCycle error: %v", err)
	}
	if n.Status != StatusFailed || n.NextFireAt != nil {
		t.Fatalf("Status = %s NextFireAt = %v, want failed/nil", n.Status, n.NextFireAt)
	}

	// Failed can be explicitly re-armed by an admin.
	if err := n.Schedule(now); err != nil {
		t.Fatalf("re-Schedule from failed: %v", err)
	}
	if n.Status != StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", n.Status)
	}
}

func TestCancelBlockedWhileSending(t *testing.T) {
	t.Parallel()
	n := draftReminder(dailyRule())
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	if err := n.Schedule(now); err != nil {
		t.Fatal(err)
	}
	if err := n.BeginSending(*n.NextFireAt); err != nil {
		t.Fatal(err)
	}

	var invalid *InvalidTransitionError
	if err := n.Cancel(time.Now()); !errors.As(err, &invalid) {
		t.Fatalf("Cancel while sending = %v, want InvalidTransitionError", err)
	}

	// After the cycle settles the retry succeeds.
	if err := n.CompleteCycle(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := n.Cancel(time.Now()); err != nil {
		t.Fatalf("Cancel after settle: %v", err)
	}
	if n.Status != StatusCancelled || n.NextFireAt != nil {
		t.Fatalf("Status = %s NextFireAt = %v, want cancelled/nil", n.Status, n.NextFireAt)
	}

	// Cancelled is terminal.
	if err := n.Schedule(time.Now()); err == nil {
		t.Fatal("Schedule from cancelled should fail")
	}
}

func TestCycleKeyStability(t *testing.T) {
	t.Parallel()
	fire := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	k1 := CycleKey("n1", fire, "u1")
	k2 := CycleKey("n1", fire, "u1")
	if k1 != k2 {
		t.Fatalf("same inputs gave %s vs %s", k1, k2)
	}
	if CycleKey("n1", fire, "u2") == k1 {
		t.Fatal("different recipient must change the key")
	}
	if CycleKey("n1", fire.Add(24*time.Hour), "u1") == k1 {
		t.Fatal("different fire instant must change the key")
	}
	if CycleKey("n2", fire, "u1") == k1 {
		t.Fatal("different notification must change the key")
	}
}
