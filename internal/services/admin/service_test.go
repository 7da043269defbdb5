package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/internal/storage"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

type recordingDispatcher struct {
	ids []string
}

func (d *recordingDispatcher) Enqueue(id string) { d.ids = append(d.ids, id) }

func validInput() Input {
	return Input{
		Kind:     notification.KindReminder,
		Template: "Hi {user_name}, you're on a {streak_count} day streak!",
		Audience: notification.Audience{Kind: notification.AudienceActiveUsers, WithinDays: 14},
		Recurrence: notification.RecurrenceRule{
			Kind: notification.RuleDaily, TimeOfDay: "09:00", Timezone: "UTC",
		},
		CreatedBy: "admin-1",
	}
}

func newService(t *testing.T) (*Service, storage.Store, *recordingDispatcher) {
	t.Helper()
	store := storage.NewMemory()
	disp := &recordingDispatcher{}
	return New(logx.Nop(), store, disp), store, disp
}

func TestCreateValidatesInput(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if n.Status != notification.StatusDraft {
		t.Fatalf("Status = %s, want draft", n.Status)
	}
	if n.ID == "" || n.CreatedBy != "admin-1" {
		t.Fatalf("unexpected notification: %+v", n)
	}

	bad := validInput()
	bad.Template = ""
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrEmptyTemplate) {
		t.Fatalf("empty template = %v, want ErrEmptyTemplate", err)
	}

	bad = validInput()
	bad.Recurrence = notification.RecurrenceRule{Kind: notification.RuleWeekly, TimeOfDay: "09:00", Timezone: "UTC"}
	if _, err := svc.Create(ctx, bad); !errors.Is(err, notification.ErrInvalidRecurrence) {
		t.Fatalf("bad rule = %v, want ErrInvalidRecurrence", err)
	}

	bad = validInput()
	bad.Kind = "newsletter"
	if _, err := svc.Create(ctx, bad); err == nil {
		t.Fatal("unknown kind should be rejected")
	}
}

func TestUpdateDraftOnly(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}

	in := validInput()
	in.Template = "Updated {user_name}"
	got, err := svc.Update(ctx, n.ID, in)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.Template != "Updated {user_name}" {
		t.Fatalf("Template = %q", got.Template)
	}

	if _, err := svc.Promote(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Update(ctx, n.ID, in); !errors.Is(err, ErrNotDraft) {
		t.Fatalf("Update scheduled = %v, want ErrNotDraft", err)
	}
	if _, err := svc.Update(ctx, "nope", in); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Update missing = %v, want ErrNotFound", err)
	}
}

// racingStore mutates a notification between the service's read and its
// write, mimicking a concurrent promote or dispatch claim.
type racingStore struct {
	storage.Store
	id   string
	once sync.Once
	race func(ctx context.Context, s storage.Store)
}

func (r *racingStore) Get(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := r.Store.Get(ctx, id)
	if err == nil && id == r.id {
		r.once.Do(func() { r.race(ctx, r.Store) })
	}
	return n, err
}

func TestUpdateLosesToConcurrentPromote(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(logx.Nop(), store, nil)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}

	racing := &racingStore{Store: store, id: n.ID, race: func(ctx context.Context, s storage.Store) {
		d, _ := s.Get(ctx, n.ID)
		if err := d.Schedule(time.Now()); err != nil {
			t.Fatal(err)
		}
		if ok, err := s.Update(ctx, d, notification.StatusDraft); err != nil || !ok {
			t.Fatalf("promote underneath failed: %v, %v", ok, err)
		}
	}}
	svc = New(logx.Nop(), racing, nil)

	in := validInput()
	in.Template = "stale edit"
	if _, err := svc.Update(ctx, n.ID, in); !errors.Is(err, ErrNotDraft) {
		t.Fatalf("racing Update = %v, want ErrNotDraft", err)
	}
	stored, _ := store.Get(ctx, n.ID)
	if stored.Status != notification.StatusScheduled || stored.Template == "stale edit" {
		t.Fatalf("stored = %s/%q; stale write leaked", stored.Status, stored.Template)
	}
}

func TestCancelLosesToConcurrentClaim(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(logx.Nop(), store, nil)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Promote(ctx, n.ID); err != nil {
		t.Fatal(err)
	}

	racing := &racingStore{Store: store, id: n.ID, race: func(ctx context.Context, s storage.Store) {
		if _, ok, err := s.Claim(ctx, n.ID, time.Now()); err != nil || !ok {
			t.Fatal("claim underneath failed")
		}
	}}
	svc = New(logx.Nop(), racing, nil)

	if _, err := svc.Cancel(ctx, n.ID); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("racing Cancel = %v, want ErrConflict", err)
	}
	stored, _ := store.Get(ctx, n.ID)
	if stored.Status != notification.StatusSending {
		t.Fatalf("stored Status = %s, want sending (claim wins)", stored.Status)
	}
}

func TestPromoteComputesFireTime(t *testing.T) {
	t.Parallel()
	svc, store, _ := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Promote(ctx, n.ID)
	if err != nil {
		t.Fatalf("Promote error: %v", err)
	}
	if got.Status != notification.StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", got.Status)
	}
	if got.NextFireAt == nil || !got.NextFireAt.After(time.Now()) {
		t.Fatalf("NextFireAt = %v, want future", got.NextFireAt)
	}

	// The transition persisted.
	stored, err := store.Get(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != notification.StatusScheduled {
		t.Fatalf("stored Status = %s", stored.Status)
	}
}

func TestSendNowSchedulesImmediatelyAndEnqueues(t *testing.T) {
	t.Parallel()
	svc, store, disp := newService(t)
	ctx := context.Background()

	in := validInput()
	// The caller's recurrence is ignored; send-now is always one-shot.
	n, err := svc.SendNow(ctx, in)
	if err != nil {
		t.Fatalf("SendNow error: %v", err)
	}
	if n.Recurrence.Kind != notification.RuleOneTime {
		t.Fatalf("Kind = %s, want one_time", n.Recurrence.Kind)
	}
	if n.Status != notification.StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", n.Status)
	}
	if n.NextFireAt == nil || n.NextFireAt.After(time.Now()) {
		t.Fatalf("NextFireAt = %v, want an already-due instant", n.NextFireAt)
	}
	if len(disp.ids) != 1 || disp.ids[0] != n.ID {
		t.Fatalf("dispatcher got %v, want [%s]", disp.ids, n.ID)
	}
	if _, err := store.Get(ctx, n.ID); err != nil {
		t.Fatalf("SendNow did not persist: %v", err)
	}
}

func TestCancelAndDelete(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Promote(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Cancel(ctx, n.ID)
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if got.Status != notification.StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", got.Status)
	}

	if err := svc.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := svc.Get(ctx, n.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestCancelBlockedWhileSending(t *testing.T) {
	t.Parallel()
	svc, store, _ := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Promote(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := store.Claim(ctx, n.ID, time.Now()); err != nil || !ok {
		t.Fatal("claim failed")
	}

	var invalid *notification.InvalidTransitionError
	if _, err := svc.Cancel(ctx, n.ID); !errors.As(err, &invalid) {
		t.Fatalf("Cancel while sending = %v, want InvalidTransitionError", err)
	}
	if err := svc.Delete(ctx, n.ID); !errors.Is(err, ErrNotDeletable) {
		t.Fatalf("Delete while sending = %v, want ErrNotDeletable", err)
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()

	reminder, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}
	promoIn := validInput()
	promoIn.Kind = notification.KindPromotion
	promoIn.Recurrence = notification.RecurrenceRule{Kind: notification.RuleOneTime, At: time.Now().Add(time.Hour)}
	promo, err := svc.Create(ctx, promoIn)
	if err != nil {
		t.Fatal(err)
	}

	all, err := svc.List(ctx, storage.Filter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("List = %d, %v", len(all), err)
	}
	onlyPromo, _ := svc.List(ctx, storage.Filter{Kind: string(notification.KindPromotion)})
	if len(onlyPromo) != 1 || onlyPromo[0].ID != promo.ID {
		t.Fatalf("kind filter = %d", len(onlyPromo))
	}
	daily, _ := svc.List(ctx, storage.Filter{RuleKind: string(notification.RuleDaily)})
	if len(daily) != 1 || daily[0].ID != reminder.ID {
		t.Fatalf("rule filter = %d", len(daily))
	}
}

func TestHistoryReadPath(t *testing.T) {
	t.Parallel()
	svc, store, _ := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}
	a := notification.DeliveryAttempt{
		RecipientID: "u1",
		Outcome:     notification.OutcomeDelivered,
		AttemptedAt: time.Now(),
	}
	if err := store.AppendAttempt(ctx, n.ID, a); err != nil {
		t.Fatal(err)
	}

	hist, err := svc.History(ctx, n.ID)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(hist) != 1 || hist[0].RecipientID != "u1" {
		t.Fatalf("History = %+v", hist)
	}
	if _, err := svc.History(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("History missing = %v, want ErrNotFound", err)
	}
}
