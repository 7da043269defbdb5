package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

// Store is the persistence API of the engine.
//
// Claim is the sole mutual-exclusion point of the dispatch pipeline: it
// atomically moves a still-Scheduled notification to Sending, so two worker
// units can never process the same fire cycle concurrently. Every other
// status write goes through the compare-and-set Update, so a stale view of
// a notification can never clobber a transition that happened underneath.
type Store interface {
	Create(ctx context.Context, n *notification.Notification) error
	Get(ctx context.Context, id string) (*notification.Notification, error)

	// Update persists n only while the stored status still equals expect.
	// applied=false with a nil error means the state moved underneath (a
	// concurrent claim, settle or sweep won) and the caller's copy is stale.
	Update(ctx context.Context, n *notification.Notification, expect notification.Status) (applied bool, err error)

	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f Filter) ([]*notification.Notification, error)

	// FindDue returns Scheduled notifications whose fire instant is at or
	// before now.
	FindDue(ctx context.Context, now time.Time) ([]*notification.Notification, error)

	// Claim attempts the Scheduled -> Sending transition. It reports
	// claimed=false (no error) when another worker already took the
	// notification or its status changed underneath.
	Claim(ctx context.Context, id string, now time.Time) (n *notification.Notification, claimed bool, err error)

	// FindStuck returns Sending notifications claimed before the given
	// cutoff; the sweeper fails them so a crash mid-cycle cannot wedge a
	// schedule forever.
	FindStuck(ctx context.Context, cutoff time.Time) ([]*notification.Notification, error)

	// AppendAttempt adds one delivery record to the append-only history.
	AppendAttempt(ctx context.Context, id string, a notification.DeliveryAttempt) error
	History(ctx context.Context, id string) ([]notification.DeliveryAttempt, error)

	// Dedup guards re-delivery within one fire cycle (at-least-once with
	// idempotency keys).
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
