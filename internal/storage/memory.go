package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Smr002/goldfit-notify/internal/notification"
)

// memoryStore keeps everything in process memory. It honors the same claim
// semantics as the sqlite backend (single mutex around the conditional
// status check) so concurrency tests stay meaningful.
type memoryStore struct {
	mu       sync.Mutex
	items    map[string]*notification.Notification
	attempts map[string][]notification.DeliveryAttempt
	dedup    map[string]time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		items:    map[string]*notification.Notification{},
		attempts: map[string][]notification.DeliveryAttempt{},
		dedup:    map[string]time.Time{},
	}
}

func (s *memoryStore) Create(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[n.ID] = n.Clone()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (s *memoryStore) Update(_ context.Context, n *notification.Notification, expect notification.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[n.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Status != expect {
		return false, nil
	}
	s.items[n.ID] = n.Clone()
	return true, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	delete(s.attempts, id)
	return nil
}

func (s *memoryStore) List(_ context.Context, f Filter) ([]*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*notification.Notification, 0, len(s.items))
	for _, n := range s.items {
		if f.Kind != "" && string(n.Kind) != f.Kind {
			continue
		}
		if f.Status != "" && string(n.Status) != f.Status {
			continue
		}
		if f.RuleKind != "" && string(n.Recurrence.Kind) != f.RuleKind {
			continue
		}
		out = append(out, n.Clone())
	}
	return out, nil
}

func (s *memoryStore) FindDue(_ context.Context, now time.Time) ([]*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notification.Notification
	for _, n := range s.items {
		if n.Status == notification.StatusScheduled && n.NextFireAt != nil && !n.NextFireAt.After(now) {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) Claim(_ context.Context, id string, now time.Time) (*notification.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if n.Status != notification.StatusScheduled {
		return nil, false, nil
	}
	if err := n.BeginSending(now); err != nil {
		return nil, false, nil
	}
	return n.Clone(), true, nil
}

func (s *memoryStore) FindStuck(_ context.Context, cutoff time.Time) ([]*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notification.Notification
	for _, n := range s.items {
		if n.Status == notification.StatusSending && n.ClaimedAt != nil && n.ClaimedAt.Before(cutoff) {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) AppendAttempt(_ context.Context, id string, a notification.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	s.attempts[id] = append(s.attempts[id], a)
	return nil
}

func (s *memoryStore) History(_ context.Context, id string) ([]notification.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]notification.DeliveryAttempt(nil), s.attempts[id]...), nil
}

func (s *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until
	return nil
}

func (s *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *memoryStore) Close() error { return nil }
