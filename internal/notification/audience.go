package notification

import (
	"context"
	"fmt"
	"time"
)

// AudienceKind tags the audience variant.
type AudienceKind string

const (
	AudienceAllUsers      AudienceKind = "all_users"
	AudiencePremiumUsers  AudienceKind = "premium_users"
	AudienceActiveUsers   AudienceKind = "active_users"
	AudienceInactiveUsers AudienceKind = "inactive_users"
	AudienceNewUsers      AudienceKind = "new_users"
)

// Audience selects a subset of users as recipients.
//
// WithinDays applies to active_users and new_users; SinceDays to
// inactive_users. The two activity segments over the same span are disjoint:
// active means lastActiveAt is at most N days old, inactive means strictly
// older.
type Audience struct {
	Kind       AudienceKind
	WithinDays int
	SinceDays  int
}

func (a Audience) Validate() error {
	switch a.Kind {
	case AudienceAllUsers, AudiencePremiumUsers:
		return nil
	case AudienceActiveUsers, AudienceNewUsers:
		if a.WithinDays <= 0 {
			return fmt.Errorf("audience %s: within_days must be positive", a.Kind)
		}
		return nil
	case AudienceInactiveUsers:
		if a.SinceDays <= 0 {
			return fmt.Errorf("audience %s: since_days must be positive", a.Kind)
		}
		return nil
	}
	return fmt.Errorf("unknown audience kind %q", string(a.Kind))
}

// User is a directory record. The directory lists active accounts only;
// deactivated accounts never reach audience resolution.
type User struct {
	ID            string
	Name          string
	Premium       bool
	LastActiveAt  time.Time
	CreatedAt     time.Time
	StreakCount   int
	NextMilestone string
	// ChatID routes push delivery for transports that address recipients
	// by chat rather than by directory ID.
	ChatID int64
}

// UserDirectory is the external user lookup this engine consumes.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// Resolve expands an audience into concrete recipients.
//
// An empty result is not an error: the dispatch cycle records a
// skipped_no_recipients attempt and the schedule still advances. A failed
// directory lookup is a hard error wrapping ErrDirectoryUnavailable and
// fails the whole cycle.
func Resolve(ctx context.Context, a Audience, dir UserDirectory, now time.Time) ([]User, error) {
	users, err := dir.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	out := make([]User, 0, len(users))
	for _, u := range users {
		if matches(a, u, now) {
			out = append(out, u)
		}
	}
	return out, nil
}

func matches(a Audience, u User, now time.Time) bool {
	switch a.Kind {
	case AudienceAllUsers:
		return true
	case AudiencePremiumUsers:
		return u.Premium
	case AudienceActiveUsers:
		return now.Sub(u.LastActiveAt) <= daySpan(a.WithinDays)
	case AudienceInactiveUsers:
		return now.Sub(u.LastActiveAt) > daySpan(a.SinceDays)
	case AudienceNewUsers:
		return now.Sub(u.CreatedAt) <= daySpan(a.WithinDays)
	}
	return false
}

func daySpan(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
