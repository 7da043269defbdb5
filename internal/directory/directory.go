// Package directory provides UserDirectory implementations. The production
// deployment is expected to plug in the fitness backend's user service; the
// static directory here serves demos and tests.
package directory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/Smr002/goldfit-notify/internal/notification"
)

// Static is a fixed in-memory user directory.
type Static struct {
	mu    sync.RWMutex
	users []notification.User
}

func NewStatic(users []notification.User) *Static {
	return &Static{users: append([]notification.User(nil), users...)}
}

func (d *Static) ListUsers(_ context.Context) ([]notification.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]notification.User(nil), d.users...), nil
}

// Replace swaps the user set (used when the seed file is reloaded).
func (d *Static) Replace(users []notification.User) {
	d.mu.Lock()
	d.users = append([]notification.User(nil), users...)
	d.mu.Unlock()
}

type seedUser struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Premium       bool      `yaml:"premium"`
	LastActiveAt  time.Time `yaml:"last_active_at"`
	CreatedAt     time.Time `yaml:"created_at"`
	StreakCount   int       `yaml:"streak_count"`
	NextMilestone string    `yaml:"next_milestone"`
	ChatID        int64     `yaml:"chat_id"`
}

// LoadStatic reads a YAML seed file of users.
func LoadStatic(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	var seed struct {
		Users []seedUser `yaml:"users"`
	}
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("parse directory seed %q: %w", path, err)
	}

	users := make([]notification.User, 0, len(seed.Users))
	for i, su := range seed.Users {
		if su.ID == "" {
			return nil, fmt.Errorf("directory seed %q: user #%d has no id", path, i)
		}
		users = append(users, notification.User{
			ID:            su.ID,
			Name:          su.Name,
			Premium:       su.Premium,
			LastActiveAt:  su.LastActiveAt,
			CreatedAt:     su.CreatedAt,
			StreakCount:   su.StreakCount,
			NextMilestone: su.NextMilestone,
			ChatID:        su.ChatID,
		})
	}
	return NewStatic(users), nil
}
