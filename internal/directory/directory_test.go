package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Smr002/goldfit-notify/internal/notification"
)

const seedYAML = `users:
  - id: u-1
    name: Ana
    premium: true
    last_active_at: 2025-06-01T10:00:00Z
    created_at: 2024-01-15T00:00:00Z
    streak_count: 12
    next_milestone: "30 day streak"
    chat_id: 100200300
  - id: u-2
    name: Ben
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadStatic(t *testing.T) {
	t.Parallel()
	d, err := LoadStatic(writeSeed(t, seedYAML))
	if err != nil {
		t.Fatalf("LoadStatic error: %v", err)
	}
	users, err := d.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}
	ana := users[0]
	if ana.ID != "u-1" || !ana.Premium || ana.StreakCount != 12 || ana.ChatID != 100200300 {
		t.Fatalf("unexpected user: %+v", ana)
	}
	if ana.NextMilestone != "30 day streak" {
		t.Fatalf("NextMilestone = %q", ana.NextMilestone)
	}
	if users[1].ID != "u-2" || users[1].Premium {
		t.Fatalf("unexpected user: %+v", users[1])
	}
}

func TestLoadStaticRejectsMissingID(t *testing.T) {
	t.Parallel()
	if _, err := LoadStatic(writeSeed(t, "users:\n  - name: NoID\n")); err == nil {
		t.Fatal("expected error for user without id")
	}
}

func TestLoadStaticMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadStatic(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReplaceIsolation(t *testing.T) {
	t.Parallel()
	d := NewStatic([]notification.User{{ID: "a"}})
	got, _ := d.ListUsers(context.Background())
	got[0].ID = "tampered"

	again, _ := d.ListUsers(context.Background())
	if again[0].ID != "a" {
		t.Fatal("ListUsers returned shared slice")
	}

	d.Replace([]notification.User{{ID: "b"}, {ID: "c"}})
	after, _ := d.ListUsers(context.Background())
	if len(after) != 2 || after[0].ID != "b" {
		t.Fatalf("Replace result: %+v", after)
	}
}
