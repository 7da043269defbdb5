package notification

import (
	"reflect"
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	t.Parallel()
	vars := map[string]string{
		"user_name":    "Ana",
		"streak_count": "12",
	}

	tests := []struct {
		name        string
		template    string
		want        string
		wantMissing []string
	}{
		{
			name:     "all variables supplied",
			template: "Hi {user_name}, you're on a {streak_count} day streak!",
			want:     "Hi Ana, you're on a 12 day streak!",
		},
		{
			name:        "missing variable stays verbatim",
			template:    "Hi {user_name}, next up: {next_milestone}",
			want:        "Hi Ana, next up: {next_milestone}",
			wantMissing: []string{"next_milestone"},
		},
		{
			name:        "unknown placeholder reported too",
			template:    "{frobnicate} {user_name}",
			want:        "{frobnicate} Ana",
			wantMissing: []string{"frobnicate"},
		},
		{
			name:        "duplicate missing reported once, sorted",
			template:    "{z_var} {a_var} {z_var}",
			want:        "{z_var} {a_var} {z_var}",
			wantMissing: []string{"a_var", "z_var"},
		},
		{
			name:     "no placeholders",
			template: "plain text",
			want:     "plain text",
		},
		{
			name:     "repeated placeholder substituted everywhere",
			template: "{user_name} {user_name}",
			want:     "Ana Ana",
		},
		{
			name:     "braces without a valid name left alone",
			template: "set {1bad} and {} aside",
			want:     "set {1bad} and {} aside",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.template, vars)
			if got.Text != tt.want {
				t.Fatalf("Text = %q, want %q", got.Text, tt.want)
			}
			if !reflect.DeepEqual(got.Missing, tt.wantMissing) {
				t.Fatalf("Missing = %v, want %v", got.Missing, tt.wantMissing)
			}
			if got.Complete() != (len(tt.wantMissing) == 0) {
				t.Fatalf("Complete() = %v inconsistent with Missing", got.Complete())
			}
		})
	}
}

func TestVariablesFor(t *testing.T) {
	t.Parallel()
	u := User{
		Name:          "Ben",
		StreakCount:   7,
		LastActiveAt:  time.Date(2025, 6, 1, 15, 4, 0, 0, time.UTC),
		NextMilestone: "10 day streak",
	}
	vars := VariablesFor(u)
	if vars["user_name"] != "Ben" {
		t.Fatalf("user_name = %q", vars["user_name"])
	}
	if vars["streak_count"] != "7" {
		t.Fatalf("streak_count = %q", vars["streak_count"])
	}
	if vars["last_active"] != "2025-06-01" {
		t.Fatalf("last_active = %q", vars["last_active"])
	}
	if vars["next_milestone"] != "10 day streak" {
		t.Fatalf("next_milestone = %q", vars["next_milestone"])
	}

	// Absent optional values are omitted so Render flags them.
	sparse := VariablesFor(User{Name: "Cy"})
	if _, ok := sparse["last_active"]; ok {
		t.Fatal("zero LastActiveAt should not produce last_active")
	}
	if _, ok := sparse["next_milestone"]; ok {
		t.Fatal("empty NextMilestone should not produce next_milestone")
	}

	for name := range vars {
		if _, ok := KnownVariables[name]; !ok {
			t.Fatalf("VariablesFor produced unknown variable %q", name)
		}
	}
}
