package notification

import (
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Message templates use {name} placeholders drawn from a closed variable set.
// Rendering never fails: a placeholder without a supplied value stays in the
// output verbatim and is reported, and the caller decides whether a partially
// rendered message is still deliverable (policy: deliver, but flag it).

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// KnownVariables is the closed set of template variables this system fills.
var KnownVariables = map[string]struct{}{
	"user_name":      {},
	"streak_count":   {},
	"last_active":    {},
	"next_milestone": {},
}

// RenderResult carries the rendered text plus the placeholder names that had
// no supplied value.
type RenderResult struct {
	Text    string
	Missing []string
}

func (r RenderResult) Complete() bool { return len(r.Missing) == 0 }

// Render substitutes vars into the template's {name} placeholders.
func Render(template string, vars map[string]string) RenderResult {
	missing := map[string]struct{}{}
	text := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing[name] = struct{}{}
		return m
	})

	res := RenderResult{Text: text}
	if len(missing) > 0 {
		res.Missing = make([]string, 0, len(missing))
		for name := range missing {
			res.Missing = append(res.Missing, name)
		}
		sort.Strings(res.Missing)
	}
	return res
}

// VariablesFor builds the per-recipient variable bag from a directory record.
// Absent values are simply left out so Render reports them.
func VariablesFor(u User) map[string]string {
	vars := map[string]string{
		"user_name":    u.Name,
		"streak_count": strconv.Itoa(u.StreakCount),
	}
	if !u.LastActiveAt.IsZero() {
		vars["last_active"] = u.LastActiveAt.Format(time.DateOnly)
	}
	if u.NextMilestone != "" {
		vars["next_milestone"] = u.NextMilestone
	}
	return vars
}
