package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const notificationCols = `id, kind, template, audience_kind, within_days, since_days,
	rule_kind, fire_at, time_of_day, timezone, days_of_week, day_of_month,
	status, next_fire_at, last_fire_at, claimed_at, created_by, created_at, updated_at`

func (s *sqliteStore) Create(ctx context.Context, n *notification.Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(`+notificationCols+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		insertArgs(n)...,
	)
	return err
}

// Update is a compare-and-set on status, same shape as Claim: the write only
// lands while the row still holds the status the caller observed.
func (s *sqliteStore) Update(ctx context.Context, n *notification.Notification, expect notification.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET kind=?, template=?, audience_kind=?, within_days=?,
		 since_days=?, rule_kind=?, fire_at=?, time_of_day=?, timezone=?, days_of_week=?,
		 day_of_month=?, status=?, next_fire_at=?, last_fire_at=?, claimed_at=?, created_by=?,
		 created_at=?, updated_at=? WHERE id=? AND status=?`,
		append(insertArgs(n)[1:], n.ID, string(expect))...,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id=?`, n.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*notification.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE notification_id=?`, id)
	return nil
}

func (s *sqliteStore) List(ctx context.Context, f Filter) ([]*notification.Notification, error) {
	q := `SELECT ` + notificationCols + ` FROM notifications`
	var (
		conds []string
		args  []any
	)
	if f.Kind != "" {
		conds = append(conds, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if f.RuleKind != "" {
		conds = append(conds, "rule_kind=?")
		args = append(args, f.RuleKind)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at"
	return s.queryNotifications(ctx, q, args...)
}

func (s *sqliteStore) FindDue(ctx context.Context, now time.Time) ([]*notification.Notification, error) {
	return s.queryNotifications(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE status=? AND next_fire_at IS NOT NULL AND next_fire_at<=?
		 ORDER BY next_fire_at`,
		string(notification.StatusScheduled), now.UnixMilli(),
	)
}

// Claim is a conditional update: it only succeeds while the row is still
// Scheduled, which makes it safe against concurrent worker instances.
func (s *sqliteStore) Claim(ctx context.Context, id string, now time.Time) (*notification.Notification, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status=?, last_fire_at=next_fire_at, next_fire_at=NULL,
		 claimed_at=?, updated_at=? WHERE id=? AND status=?`,
		string(notification.StatusSending), now.UnixMilli(), now.UnixMilli(),
		id, string(notification.StatusScheduled),
	)
	if err != nil {
		return nil, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rows == 0 {
		return nil, false, nil
	}
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (s *sqliteStore) FindStuck(ctx context.Context, cutoff time.Time) ([]*notification.Notification, error) {
	return s.queryNotifications(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE status=? AND claimed_at IS NOT NULL AND claimed_at<?`,
		string(notification.StatusSending), cutoff.UnixMilli(),
	)
}

func (s *sqliteStore) AppendAttempt(ctx context.Context, id string, a notification.DeliveryAttempt) error {
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_attempts(notification_id, recipient_id, rendered, outcome,
		 err, missing_vars, attempted_at, idempotency_key)
		 VALUES(?,?,?,?,?,?,?,?)`,
		id, a.RecipientID, a.RenderedMessage, string(a.Outcome),
		nullStr(a.Error), nullStr(strings.Join(a.MissingVariables, ",")),
		a.AttemptedAt.UnixMilli(), a.IdempotencyKey,
	)
	return err
}

func (s *sqliteStore) History(ctx context.Context, id string) ([]notification.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, rendered, outcome, err, missing_vars, attempted_at, idempotency_key
		 FROM delivery_attempts WHERE notification_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notification.DeliveryAttempt
	for rows.Next() {
		var (
			a       notification.DeliveryAttempt
			outcome string
			errStr  sql.NullString
			missing sql.NullString
			atMS    int64
		)
		if err := rows.Scan(&a.RecipientID, &a.RenderedMessage, &outcome, &errStr, &missing, &atMS, &a.IdempotencyKey); err != nil {
			return nil, err
		}
		a.Outcome = notification.Outcome(outcome)
		a.Error = errStr.String
		if missing.String != "" {
			a.MissingVariables = strings.Split(missing.String, ",")
		}
		a.AttemptedAt = time.UnixMilli(atMS)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func (s *sqliteStore) queryNotifications(ctx context.Context, q string, args ...any) ([]*notification.Notification, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var (
		n          notification.Notification
		kind       string
		audKind    string
		ruleKind   string
		status     string
		fireAt     sql.NullInt64
		daysCSV    string
		nextFireAt sql.NullInt64
		lastFireAt sql.NullInt64
		claimedAt  sql.NullInt64
		createdMS  int64
		updatedMS  int64
	)
	err := row.Scan(
		&n.ID, &kind, &n.Template, &audKind, &n.Audience.WithinDays, &n.Audience.SinceDays,
		&ruleKind, &fireAt, &n.Recurrence.TimeOfDay, &n.Recurrence.Timezone, &daysCSV, &n.Recurrence.DayOfMonth,
		&status, &nextFireAt, &lastFireAt, &claimedAt, &n.CreatedBy, &createdMS, &updatedMS,
	)
	if err != nil {
		return nil, err
	}
	n.Kind = notification.Kind(kind)
	n.Audience.Kind = notification.AudienceKind(audKind)
	n.Recurrence.Kind = notification.RuleKind(ruleKind)
	n.Status = notification.Status(status)
	if fireAt.Valid {
		n.Recurrence.At = time.UnixMilli(fireAt.Int64)
	}
	if daysCSV != "" {
		for _, part := range strings.Split(daysCSV, ",") {
			d, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("corrupt days_of_week %q: %w", daysCSV, err)
			}
			n.Recurrence.DaysOfWeek = append(n.Recurrence.DaysOfWeek, time.Weekday(d))
		}
	}
	if nextFireAt.Valid {
		t := time.UnixMilli(nextFireAt.Int64)
		n.NextFireAt = &t
	}
	if lastFireAt.Valid {
		t := time.UnixMilli(lastFireAt.Int64)
		n.LastFireAt = &t
	}
	if claimedAt.Valid {
		t := time.UnixMilli(claimedAt.Int64)
		n.ClaimedAt = &t
	}
	n.CreatedAt = time.UnixMilli(createdMS)
	n.UpdatedAt = time.UnixMilli(updatedMS)
	return &n, nil
}

func insertArgs(n *notification.Notification) []any {
	var fireAt any
	if !n.Recurrence.At.IsZero() {
		fireAt = n.Recurrence.At.UnixMilli()
	}
	var nextFireAt any
	if n.NextFireAt != nil {
		nextFireAt = n.NextFireAt.UnixMilli()
	}
	var lastFireAt any
	if n.LastFireAt != nil {
		lastFireAt = n.LastFireAt.UnixMilli()
	}
	var claimedAt any
	if n.ClaimedAt != nil {
		claimedAt = n.ClaimedAt.UnixMilli()
	}
	days := make([]string, 0, len(n.Recurrence.DaysOfWeek))
	for _, d := range n.Recurrence.DaysOfWeek {
		days = append(days, strconv.Itoa(int(d)))
	}
	return []any{
		n.ID, string(n.Kind), n.Template, string(n.Audience.Kind),
		n.Audience.WithinDays, n.Audience.SinceDays,
		string(n.Recurrence.Kind), fireAt, n.Recurrence.TimeOfDay, n.Recurrence.Timezone,
		strings.Join(days, ","), n.Recurrence.DayOfMonth,
		string(n.Status), nextFireAt, lastFireAt, claimedAt, n.CreatedBy,
		n.CreatedAt.UnixMilli(), n.UpdatedAt.UnixMilli(),
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
