package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/agentwave/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens the database at dbPath, a file URI such as
// "file:/path/to/agentwave.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow rather than Exec.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}
	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Templates ---

func (s *LibSQLStore) SaveTemplate(ctx context.Context, tpl *PlanTemplate) error {
	if tpl.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "template name is required")
	}
	def, err := json.Marshal(tpl.Definition)
	if err != nil {
		return fmt.Errorf("marshal template definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin template save", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM plan_templates WHERE name = ?`, tpl.Name,
	).Scan(&latest); err != nil {
		return storeError("read template version", err)
	}

	version := latest + 1
	createdAt := timeOrNow(tpl.CreatedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plan_templates (name, version, description, definition, created_at) VALUES (?, ?, ?, ?, ?)`,
		tpl.Name, version, nullStr(tpl.Description), string(def), createdAt,
	); err != nil {
		return storeError("insert template", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit template", err)
	}

	tpl.Version = version
	tpl.CreatedAt = createdAt
	return nil
}

func (s *LibSQLStore) GetTemplate(ctx context.Context, name string, version int) (*PlanTemplate, error) {
	query := `SELECT name, version, description, definition, created_at FROM plan_templates WHERE name = ?`
	args := []any{name}
	if version > 0 {
		query += ` AND version = ?`
		args = append(args, version)
	} else {
		query += ` ORDER BY version DESC LIMIT 1`
	}

	t, err := scanTemplate(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		id := name
		if version > 0 {
			id = fmt.Sprintf("%s@%d", name, version)
		}
		return nil, storeNotFound("template", id)
	}
	return t, err
}

func (s *LibSQLStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*PlanTemplate, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "t.name = ?")
		args = append(args, filter.Name)
	}
	if !filter.AllVersions {
		where = append(where, "t.version = (SELECT MAX(version) FROM plan_templates WHERE name = t.name)")
	}

	query := `SELECT t.name, t.version, t.description, t.definition, t.created_at FROM plan_templates t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.name, t.version DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list templates", err)
	}
	defer rows.Close()

	var out []*PlanTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate removes every version of name.
func (s *LibSQLStore) DeleteTemplate(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plan_templates WHERE name = ?`, name)
	if err != nil {
		return storeError("delete template", err)
	}
	return checkRowsAffected(res, "template", name)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*PlanTemplate, error) {
	t := &PlanTemplate{}
	var desc sql.NullString
	var defJSON string
	if err := row.Scan(&t.Name, &t.Version, &desc, &defJSON, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Description = desc.String
	if err := json.Unmarshal([]byte(defJSON), &t.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal template definition: %w", err)
	}
	return t, nil
}

// --- Thresholds ---

func (s *LibSQLStore) SetThreshold(ctx context.Context, target string, threshold float64) error {
	if target == "" {
		return schema.NewError(schema.ErrCodeValidation, "threshold target is required")
	}
	if threshold < 0 || threshold > 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "threshold %v outside [0, 1]", threshold)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threshold_overrides (target, threshold, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(target) DO UPDATE SET threshold=excluded.threshold, updated_at=excluded.updated_at`,
		target, threshold, time.Now().UTC(),
	)
	if err != nil {
		return storeError("set threshold", err)
	}
	return nil
}

func (s *LibSQLStore) DeleteThreshold(ctx context.Context, target string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threshold_overrides WHERE target = ?`, target)
	if err != nil {
		return storeError("delete threshold", err)
	}
	return checkRowsAffected(res, "threshold", target)
}

func (s *LibSQLStore) ListThresholds(ctx context.Context) ([]*ThresholdOverride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target, threshold, updated_at FROM threshold_overrides ORDER BY target`)
	if err != nil {
		return nil, storeError("list thresholds", err)
	}
	defer rows.Close()

	var out []*ThresholdOverride
	for rows.Next() {
		o := &ThresholdOverride{}
		if err := rows.Scan(&o.Target, &o.Threshold, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sch *Schedule) error {
	session, err := nullableMap(sch.Session)
	if err != nil {
		return fmt.Errorf("marshal schedule session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, template_name, template_version, cron_expression, session, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.TemplateName, sch.TemplateVersion, sch.CronExpression, session,
		boolToInt(sch.Enabled), nullTime(sch.LastRunAt), nullTime(sch.NextRunAt),
		nullStr(sch.LastRunStatus), timeOrNow(sch.CreatedAt),
	)
	if err != nil {
		return storeError("create schedule", err)
	}
	return nil
}

const scheduleColumns = `id, template_name, template_version, cron_expression, session, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sch, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("schedule", id)
	}
	return sch, err
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storeError("update schedule", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	var args []any
	if filter.Enabled != nil {
		query += ` WHERE enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list schedules", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return storeError("delete schedule", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	sch := &Schedule{}
	var (
		session, status  sql.NullString
		enabled          int64
		lastRun, nextRun sql.NullTime
	)
	if err := row.Scan(&sch.ID, &sch.TemplateName, &sch.TemplateVersion, &sch.CronExpression,
		&session, &enabled, &lastRun, &nextRun, &status, &sch.CreatedAt); err != nil {
		return nil, err
	}
	sch.Enabled = enabled != 0
	sch.LastRunStatus = status.String
	if lastRun.Valid {
		sch.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sch.NextRunAt = &nextRun.Time
	}
	if session.Valid && session.String != "" {
		if err := json.Unmarshal([]byte(session.String), &sch.Session); err != nil {
			return nil, fmt.Errorf("unmarshal schedule session: %w", err)
		}
	}
	return sch, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
