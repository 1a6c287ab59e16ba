package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agrovista/agromonitor/pkg/model"

	_ "modernc.org/sqlite"
)

// severityRank orders the severity enum inside SQL queries.
const severityRank = `CASE severity WHEN 'critica' THEN 3 WHEN 'alta' THEN 2 WHEN 'media' THEN 1 ELSE 0 END`

// SQLite implements the Storage interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) PutPlannedResource(ctx context.Context, res *model.PlannedResource) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO planned_resources (id, project_id, phase_id, resource_type_id, name, unit, planned_quantity, unit_cost, start_date, end_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   project_id = excluded.project_id,
		   phase_id = excluded.phase_id,
		   resource_type_id = excluded.resource_type_id,
		   name = excluded.name,
		   unit = excluded.unit,
		   planned_quantity = excluded.planned_quantity,
		   unit_cost = excluded.unit_cost,
		   start_date = excluded.start_date,
		   end_date = excluded.end_date`,
		res.ID, res.ProjectID, res.PhaseID, res.ResourceTypeID, res.Name, res.Unit,
		res.PlannedQuantity, res.UnitCost, nullTime(res.StartDate), nullTime(res.EndDate), res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put planned resource: %w", err)
	}
	return nil
}

func (s *SQLite) GetPlannedResource(ctx context.Context, id string) (*model.PlannedResource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, phase_id, resource_type_id, name, unit, planned_quantity, unit_cost, start_date, end_date, created_at
		 FROM planned_resources WHERE id = ?`, id)

	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get planned resource: %w", err)
	}
	return res, nil
}

func (s *SQLite) ListPlannedResources(ctx context.Context, projectID string) ([]model.PlannedResource, error) {
	query := `SELECT id, project_id, phase_id, resource_type_id, name, unit, planned_quantity, unit_cost, start_date, end_date, created_at
		 FROM planned_resources`
	var args []any
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list planned resources: %w", err)
	}
	defer rows.Close()

	var resources []model.PlannedResource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan planned resource: %w", err)
		}
		resources = append(resources, *res)
	}
	return resources, rows.Err()
}

// AppendConsumption runs the overconsumption check and the insert in a single
// transaction. SQLite's writer lock serializes concurrent recorders, so two
// writers cannot both observe a prior total below the limit and both commit.
func (s *SQLite) AppendConsumption(ctx context.Context, record *model.ConsumptionRecord, limit float64) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin consumption tx: %w", err)
	}
	defer tx.Rollback()

	var prior float64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM consumption_records WHERE planned_resource_id = ?`,
		record.PlannedResourceID,
	).Scan(&prior)
	if err != nil {
		return fmt.Errorf("sum prior consumption: %w", err)
	}

	newTotal := prior + record.Quantity
	if newTotal > limit {
		return &model.OverconsumptionError{Prior: prior, Attempted: record.Quantity, Limit: limit}
	}
	if newTotal < 0 {
		return &model.ValidationError{Field: "quantity", Message: "adjustment would make total consumption negative"}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO consumption_records (id, planned_resource_id, quantity, consumed_on, note, recorded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.PlannedResourceID, record.Quantity, record.Date,
		record.Note, record.RecordedBy, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consumption record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consumption: %w", err)
	}
	return nil
}

func (s *SQLite) ConsumedTotal(ctx context.Context, plannedResourceID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM consumption_records WHERE planned_resource_id = ?`,
		plannedResourceID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum consumption: %w", err)
	}
	return total, nil
}

func (s *SQLite) ListConsumption(ctx context.Context, filter model.ConsumptionFilter) ([]model.ConsumptionRecord, error) {
	query := `SELECT id, planned_resource_id, quantity, consumed_on, note, recorded_by, created_at FROM consumption_records`

	var conditions []string
	var args []any
	if filter.PlannedResourceID != "" {
		conditions = append(conditions, "planned_resource_id = ?")
		args = append(args, filter.PlannedResourceID)
	}
	if filter.RecordedBy != "" {
		conditions = append(conditions, "recorded_by = ?")
		args = append(args, filter.RecordedBy)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "consumed_on >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "consumed_on < ?")
		args = append(args, filter.Until)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY consumed_on DESC, created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consumption: %w", err)
	}
	defer rows.Close()

	var records []model.ConsumptionRecord
	for rows.Next() {
		var r model.ConsumptionRecord
		if err := rows.Scan(&r.ID, &r.PlannedResourceID, &r.Quantity, &r.Date, &r.Note, &r.RecordedBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consumption row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLite) UpsertThreshold(ctx context.Context, t *model.Threshold) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thresholds (id, resource_type_id, project_id, kind, percent, days, min_quantity, severity, created_by, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(resource_type_id, project_id, kind) DO UPDATE SET
		   percent = excluded.percent,
		   days = excluded.days,
		   min_quantity = excluded.min_quantity,
		   severity = excluded.severity,
		   active = excluded.active,
		   updated_at = excluded.updated_at`,
		t.ID, t.ResourceTypeID, t.ProjectID, t.Kind, t.Percent, t.Days, t.MinQuantity,
		t.Severity, t.CreatedBy, t.Active, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}

	// On conflict the stored row keeps its original id, created_by and
	// created_at. Read them back so the caller sees what is persisted.
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_by, created_at FROM thresholds WHERE resource_type_id = ? AND project_id = ? AND kind = ?`,
		t.ResourceTypeID, t.ProjectID, t.Kind,
	)
	if err := row.Scan(&t.ID, &t.CreatedBy, &t.CreatedAt); err != nil {
		return fmt.Errorf("read threshold after upsert: %w", err)
	}
	return nil
}

func (s *SQLite) ListThresholds(ctx context.Context, filter model.ThresholdFilter) ([]model.Threshold, error) {
	query := `SELECT id, resource_type_id, project_id, kind, percent, days, min_quantity, severity, created_by, active, created_at, updated_at FROM thresholds`

	var conditions []string
	var args []any
	if !filter.IncludeInactive {
		conditions = append(conditions, "active = 1")
	}
	if filter.ProjectID != "" {
		conditions = append(conditions, "(project_id = ? OR project_id = '')")
		args = append(args, filter.ProjectID)
	}
	if filter.ResourceTypeID != "" {
		conditions = append(conditions, "(resource_type_id = ? OR resource_type_id = '')")
		args = append(args, filter.ResourceTypeID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY project_id DESC, resource_type_id, kind"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []model.Threshold
	for rows.Next() {
		var t model.Threshold
		var severity string
		if err := rows.Scan(&t.ID, &t.ResourceTypeID, &t.ProjectID, &t.Kind, &t.Percent, &t.Days,
			&t.MinQuantity, &severity, &t.CreatedBy, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan threshold row: %w", err)
		}
		t.Severity = model.Severity(severity)
		thresholds = append(thresholds, t)
	}
	return thresholds, rows.Err()
}

// InsertAlert checks for an existing active alert and inserts inside one
// transaction. A partial unique index on active alerts backs the check, so a
// racing insert surfaces as a constraint violation rather than a duplicate.
func (s *SQLite) InsertAlert(ctx context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.GeneratedAt.IsZero() {
		alert.GeneratedAt = time.Now().UTC()
	}
	if alert.State == "" {
		alert.State = model.StateActive
	}

	contextJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return fmt.Errorf("marshal alert context: %w", err)
	}
	if alert.Context == nil {
		contextJSON = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert tx: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE project_id = ? AND planned_resource_id = ? AND kind = ? AND state = 'activa'`,
		alert.ProjectID, alert.PlannedResourceID, alert.Kind,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check active alert: %w", err)
	}
	if existing > 0 {
		return model.ErrDuplicateAlert
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts (id, project_id, planned_resource_id, kind, severity, message, context, state, note, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.ProjectID, alert.PlannedResourceID, alert.Kind, alert.Severity,
		alert.Message, string(contextJSON), alert.State, alert.Note, alert.GeneratedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateAlert
		}
		return fmt.Errorf("insert alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateAlert
		}
		return fmt.Errorf("commit alert: %w", err)
	}
	return nil
}

func (s *SQLite) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, planned_resource_id, kind, severity, message, context, state, note, generated_at, resolved_at, resolved_by
		 FROM alerts WHERE id = ?`, id)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

func (s *SQLite) FindActiveAlert(ctx context.Context, projectID, plannedResourceID string, kind model.AlertKind) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, planned_resource_id, kind, severity, message, context, state, note, generated_at, resolved_at, resolved_by
		 FROM alerts WHERE project_id = ? AND planned_resource_id = ? AND kind = ? AND state = 'activa'`,
		projectID, plannedResourceID, kind)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}
	return alert, nil
}

func (s *SQLite) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, project_id, planned_resource_id, kind, severity, message, context, state, note, generated_at, resolved_at, resolved_by FROM alerts`

	state := filter.State
	if state == "" {
		state = model.StateActive
	}

	var conditions []string
	var args []any
	if state != model.StateAll {
		conditions = append(conditions, "state = ?")
		args = append(args, state)
	}
	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + severityRank + " DESC, generated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

func (s *SQLite) UpdateAlertState(ctx context.Context, alert *model.Alert, fromState model.AlertState) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET state = ?, note = ?, resolved_at = ?, resolved_by = ? WHERE id = ? AND state = ?`,
		alert.State, alert.Note, nullTime(alert.ResolvedAt), alert.ResolvedBy, alert.ID, fromState,
	)
	if err != nil {
		return false, fmt.Errorf("update alert state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLite) EnsurePreference(ctx context.Context, userID string) (*model.NotificationPreference, error) {
	defaults := model.DefaultPreference(userID)
	kindsJSON, err := json.Marshal(defaults.Kinds)
	if err != nil {
		return nil, fmt.Errorf("marshal default kinds: %w", err)
	}

	// INSERT OR IGNORE keeps the first-read materialization idempotent.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notification_preferences (user_id, platform_alerts, email_alerts, digest_frequency, kinds, preferred_time, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, defaults.PlatformAlerts, defaults.EmailAlerts, defaults.DigestFrequency,
		string(kindsJSON), defaults.PreferredTime, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure preference: %w", err)
	}

	return s.getPreference(ctx, userID)
}

func (s *SQLite) getPreference(ctx context.Context, userID string) (*model.NotificationPreference, error) {
	var p model.NotificationPreference
	var kindsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, platform_alerts, email_alerts, digest_frequency, kinds, preferred_time, updated_at
		 FROM notification_preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.PlatformAlerts, &p.EmailAlerts, &p.DigestFrequency, &kindsJSON, &p.PreferredTime, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPreferenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}

	if err := json.Unmarshal([]byte(kindsJSON), &p.Kinds); err != nil {
		return nil, fmt.Errorf("decode preference kinds: %w", err)
	}
	return &p, nil
}

func (s *SQLite) SavePreference(ctx context.Context, pref *model.NotificationPreference) error {
	kindsJSON, err := json.Marshal(pref.Kinds)
	if err != nil {
		return fmt.Errorf("marshal preference kinds: %w", err)
	}
	pref.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, platform_alerts, email_alerts, digest_frequency, kinds, preferred_time, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   platform_alerts = excluded.platform_alerts,
		   email_alerts = excluded.email_alerts,
		   digest_frequency = excluded.digest_frequency,
		   kinds = excluded.kinds,
		   preferred_time = excluded.preferred_time,
		   updated_at = excluded.updated_at`,
		pref.UserID, pref.PlatformAlerts, pref.EmailAlerts, pref.DigestFrequency,
		string(kindsJSON), pref.PreferredTime, pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*model.PlannedResource, error) {
	var res model.PlannedResource
	var start, end sql.NullTime
	err := row.Scan(&res.ID, &res.ProjectID, &res.PhaseID, &res.ResourceTypeID, &res.Name, &res.Unit,
		&res.PlannedQuantity, &res.UnitCost, &start, &end, &res.CreatedAt)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		t := start.Time
		res.StartDate = &t
	}
	if end.Valid {
		t := end.Time
		res.EndDate = &t
	}
	return &res, nil
}

func scanAlert(row scanner) (*model.Alert, error) {
	var a model.Alert
	var contextJSON string
	var resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.ProjectID, &a.PlannedResourceID, &a.Kind, &a.Severity, &a.Message,
		&contextJSON, &a.State, &a.Note, &a.GeneratedAt, &resolvedAt, &a.ResolvedBy)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if contextJSON != "" && contextJSON != "{}" {
		if err := json.Unmarshal([]byte(contextJSON), &a.Context); err != nil {
			return nil, fmt.Errorf("decode alert context: %w", err)
		}
	}
	return &a, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
