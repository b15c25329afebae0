package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rekenwolk/internal/domain"
)

// RoleExecutor is the only worker role in use.
const RoleExecutor = "executor"

// InsertTask stores a new executor task. Project and action are mandatory.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.ProjectID == "" {
		return errors.New("task project_id required")
	}
	if t.Action == "" {
		return errors.New("task action required")
	}
	if t.Status == "" {
		t.Status = "open"
	}
	if t.AssignedTo == "" {
		t.AssignedTo = RoleExecutor
	}
	payload, err := marshalPayload(t.Payload)
	if err != nil {
		return fmt.Errorf("task payload: %w", err)
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO executor_tasks(id,project_id,calculation_run_id,action,payload_json,status,assigned_to,error,created_at,started_at,finished_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.CalculationRunID), t.Action, payload, t.Status, t.AssignedTo,
		nullableStringPtr(t.Error), t.CreatedAt, nullableStringPtr(t.StartedAt), nullableStringPtr(t.FinishedAt))
	return err
}

// ClaimNextOpenTask atomically claims the oldest open task for a role by
// flipping it to running in a single conditional update. Two concurrent
// callers can never receive the same task.
func (r Repo) ClaimNextOpenTask(ctx context.Context, role string) (domain.Task, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	row := r.DB.QueryRowContext(ctx, `
UPDATE executor_tasks
SET status='running', started_at=?
WHERE id = (
    SELECT id FROM executor_tasks
    WHERE status='open' AND assigned_to=?
    ORDER BY created_at ASC, rowid ASC
    LIMIT 1
) AND status='open'
RETURNING id,project_id,calculation_run_id,action,payload_json,status,assigned_to,error,created_at,started_at,finished_at`,
		now, role)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// UpdateTaskStatus does a partial status update. A missing id is a no-op so
// that retried "done" transitions stay idempotent.
func (r Repo) UpdateTaskStatus(ctx context.Context, id, status string, errMsg *string) error {
	fields := []string{"status=?"}
	args := []any{status}
	now := time.Now().UTC().Format(time.RFC3339)
	switch status {
	case "running":
		fields = append(fields, "started_at=?")
		args = append(args, now)
	case "done", "completed", "failed":
		fields = append(fields, "finished_at=?")
		args = append(args, now)
	}
	if errMsg != nil {
		fields = append(fields, "error=?")
		args = append(args, *errMsg)
	}
	args = append(args, id)
	_, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE executor_tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,calculation_run_id,action,payload_json,status,assigned_to,error,created_at,started_at,finished_at FROM executor_tasks WHERE id=?`, id)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	ProjectID        string
	CalculationRunID string
	Status           string
	Action           string
	Limit            int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.CalculationRunID != "" {
		clauses = append(clauses, "calculation_run_id=?")
		args = append(args, f.CalculationRunID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,project_id,calculation_run_id,action,payload_json,status,assigned_to,error,created_at,started_at,finished_at FROM executor_tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM executor_tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(s taskScanner) (domain.Task, error) {
	var t domain.Task
	var runID, errMsg, startedAt, finishedAt sql.NullString
	var payload string
	err := s.Scan(&t.ID, &t.ProjectID, &runID, &t.Action, &payload, &t.Status, &t.AssignedTo, &errMsg, &t.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return t, err
	}
	if runID.Valid {
		t.CalculationRunID = &runID.String
	}
	if errMsg.Valid {
		t.Error = &errMsg.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.String
	}
	t.Payload = map[string]any{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
			return t, fmt.Errorf("task %s payload: %w", t.ID, err)
		}
	}
	return t, nil
}

func scanTaskRow(row *sql.Row) (domain.Task, error)    { return scanTask(row) }
func scanTaskRows(rows *sql.Rows) (domain.Task, error) { return scanTask(rows) }

func marshalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
