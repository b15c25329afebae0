package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rekenwolk/internal/domain"
)

func (r Repo) InsertCalculationRun(ctx context.Context, tx *sql.Tx, run domain.CalculationRun) error {
	if run.ProjectID == "" {
		return errors.New("run project_id required")
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO calculation_runs(id,project_id,scenario_name,calculation_type,calculation_level,fixed_price,status,current_step,source_task_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ProjectID, nullableStringPtr(run.ScenarioName), nullableStringPtr(run.CalculationType),
		nullableStringPtr(run.CalculationLevel), nullableFloatPtr(run.FixedPrice), run.Status, run.CurrentStep,
		nullableStringPtr(run.SourceTaskID), run.CreatedAt, run.UpdatedAt)
	return err
}

// UpdateCalculationRun applies a partial update of status/current_step.
func (r Repo) UpdateCalculationRun(ctx context.Context, id, status, currentStep, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if currentStep != "" {
		fields = append(fields, "current_step=?")
		args = append(args, currentStep)
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE calculation_runs SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCalculationRun(ctx context.Context, id string) (domain.CalculationRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,scenario_name,calculation_type,calculation_level,fixed_price,status,current_step,source_task_id,created_at,updated_at FROM calculation_runs WHERE id=?`, id)
	return scanRun(row)
}

// FindActiveRunForProject returns the most recent run whose status is in the
// active set, or ErrNotFound. Callers that insert a run based on the outcome
// pass the insert transaction so the check and the insert are one unit.
func (r Repo) FindActiveRunForProject(ctx context.Context, tx *sql.Tx, projectID string, activeStatuses []string) (domain.CalculationRun, error) {
	if len(activeStatuses) == 0 {
		return domain.CalculationRun{}, ErrNotFound
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(activeStatuses)), ",")
	args := []any{projectID}
	for _, s := range activeStatuses {
		args = append(args, s)
	}
	queryRow := r.DB.QueryRowContext
	if tx != nil {
		queryRow = tx.QueryRowContext
	}
	row := queryRow(ctx, fmt.Sprintf(`SELECT id,project_id,scenario_name,calculation_type,calculation_level,fixed_price,status,current_step,source_task_id,created_at,updated_at
FROM calculation_runs WHERE project_id=? AND status IN (%s) ORDER BY created_at DESC, id DESC LIMIT 1`, placeholders), args...)
	return scanRun(row)
}

// FindRunBySourceTask returns the run initiated by the given task, or ErrNotFound.
func (r Repo) FindRunBySourceTask(ctx context.Context, taskID string) (domain.CalculationRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,scenario_name,calculation_type,calculation_level,fixed_price,status,current_step,source_task_id,created_at,updated_at FROM calculation_runs WHERE source_task_id=? LIMIT 1`, taskID)
	return scanRun(row)
}

func (r Repo) ListRuns(ctx context.Context, projectID string, limit int) ([]domain.CalculationRun, error) {
	query := `SELECT id,project_id,scenario_name,calculation_type,calculation_level,fixed_price,status,current_step,source_task_id,created_at,updated_at FROM calculation_runs`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CalculationRun
	for rows.Next() {
		run, err := scanRunValues(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

type runScanner interface {
	Scan(dest ...any) error
}

func scanRunFrom(s runScanner) (domain.CalculationRun, error) {
	var run domain.CalculationRun
	var scenario, calcType, calcLevel, sourceTask sql.NullString
	var fixedPrice sql.NullFloat64
	err := s.Scan(&run.ID, &run.ProjectID, &scenario, &calcType, &calcLevel, &fixedPrice,
		&run.Status, &run.CurrentStep, &sourceTask, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return run, err
	}
	if scenario.Valid {
		run.ScenarioName = &scenario.String
	}
	if calcType.Valid {
		run.CalculationType = &calcType.String
	}
	if calcLevel.Valid {
		run.CalculationLevel = &calcLevel.String
	}
	if fixedPrice.Valid {
		run.FixedPrice = &fixedPrice.Float64
	}
	if sourceTask.Valid {
		run.SourceTaskID = &sourceTask.String
	}
	return run, nil
}

func scanRun(row *sql.Row) (domain.CalculationRun, error) {
	run, err := scanRunFrom(row)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func scanRunValues(rows *sql.Rows) (domain.CalculationRun, error) {
	return scanRunFrom(rows)
}
