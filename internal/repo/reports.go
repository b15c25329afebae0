package repo

import (
	"context"
	"database/sql"

	"rekenwolk/internal/domain"
)

// ReplacePlanning writes the planning phases for a calculatie, replacing any
// earlier planning instead of appending to it.
func (r Repo) ReplacePlanning(ctx context.Context, tx *sql.Tx, calculatieID string, phases []domain.PlanningPhase) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM project_planning WHERE calculatie_id=?`, calculatieID); err != nil {
		return err
	}
	for _, p := range phases {
		_, err := exec(ctx, `INSERT INTO project_planning(id,calculatie_id,fase,hoeveelheid,duur_dagen,created_at) VALUES (?,?,?,?,?,?)`,
			p.ID, p.CalculatieID, p.Fase, p.Hoeveelheid, p.DuurDagen, p.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListPlanning(ctx context.Context, calculatieID string) ([]domain.PlanningPhase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,calculatie_id,fase,hoeveelheid,duur_dagen,created_at
FROM project_planning WHERE calculatie_id=? ORDER BY fase`, calculatieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanningPhase
	for rows.Next() {
		var p domain.PlanningPhase
		if err := rows.Scan(&p.ID, &p.CalculatieID, &p.Fase, &p.Hoeveelheid, &p.DuurDagen, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceRiskAllocations(ctx context.Context, tx *sql.Tx, calculatieID string, allocs []domain.RiskAllocation) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM project_risico WHERE calculatie_id=?`, calculatieID); err != nil {
		return err
	}
	for _, a := range allocs {
		_, err := exec(ctx, `INSERT INTO project_risico(id,calculatie_id,categorie,percentage,bedrag,bouwsom,created_at) VALUES (?,?,?,?,?,?,?)`,
			a.ID, a.CalculatieID, a.Categorie, a.Percentage, a.Bedrag, a.Bouwsom, a.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListRiskAllocations(ctx context.Context, calculatieID string) ([]domain.RiskAllocation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,calculatie_id,categorie,percentage,bedrag,bouwsom,created_at
FROM project_risico WHERE calculatie_id=? ORDER BY categorie`, calculatieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RiskAllocation
	for rows.Next() {
		var a domain.RiskAllocation
		if err := rows.Scan(&a.ID, &a.CalculatieID, &a.Categorie, &a.Percentage, &a.Bedrag, &a.Bouwsom, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceNenResults(ctx context.Context, tx *sql.Tx, projectID string, results []domain.NenResult) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM project_nen_results WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, n := range results {
		_, err := exec(ctx, `INSERT INTO project_nen_results(id,project_id,calculatie_id,nen_code,resultaat,toelichting,score,created_at) VALUES (?,?,?,?,?,?,?,?)`,
			n.ID, n.ProjectID, n.CalculatieID, n.NenCode, n.Resultaat, n.Toelichting, n.Score, n.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListNenResults(ctx context.Context, projectID string) ([]domain.NenResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,calculatie_id,nen_code,resultaat,toelichting,score,created_at
FROM project_nen_results WHERE project_id=? ORDER BY nen_code`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.NenResult
	for rows.Next() {
		var n domain.NenResult
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.CalculatieID, &n.NenCode, &n.Resultaat, &n.Toelichting, &n.Score, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceFoundationCheck(ctx context.Context, tx *sql.Tx, check domain.FoundationCheck) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM project_fundering_checks WHERE project_id=?`, check.ProjectID); err != nil {
		return err
	}
	_, err := exec(ctx, `INSERT INTO project_fundering_checks(id,project_id,calculatie_id,risiconiveau,advies,gecontroleerd_op) VALUES (?,?,?,?,?,?)`,
		check.ID, check.ProjectID, check.CalculatieID, check.Risiconiveau, check.Advies, check.GecontroleerdOp)
	return err
}

func (r Repo) GetFoundationCheck(ctx context.Context, projectID string) (domain.FoundationCheck, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,calculatie_id,risiconiveau,advies,gecontroleerd_op
FROM project_fundering_checks WHERE project_id=? ORDER BY gecontroleerd_op DESC LIMIT 1`, projectID)
	var c domain.FoundationCheck
	err := row.Scan(&c.ID, &c.ProjectID, &c.CalculatieID, &c.Risiconiveau, &c.Advies, &c.GecontroleerdOp)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ReplaceReport stores a generated report, replacing any earlier report of the
// same type for the project.
func (r Repo) ReplaceReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM project_reports WHERE project_id=? AND report_type=?`, rep.ProjectID, rep.ReportType); err != nil {
		return err
	}
	_, err := exec(ctx, `INSERT INTO project_reports(id,project_id,report_type,status,body_json,pdf_url,created_at) VALUES (?,?,?,?,?,?,?)`,
		rep.ID, rep.ProjectID, rep.ReportType, rep.Status, nullable(rep.BodyJSON), nullable(rep.PdfURL), rep.CreatedAt)
	return err
}

func (r Repo) ListReports(ctx context.Context, projectID string) ([]domain.Report, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,report_type,status,body_json,pdf_url,created_at
FROM project_reports WHERE project_id=? ORDER BY report_type`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		var rep domain.Report
		var body, pdfURL sql.NullString
		if err := rows.Scan(&rep.ID, &rep.ProjectID, &rep.ReportType, &rep.Status, &body, &pdfURL, &rep.CreatedAt); err != nil {
			return nil, err
		}
		rep.BodyJSON = body.String
		rep.PdfURL = pdfURL.String
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r Repo) GetReport(ctx context.Context, projectID, reportType string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,report_type,status,body_json,pdf_url,created_at
FROM project_reports WHERE project_id=? AND report_type=? LIMIT 1`, projectID, reportType)
	var rep domain.Report
	var body, pdfURL sql.NullString
	err := row.Scan(&rep.ID, &rep.ProjectID, &rep.ReportType, &rep.Status, &body, &pdfURL, &rep.CreatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.BodyJSON = body.String
	rep.PdfURL = pdfURL.String
	return rep, nil
}

// StageStart appends a running entry to the project initialization log and
// returns its row id.
func (r Repo) StageStart(ctx context.Context, projectID, module, startedAt string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO project_initialization_log(project_id,module,status,started_at) VALUES (?,?,'running',?)`,
		projectID, module, startedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// StageFinish closes a log entry as done or failed.
func (r Repo) StageFinish(ctx context.Context, logID int64, status, finishedAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE project_initialization_log SET status=?, finished_at=? WHERE id=?`,
		status, finishedAt, logID)
	return err
}

func (r Repo) ListStageLog(ctx context.Context, projectID string) ([]domain.StageLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,module,status,started_at,finished_at
FROM project_initialization_log WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageLog
	for rows.Next() {
		var l domain.StageLog
		var finished sql.NullString
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Module, &l.Status, &l.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			l.FinishedAt = &finished.String
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
