package repo

import (
	"context"
	"database/sql"
	"errors"

	"rekenwolk/internal/domain"
)

func (r Repo) InsertCalculation(ctx context.Context, tx *sql.Tx, c domain.Calculation) error {
	if c.ProjectID == "" {
		return errors.New("calculation project_id required")
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO calculaties(id,project_id,kostprijs,verkoopprijs,marge,workflow_status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Kostprijs, c.Verkoopprijs, c.Marge, c.WorkflowStatus, c.CreatedAt, c.UpdatedAt)
	return err
}

// LatestCalculationForProject returns the most recently created calculatie for
// the project, or ErrNotFound.
func (r Repo) LatestCalculationForProject(ctx context.Context, projectID string) (domain.Calculation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,kostprijs,verkoopprijs,marge,workflow_status,created_at,updated_at
FROM calculaties WHERE project_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, projectID)
	var c domain.Calculation
	err := row.Scan(&c.ID, &c.ProjectID, &c.Kostprijs, &c.Verkoopprijs, &c.Marge, &c.WorkflowStatus, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) UpdateCalculationTotals(ctx context.Context, tx *sql.Tx, id string, kostprijs, verkoopprijs, marge float64, workflowStatus, updatedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE calculaties SET kostprijs=?, verkoopprijs=?, marge=?, workflow_status=?, updated_at=? WHERE id=?`,
		kostprijs, verkoopprijs, marge, workflowStatus, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateCalculationStatus(ctx context.Context, tx *sql.Tx, id, workflowStatus, updatedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE calculaties SET workflow_status=?, updated_at=? WHERE id=?`, workflowStatus, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCalculationBaseLines removes the non-installation regels of a
// calculatie (every code not in the E/W discipline ranges).
func (r Repo) DeleteCalculationBaseLines(ctx context.Context, tx *sql.Tx, calculatieID string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `DELETE FROM calculatie_regels WHERE calculatie_id=? AND substr(code,1,1) NOT IN ('E','W')`, calculatieID)
	return err
}

// DeleteCalculationLinesByPrefix removes every regel of a calculatie whose code
// starts with the given prefix. Stage handlers use it to replace their own
// lines instead of appending on re-run.
func (r Repo) DeleteCalculationLinesByPrefix(ctx context.Context, tx *sql.Tx, calculatieID, prefix string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `DELETE FROM calculatie_regels WHERE calculatie_id=? AND code LIKE ? || '%'`, calculatieID, prefix)
	return err
}

func (r Repo) InsertCalculationLines(ctx context.Context, tx *sql.Tx, lines []domain.CalculationLine) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	for _, l := range lines {
		_, err := exec(ctx, `INSERT INTO calculatie_regels(id,calculatie_id,code,omschrijving,eenheid,hoeveelheid,materiaalprijs,arbeidsprijs,prijs,totaal)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			l.ID, l.CalculatieID, l.Code, l.Omschrijving, l.Eenheid, l.Hoeveelheid, l.Materiaalprijs, l.Arbeidsprijs, l.Prijs, l.Totaal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListCalculationLines(ctx context.Context, calculatieID string) ([]domain.CalculationLine, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,calculatie_id,code,omschrijving,eenheid,hoeveelheid,materiaalprijs,arbeidsprijs,prijs,totaal
FROM calculatie_regels WHERE calculatie_id=? ORDER BY code`, calculatieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CalculationLine
	for rows.Next() {
		var l domain.CalculationLine
		if err := rows.Scan(&l.ID, &l.CalculatieID, &l.Code, &l.Omschrijving, &l.Eenheid, &l.Hoeveelheid, &l.Materiaalprijs, &l.Arbeidsprijs, &l.Prijs, &l.Totaal); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// SumCalculationLines returns the total of all regels of a calculatie.
func (r Repo) SumCalculationLines(ctx context.Context, calculatieID string) (float64, error) {
	var sum float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(totaal),0) FROM calculatie_regels WHERE calculatie_id=?`, calculatieID).Scan(&sum)
	return sum, err
}

// ReplaceStabuPosts replaces the project's STABU selection wholesale.
func (r Repo) ReplaceStabuPosts(ctx context.Context, tx *sql.Tx, projectID string, posts []domain.StabuPost) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM stabu_project_posten WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, p := range posts {
		_, err := exec(ctx, `INSERT INTO stabu_project_posten(id,project_id,code,omschrijving,eenheid,normuren,materiaalprijs,arbeidsprijs,hoeveelheid,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.ProjectID, p.Code, p.Omschrijving, p.Eenheid, p.Normuren, p.Materiaalprijs, p.Arbeidsprijs, p.Hoeveelheid, p.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListStabuPosts(ctx context.Context, projectID string) ([]domain.StabuPost, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,code,omschrijving,eenheid,normuren,materiaalprijs,arbeidsprijs,hoeveelheid,created_at
FROM stabu_project_posten WHERE project_id=? ORDER BY code`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StabuPost
	for rows.Next() {
		var p domain.StabuPost
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Code, &p.Omschrijving, &p.Eenheid, &p.Normuren, &p.Materiaalprijs, &p.Arbeidsprijs, &p.Hoeveelheid, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListCatalogByPrefix returns installatie catalog items whose code starts with
// the given discipline prefix (E or W).
func (r Repo) ListCatalogByPrefix(ctx context.Context, prefix string) ([]domain.CatalogItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,omschrijving,eenheid,materiaalprijs,arbeidsprijs
FROM installatie_catalogus WHERE code LIKE ? || '%' ORDER BY code`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CatalogItem
	for rows.Next() {
		var it domain.CatalogItem
		if err := rows.Scan(&it.Code, &it.Omschrijving, &it.Eenheid, &it.Materiaalprijs, &it.Arbeidsprijs); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) UpsertQuantity(ctx context.Context, tx *sql.Tx, q domain.Quantity) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO project_hoeveelheden(project_id,code,hoeveelheid) VALUES (?,?,?)
ON CONFLICT(project_id,code) DO UPDATE SET hoeveelheid=excluded.hoeveelheid`, q.ProjectID, q.Code, q.Hoeveelheid)
	return err
}

// QuantitiesByCode returns the project's measured amounts keyed by code.
func (r Repo) QuantitiesByCode(ctx context.Context, projectID string) (map[string]float64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,hoeveelheid FROM project_hoeveelheden WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]float64{}
	for rows.Next() {
		var code string
		var qty float64
		if err := rows.Scan(&code, &qty); err != nil {
			return nil, err
		}
		res[code] = qty
	}
	return res, rows.Err()
}

func (r Repo) CountProjectDocuments(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_documents WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

func (r Repo) InsertProjectDocument(ctx context.Context, id, projectID, bestandsnaam, soort, createdAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO project_documents(id,project_id,bestandsnaam,soort,created_at) VALUES (?,?,?,?,?)`,
		id, projectID, bestandsnaam, soort, createdAt)
	return err
}

// ReplaceScanResult records the latest scan outcome for a project, dropping
// any earlier one.
func (r Repo) ReplaceScanResult(ctx context.Context, tx *sql.Tx, res domain.ScanResult) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM project_scan_results WHERE project_id=?`, res.ProjectID); err != nil {
		return err
	}
	_, err := exec(ctx, `INSERT INTO project_scan_results(id,project_id,oppervlakte,project_type,documenten,created_at) VALUES (?,?,?,?,?,?)`,
		res.ID, res.ProjectID, res.Oppervlakte, res.ProjectType, res.Documenten, res.CreatedAt)
	return err
}

func (r Repo) GetScanResult(ctx context.Context, projectID string) (domain.ScanResult, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,oppervlakte,project_type,documenten,created_at
FROM project_scan_results WHERE project_id=? ORDER BY created_at DESC LIMIT 1`, projectID)
	var s domain.ScanResult
	err := row.Scan(&s.ID, &s.ProjectID, &s.Oppervlakte, &s.ProjectType, &s.Documenten, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}
