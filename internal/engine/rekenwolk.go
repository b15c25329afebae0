package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"rekenwolk/internal/domain"
	"rekenwolk/internal/events"
	"rekenwolk/internal/pdf"
	"rekenwolk/internal/repo"
)

// handleStartRekenwolk opens the calculation chain: it verifies the scan and
// STABU stages left something to calculate with, moves the calculatie to
// concept and hands over to derive_quantities.
func (e Engine) handleStartRekenwolk(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageStartRekenwolk, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "REKENWOLK_NO_CALCULATIE")
		if err != nil {
			return err
		}
		posten, err := e.Repo.ListStabuPosts(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		if len(posten) == 0 {
			return stageErr("REKENWOLK_NO_POSTEN", "geen stabu posten voor project %s", t.ProjectID)
		}
		if err := e.Repo.UpdateCalculationStatus(ctx, nil, calc.ID, "concept", e.nowStr()); err != nil {
			return err
		}
		return e.completeStage(ctx, t, StageStartRekenwolk, "calculating", events.EventPayload{
			"calculatie_id": calc.ID,
			"posten":        len(posten),
		})
	})
}

// handleDeriveQuantities joins the STABU posten with the measured project
// quantities into the calculatie's base lines. Real data in, real lines out:
// the stage fails rather than writing placeholders.
func (e Engine) handleDeriveQuantities(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageDeriveQuantities, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "QTY_NO_CALCULATIE")
		if err != nil {
			return err
		}
		posten, err := e.Repo.ListStabuPosts(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		if len(posten) == 0 {
			return stageErr("QTY_NO_STABU_FOR_PROJECT", "geen stabu posten voor project %s", t.ProjectID)
		}
		qty, err := e.Repo.QuantitiesByCode(ctx, t.ProjectID)
		if err != nil {
			return err
		}

		var lines []domain.CalculationLine
		for _, post := range posten {
			hoeveelheid := post.Hoeveelheid
			if override, ok := qty[post.Code]; ok {
				hoeveelheid = override
			}
			if hoeveelheid <= 0 {
				continue
			}
			prijs := post.Materiaalprijs + post.Arbeidsprijs
			lines = append(lines, domain.CalculationLine{
				ID:             uuid.New().String(),
				CalculatieID:   calc.ID,
				Code:           post.Code,
				Omschrijving:   post.Omschrijving,
				Eenheid:        post.Eenheid,
				Hoeveelheid:    hoeveelheid,
				Materiaalprijs: post.Materiaalprijs,
				Arbeidsprijs:   post.Arbeidsprijs,
				Prijs:          prijs,
				Totaal:         prijs * hoeveelheid,
			})
		}
		if len(lines) == 0 {
			return stageErr("QTY_NO_REGELS_BUILT", "geen regels afgeleid voor project %s", t.ProjectID)
		}

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteCalculationBaseLines(ctx, tx, calc.ID); err != nil {
			return err
		}
		if err := e.Repo.InsertCalculationLines(ctx, tx, lines); err != nil {
			return stageErr("QTY_WRITE_REGELS_FAILED", "%v", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return e.completeStage(ctx, t, StageDeriveQuantities, "", events.EventPayload{"regels": len(lines)})
	})
}

func (e Engine) handleInstallatiesE(ctx context.Context, t domain.Task) error {
	return e.handleInstallations(ctx, t, StageInstallatiesE, "E")
}

func (e Engine) handleInstallatiesW(ctx context.Context, t domain.Task) error {
	return e.handleInstallations(ctx, t, StageInstallatiesW, "W")
}

// handleInstallations prices one installation discipline from the catalog and
// the project quantities, replacing the calculatie's lines under that prefix.
func (e Engine) handleInstallations(ctx context.Context, t domain.Task, stage Stage, prefix string) error {
	return e.runStage(ctx, t, stage, func(ctx context.Context) error {
		errPrefix := "INSTALLATIES_" + prefix
		calc, err := e.latestCalculation(ctx, t.ProjectID, errPrefix+"_NO_CALCULATIE")
		if err != nil {
			return err
		}
		catalog, err := e.Repo.ListCatalogByPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if len(catalog) == 0 {
			return stageErr(errPrefix+"_NO_CATALOGUS", "geen catalogusposten met prefix %s", prefix)
		}
		qty, err := e.Repo.QuantitiesByCode(ctx, t.ProjectID)
		if err != nil {
			return err
		}

		var lines []domain.CalculationLine
		for _, it := range catalog {
			hoeveelheid := qty[it.Code]
			if hoeveelheid <= 0 {
				continue
			}
			prijs := it.Materiaalprijs + it.Arbeidsprijs
			lines = append(lines, domain.CalculationLine{
				ID:             uuid.New().String(),
				CalculatieID:   calc.ID,
				Code:           it.Code,
				Omschrijving:   it.Omschrijving,
				Eenheid:        it.Eenheid,
				Hoeveelheid:    hoeveelheid,
				Materiaalprijs: it.Materiaalprijs,
				Arbeidsprijs:   it.Arbeidsprijs,
				Prijs:          prijs,
				Totaal:         prijs * hoeveelheid,
			})
		}

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteCalculationLinesByPrefix(ctx, tx, calc.ID, prefix); err != nil {
			return err
		}
		if err := e.Repo.InsertCalculationLines(ctx, tx, lines); err != nil {
			return stageErr(errPrefix+"_WRITE_REGELS_FAILED", "%v", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return e.completeStage(ctx, t, stage, "", events.EventPayload{"regels": len(lines), "discipline": prefix})
	})
}

// Planning buckets: two-digit code prefixes per fase, with a minimum duration
// and a per-day productivity divisor.
var planningFases = []struct {
	fase     string
	prefixes []string
	floor    int
	divisor  float64
}{
	{"ruwbouw", []string{"21", "22", "23"}, 30, 5},
	{"afbouw", []string{"24", "25", "26"}, 20, 6},
}

func (e Engine) handlePlanning(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StagePlanning, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "PLANNING_NO_CALCULATIE")
		if err != nil {
			return err
		}
		lines, err := e.Repo.ListCalculationLines(ctx, calc.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return stageErr("PLANNING_NO_REGELS", "geen regels voor calculatie %s", calc.ID)
		}

		now := e.nowStr()
		phases := make([]domain.PlanningPhase, 0, len(planningFases))
		for _, f := range planningFases {
			var sum float64
			for _, l := range lines {
				for _, p := range f.prefixes {
					if strings.HasPrefix(l.Code, p) {
						sum += l.Hoeveelheid
						break
					}
				}
			}
			duur := f.floor
			if d := int(math.Ceil(sum / f.divisor)); d > duur {
				duur = d
			}
			phases = append(phases, domain.PlanningPhase{
				ID:           uuid.New().String(),
				CalculatieID: calc.ID,
				Fase:         f.fase,
				Hoeveelheid:  sum,
				DuurDagen:    duur,
				CreatedAt:    now,
			})
		}
		if err := e.Repo.ReplacePlanning(ctx, nil, calc.ID, phases); err != nil {
			return stageErr("PLANNING_WRITE_FAILED", "%v", err)
		}
		return e.completeStage(ctx, t, StagePlanning, "", events.EventPayload{"fases": len(phases)})
	})
}

// margeOpslag is the default markup on cost price when the run carries no
// fixed price.
const margeOpslag = 0.08

// handleFinalize rolls the line totals up onto the calculatie, renders the
// summary PDF and closes the run.
func (e Engine) handleFinalize(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageFinalizeRekenwolk, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "FINALIZE_NO_CALCULATIE")
		if err != nil {
			return err
		}
		kostprijs, err := e.Repo.SumCalculationLines(ctx, calc.ID)
		if err != nil {
			return err
		}
		verkoopprijs := math.Round(kostprijs*(1+margeOpslag)*100) / 100
		if t.CalculationRunID != nil {
			run, err := e.Repo.GetCalculationRun(ctx, *t.CalculationRunID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err == nil && run.FixedPrice != nil {
				verkoopprijs = *run.FixedPrice
			}
		}
		marge := verkoopprijs - kostprijs
		if err := e.Repo.UpdateCalculationTotals(ctx, nil, calc.ID, kostprijs, verkoopprijs, marge, "definitief", e.nowStr()); err != nil {
			return err
		}

		pdfURL := ""
		if e.PDF != nil {
			p, err := e.Repo.GetProject(ctx, t.ProjectID)
			if err != nil {
				return err
			}
			url, err := e.PDF.Render(ctx, pdf.RenderRequest{
				ProjectID:    t.ProjectID,
				ProjectNaam:  p.Naam,
				Kostprijs:    kostprijs,
				Verkoopprijs: verkoopprijs,
				Marge:        marge,
			})
			if err != nil {
				return stageErr("FINALIZE_PDF_FAILED", "%v", err)
			}
			pdfURL = url
		}
		if err := e.Repo.ReplaceReport(ctx, nil, domain.Report{
			ID:         uuid.New().String(),
			ProjectID:  t.ProjectID,
			ReportType: "calculatie",
			Status:     "generated",
			BodyJSON: mustJSON(map[string]any{
				"kostprijs":    kostprijs,
				"verkoopprijs": verkoopprijs,
				"marge":        marge,
			}),
			PdfURL:    pdfURL,
			CreatedAt: e.nowStr(),
		}); err != nil {
			return fmt.Errorf("write calculatie report: %w", err)
		}
		return e.completeStage(ctx, t, StageFinalizeRekenwolk, "done", events.EventPayload{
			"kostprijs":    kostprijs,
			"verkoopprijs": verkoopprijs,
		})
	})
}
