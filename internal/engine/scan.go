package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"rekenwolk/internal/domain"
	"rekenwolk/internal/events"
	"rekenwolk/internal/repo"
)

// handleStartCalculation is the chat/agent entry point of the pipeline. It
// funnels into the same dedup guard as the HTTP route, with the task itself as
// the idempotency key.
func (e Engine) handleStartCalculation(ctx context.Context, t domain.Task) error {
	opts := StartOptions{
		ProjectID:    t.ProjectID,
		SourceTaskID: t.ID,
	}
	if v, ok := t.Payload["scenario_name"].(string); ok {
		opts.ScenarioName = v
	}
	if v, ok := t.Payload["calculation_type"].(string); ok {
		opts.CalculationType = v
	}
	if v, ok := t.Payload["calculation_level"].(string); ok {
		opts.CalculationLevel = v
	}
	if v, ok := t.Payload["fixed_price"].(float64); ok {
		opts.FixedPrice = &v
	}
	res, err := e.StartCalculation(ctx, opts)
	if err != nil {
		return err
	}
	return e.completeStage(ctx, t, StageStartCalculation, "", events.EventPayload{
		"run_id": res.Run.ID,
		"result": res.Status,
	})
}

func (e Engine) handleProjectScan(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageProjectScan, func(ctx context.Context) error {
		p, err := e.Repo.GetProject(ctx, t.ProjectID)
		if errors.Is(err, repo.ErrNotFound) {
			return stageErr("SCAN_NO_PROJECT", "project %s bestaat niet", t.ProjectID)
		}
		if err != nil {
			return err
		}
		if t.CalculationRunID != nil {
			if err := e.Repo.UpdateCalculationRun(ctx, *t.CalculationRunID, "scanning", string(StageProjectScan), e.nowStr()); err != nil {
				return err
			}
		}
		docs, err := e.Repo.CountProjectDocuments(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		oppervlakte := estimateSurface(p)
		if err := e.Repo.ReplaceScanResult(ctx, nil, domain.ScanResult{
			ID:          uuid.New().String(),
			ProjectID:   t.ProjectID,
			Oppervlakte: oppervlakte,
			ProjectType: p.ProjectType,
			Documenten:  docs,
			CreatedAt:   e.nowStr(),
		}); err != nil {
			return fmt.Errorf("write scan result: %w", err)
		}
		// Seed one unit per installation catalog position so the installaties
		// stages have quantities to price.
		for _, prefix := range []string{"E", "W"} {
			items, err := e.Repo.ListCatalogByPrefix(ctx, prefix)
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := e.Repo.UpsertQuantity(ctx, nil, domain.Quantity{ProjectID: t.ProjectID, Code: it.Code, Hoeveelheid: 1}); err != nil {
					return err
				}
			}
		}
		return e.completeStage(ctx, t, StageProjectScan, "scan_completed", events.EventPayload{
			"documenten":  docs,
			"oppervlakte": oppervlakte,
		})
	})
}

// estimateSurface derives a rough floor surface from the project record: 20 m²
// per descriptive word when there is enough text, 120 m² otherwise.
func estimateSurface(p domain.Project) float64 {
	text := strings.TrimSpace(p.Naam + " " + p.Adres + " " + p.Plaatsnaam)
	words := len(strings.Fields(text))
	if words > 2 {
		return float64(words) * 20
	}
	return 120
}

// basisPost is one seed STABU position for a project type.
type basisPost struct {
	code         string
	omschrijving string
	eenheid      string
	hoeveelheid  float64
	prijsEenh    float64
	normuren     float64
}

func basisPosten(projectType string, oppervlakte float64) []basisPost {
	if projectType == "verbouw" {
		return []basisPost{
			{"12.10", "Sloop en stripwerk", "m²", oppervlakte, 55, 1.8},
			{"21.30", "Constructieve aanpassingen", "m²", oppervlakte, 95, 3.0},
			{"24.30", "Gevel en isolatie", "m²", oppervlakte * 0.8, 110, 3.0},
			{"41.10", "Installaties E en W", "stuk", 1, 38000, 100},
			{"51.90", "Afbouw en herindeling", "stuk", 1, 28000, 70},
		}
	}
	return []basisPost{
		{"21.10", "Grondwerk en fundering", "m²", oppervlakte, 85, 2.5},
		{"22.20", "Casco en draagconstructie", "m²", oppervlakte, 195, 6.0},
		{"24.30", "Gevels en kozijnen", "m²", oppervlakte * 0.8, 125, 3.5},
		{"31.40", "Daken en isolatie", "m²", oppervlakte, 75, 2.0},
		{"41.10", "Installaties E en W", "stuk", 1, 45000, 120},
		{"51.90", "Afbouw en oplevering", "stuk", 1, 32000, 80},
	}
}

// arbeidstarief is the flat labour rate per norm hour.
const arbeidstarief = 55.0

func (e Engine) handleGenerateStabu(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageGenerateStabu, func(ctx context.Context) error {
		p, err := e.Repo.GetProject(ctx, t.ProjectID)
		if errors.Is(err, repo.ErrNotFound) {
			return stageErr("STABU_NO_PROJECT", "project %s bestaat niet", t.ProjectID)
		}
		if err != nil {
			return err
		}
		calc, err := e.ensureCalculation(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		oppervlakte := estimateSurface(p)
		if scan, err := e.Repo.GetScanResult(ctx, t.ProjectID); err == nil && scan.Oppervlakte > 0 {
			oppervlakte = scan.Oppervlakte
		}
		now := e.nowStr()
		posten := basisPosten(p.ProjectType, oppervlakte)

		stabu := make([]domain.StabuPost, 0, len(posten))
		lines := make([]domain.CalculationLine, 0, len(posten))
		for _, post := range posten {
			arbeid := post.normuren * arbeidstarief
			prijs := post.prijsEenh + arbeid
			stabu = append(stabu, domain.StabuPost{
				ID:             uuid.New().String(),
				ProjectID:      t.ProjectID,
				Code:           post.code,
				Omschrijving:   post.omschrijving,
				Eenheid:        post.eenheid,
				Normuren:       post.normuren,
				Materiaalprijs: post.prijsEenh,
				Arbeidsprijs:   arbeid,
				Hoeveelheid:    post.hoeveelheid,
				CreatedAt:      now,
			})
			lines = append(lines, domain.CalculationLine{
				ID:             uuid.New().String(),
				CalculatieID:   calc.ID,
				Code:           post.code,
				Omschrijving:   post.omschrijving,
				Eenheid:        post.eenheid,
				Hoeveelheid:    post.hoeveelheid,
				Materiaalprijs: post.prijsEenh,
				Arbeidsprijs:   arbeid,
				Prijs:          prijs,
				Totaal:         prijs * post.hoeveelheid,
			})
		}

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.ReplaceStabuPosts(ctx, tx, t.ProjectID, stabu); err != nil {
			return stageErr("STABU_POSTEN_INSERT_FAILED", "%v", err)
		}
		if err := e.Repo.DeleteCalculationBaseLines(ctx, tx, calc.ID); err != nil {
			return err
		}
		if err := e.Repo.InsertCalculationLines(ctx, tx, lines); err != nil {
			return stageErr("STABU_REGELS_INSERT_FAILED", "%v", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return e.completeStage(ctx, t, StageGenerateStabu, "generating_stabu", events.EventPayload{
			"posten":      len(stabu),
			"oppervlakte": oppervlakte,
		})
	})
}

// ensureCalculation returns the project's latest calculatie, creating an
// initialized one when none exists yet.
func (e Engine) ensureCalculation(ctx context.Context, projectID string) (domain.Calculation, error) {
	calc, err := e.Repo.LatestCalculationForProject(ctx, projectID)
	if err == nil {
		return calc, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Calculation{}, err
	}
	now := e.nowStr()
	calc = domain.Calculation{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		WorkflowStatus: "initialized",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertCalculation(ctx, nil, calc); err != nil {
		return domain.Calculation{}, fmt.Errorf("insert calculatie: %w", err)
	}
	return calc, nil
}
