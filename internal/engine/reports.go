package engine

import (
	"context"
	"math"

	"github.com/google/uuid"

	"rekenwolk/internal/domain"
	"rekenwolk/internal/events"
)

func (e Engine) handleAssumptionsReport(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageAssumptionsReport, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "AANNAMES_NO_CALCULATIE")
		if err != nil {
			return err
		}
		lines, err := e.Repo.ListCalculationLines(ctx, calc.ID)
		if err != nil {
			return err
		}
		var aannames []map[string]any
		for _, l := range lines {
			switch {
			case l.Eenheid == "":
				aannames = append(aannames, map[string]any{
					"code": l.Code, "soort": "eenheid_ontbreekt",
					"toelichting": "Regel zonder eenheid, hoeveelheid aangenomen",
				})
			case l.Hoeveelheid <= 0:
				aannames = append(aannames, map[string]any{
					"code": l.Code, "soort": "hoeveelheid_ontbreekt",
					"toelichting": "Regel zonder hoeveelheid",
				})
			case l.Prijs == 0:
				aannames = append(aannames, map[string]any{
					"code": l.Code, "soort": "stelpost",
					"toelichting": "Regel zonder prijs, als stelpost opgenomen",
				})
			}
		}
		if err := e.Repo.ReplaceReport(ctx, nil, domain.Report{
			ID:         uuid.New().String(),
			ProjectID:  t.ProjectID,
			ReportType: "assumptions",
			Status:     "generated",
			BodyJSON:   mustJSON(map[string]any{"aannames": aannames, "regels": len(lines)}),
			CreatedAt:  e.nowStr(),
		}); err != nil {
			return stageErr("AANNAMES_INSERT_FAILED", "%v", err)
		}
		return e.completeStage(ctx, t, StageAssumptionsReport, "", events.EventPayload{"aannames": len(aannames)})
	})
}

// riskPercentage tiers the risk surcharge by build sum, exclusive boundaries.
func riskPercentage(bouwsom float64) float64 {
	switch {
	case bouwsom > 1_000_000:
		return 12
	case bouwsom > 500_000:
		return 10
	case bouwsom > 250_000:
		return 8
	default:
		return 6
	}
}

// Risk allocation over the standard categories, in percent of the risk amount.
var riskCategorieen = []struct {
	categorie string
	aandeel   float64
}{
	{"organisatie", 25},
	{"uitvoering", 30},
	{"techniek", 25},
	{"omgeving", 20},
}

func (e Engine) handleRiskReport(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageRiskReport, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "RISK_NO_CALCULATIE")
		if err != nil {
			return err
		}
		bouwsom, err := e.Repo.SumCalculationLines(ctx, calc.ID)
		if err != nil {
			return err
		}
		if bouwsom <= 0 {
			return stageErr("RISK_NO_REGELS", "geen regels met totaal voor calculatie %s", calc.ID)
		}
		pct := riskPercentage(bouwsom)
		bedrag := math.Round(bouwsom * pct / 100)

		now := e.nowStr()
		allocs := make([]domain.RiskAllocation, 0, len(riskCategorieen))
		for _, c := range riskCategorieen {
			allocs = append(allocs, domain.RiskAllocation{
				ID:           uuid.New().String(),
				CalculatieID: calc.ID,
				Categorie:    c.categorie,
				Percentage:   c.aandeel,
				Bedrag:       math.Round(bedrag*c.aandeel) / 100,
				Bouwsom:      bouwsom,
				CreatedAt:    now,
			})
		}
		if err := e.Repo.ReplaceRiskAllocations(ctx, nil, calc.ID, allocs); err != nil {
			return stageErr("RISK_INSERT_FAILED", "%v", err)
		}
		if err := e.Repo.ReplaceReport(ctx, nil, domain.Report{
			ID:         uuid.New().String(),
			ProjectID:  t.ProjectID,
			ReportType: "risk",
			Status:     "generated",
			BodyJSON: mustJSON(map[string]any{
				"bouwsom":    bouwsom,
				"percentage": pct,
				"bedrag":     bedrag,
			}),
			CreatedAt: now,
		}); err != nil {
			return stageErr("RISK_REPORT_FAILED", "%v", err)
		}
		return e.completeStage(ctx, t, StageRiskReport, "", events.EventPayload{
			"bouwsom":    bouwsom,
			"percentage": pct,
		})
	})
}

// handleRapportage compiles the final report from everything the earlier
// stages persisted. Terminal.
func (e Engine) handleRapportage(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageRapportage, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "RAPPORT_NO_CALCULATIE")
		if err != nil {
			return err
		}
		lines, err := e.Repo.ListCalculationLines(ctx, calc.ID)
		if err != nil {
			return err
		}
		risico, err := e.Repo.ListRiskAllocations(ctx, calc.ID)
		if err != nil {
			return err
		}
		planning, err := e.Repo.ListPlanning(ctx, calc.ID)
		if err != nil {
			return err
		}
		var totaal float64
		for _, l := range lines {
			totaal += l.Totaal
		}
		if err := e.Repo.ReplaceReport(ctx, nil, domain.Report{
			ID:         uuid.New().String(),
			ProjectID:  t.ProjectID,
			ReportType: "final",
			Status:     "generated",
			BodyJSON: mustJSON(map[string]any{
				"calculatie_id": calc.ID,
				"totaal":        totaal,
				"regels":        len(lines),
				"risico":        len(risico),
				"planning":      len(planning),
			}),
			CreatedAt: e.nowStr(),
		}); err != nil {
			return stageErr("RAPPORT_INSERT_FAILED", "%v", err)
		}
		return e.completeStage(ctx, t, StageRapportage, "", events.EventPayload{"totaal": totaal})
	})
}

func (e Engine) handleFoundationCheck(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageFoundationCheck, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "FOUNDATION_NO_CALCULATIE")
		if err != nil {
			return err
		}
		lines, err := e.Repo.ListCalculationLines(ctx, calc.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return stageErr("FOUNDATION_NO_REGELS", "geen regels voor calculatie %s", calc.ID)
		}
		var hasGrondwerk, hasFundering bool
		for _, l := range lines {
			if len(l.Code) >= 2 {
				switch l.Code[:2] {
				case "21":
					hasGrondwerk = true
				case "22":
					hasFundering = true
				}
			}
		}
		risiconiveau := "laag"
		advies := "Standaard fundering volstaat."
		if !hasGrondwerk || !hasFundering {
			risiconiveau = "hoog"
			advies = "Onvoldoende grondwerk/funderingsposten aangetroffen. Aanvullend onderzoek vereist."
		}
		if err := e.Repo.ReplaceFoundationCheck(ctx, nil, domain.FoundationCheck{
			ID:              uuid.New().String(),
			ProjectID:       t.ProjectID,
			CalculatieID:    calc.ID,
			Risiconiveau:    risiconiveau,
			Advies:          advies,
			GecontroleerdOp: e.nowStr(),
		}); err != nil {
			return stageErr("FOUNDATION_INSERT_FAILED", "%v", err)
		}
		return e.completeStage(ctx, t, StageFoundationCheck, "", events.EventPayload{"risiconiveau": risiconiveau})
	})
}

func (e Engine) handleNenAnalysis(ctx context.Context, t domain.Task) error {
	return e.runStage(ctx, t, StageNenAnalysis, func(ctx context.Context) error {
		calc, err := e.latestCalculation(ctx, t.ProjectID, "NEN_NO_CALCULATIE")
		if err != nil {
			return err
		}
		lines, err := e.Repo.ListCalculationLines(ctx, calc.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return stageErr("NEN_NO_REGELS", "geen regels voor calculatie %s", calc.ID)
		}

		var hasE, hasW bool
		hasUnits := true
		for _, l := range lines {
			if len(l.Code) > 0 {
				switch l.Code[0] {
				case 'E':
					hasE = true
				case 'W':
					hasW = true
				}
			}
			if l.Eenheid == "" || l.Hoeveelheid <= 0 {
				hasUnits = false
			}
		}

		score := 100
		type check struct {
			code, resultaat, toelichting string
		}
		var checks []check
		if hasE {
			checks = append(checks, check{"NEN1010", "ok", "E-installaties aanwezig"})
		} else {
			checks = append(checks, check{"NEN1010", "fail", "Geen E-installaties aangetroffen"})
			score -= 25
		}
		if hasW {
			checks = append(checks, check{"NEN1006", "ok", "W-installaties aanwezig"})
		} else {
			checks = append(checks, check{"NEN1006", "fail", "Geen W-installaties aangetroffen"})
			score -= 25
		}
		if hasUnits {
			checks = append(checks, check{"NEN2580", "ok", "Eenheden en hoeveelheden valide"})
		} else {
			checks = append(checks, check{"NEN2580", "fail", "Onvolledige eenheden/hoeveelheden"})
			score -= 20
		}
		if score < 0 {
			score = 0
		}

		now := e.nowStr()
		results := make([]domain.NenResult, 0, len(checks))
		for _, c := range checks {
			results = append(results, domain.NenResult{
				ID:           uuid.New().String(),
				ProjectID:    t.ProjectID,
				CalculatieID: calc.ID,
				NenCode:      c.code,
				Resultaat:    c.resultaat,
				Toelichting:  c.toelichting,
				Score:        score,
				CreatedAt:    now,
			})
		}
		if err := e.Repo.ReplaceNenResults(ctx, nil, t.ProjectID, results); err != nil {
			return stageErr("NEN_INSERT_FAILED", "%v", err)
		}
		return e.completeStage(ctx, t, StageNenAnalysis, "", events.EventPayload{"score": score})
	})
}
