package engine

import (
	"testing"

	"rekenwolk/internal/domain"
)

func TestNormalizeAction(t *testing.T) {
	cases := []struct {
		raw  string
		want Stage
	}{
		{"project_scan", "project_scan"},
		{"Project Scan", "project_scan"},
		{"Project  Scan", "project_scan"},
		{"START-REKENWOLK", "start_rekenwolk"},
		{"start rekenwolk!", "start_rekenwolk"},
		{"  planning  ", "planning"},
		{"nen/analysis", "nen_analysis"},
		{"installaties_e", "installaties_e"},
		{"", ""},
		{"---", ""},
	}
	for _, c := range cases {
		if got := NormalizeAction(c.raw); got != c.want {
			t.Errorf("NormalizeAction(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestNormalizeActionIdempotent(t *testing.T) {
	for s := range successors {
		if got := NormalizeAction(string(s)); got != s {
			t.Errorf("NormalizeAction(%q) = %q, niet idempotent", s, got)
		}
	}
}

func TestSuccessorChain(t *testing.T) {
	wantChain := []Stage{
		StageStartRekenwolk,
		StageDeriveQuantities,
		StageInstallatiesE,
		StageInstallatiesW,
		StagePlanning,
		StageFinalizeRekenwolk,
	}
	cur := wantChain[0]
	for i := 1; i < len(wantChain); i++ {
		next, ok := cur.Successor()
		if !ok {
			t.Fatalf("%s heeft geen opvolger", cur)
		}
		if next != wantChain[i] {
			t.Fatalf("opvolger van %s = %s, want %s", cur, next, wantChain[i])
		}
		cur = next
	}
	if _, ok := StageFinalizeRekenwolk.Successor(); ok {
		t.Error("finalize_rekenwolk moet terminaal zijn")
	}
	if _, ok := StageProjectScan.Successor(); ok {
		t.Error("project_scan moet terminaal zijn")
	}
	if next, _ := StageAssumptionsReport.Successor(); next != StageRiskReport {
		t.Errorf("opvolger van assumptions_report = %s", next)
	}
	if next, _ := StageFoundationCheck.Successor(); next != StageNenAnalysis {
		t.Errorf("opvolger van foundation_check = %s", next)
	}
}

func TestRiskPercentage(t *testing.T) {
	cases := []struct {
		bouwsom float64
		want    float64
	}{
		{100_000, 6},
		{250_000, 6},
		{250_001, 8},
		{500_000, 8},
		{500_001, 10},
		{1_000_000, 10},
		{1_000_001, 12},
	}
	for _, c := range cases {
		if got := riskPercentage(c.bouwsom); got != c.want {
			t.Errorf("riskPercentage(%v) = %v, want %v", c.bouwsom, got, c.want)
		}
	}
}

func TestEstimateSurface(t *testing.T) {
	p := domain.Project{Naam: "Woning", Adres: "Teststraat 12", Plaatsnaam: "Amsterdam"}
	if got := estimateSurface(p); got != 80 {
		t.Errorf("estimateSurface = %v, want 80", got)
	}
	// Twee of minder woorden valt terug op het standaardoppervlak.
	p = domain.Project{Naam: "Schuur"}
	if got := estimateSurface(p); got != 120 {
		t.Errorf("estimateSurface fallback = %v, want 120", got)
	}
}

func TestStageError(t *testing.T) {
	err := stageErr("SCAN_NO_PROJECT", "project %s onbekend", "p1")
	if err.Error() != "SCAN_NO_PROJECT: project p1 onbekend" {
		t.Errorf("onverwachte fout: %v", err)
	}
}
